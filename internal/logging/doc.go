// Package logging provides structured JSON logging for sprint experiments.
//
// It wraps log/slog and adds the context every coordination log line needs:
// the team, agent, sprint and emitting component.
//
//	logger, err := logging.NewLogger(logging.Options{Dir: "runs/exp-1", Level: "INFO"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	teamLog := logger.WithTeam("alpha").WithSprint(2)
//	teamLog.Info("card pulled", "card_id", id)
//
// When a directory is given the log is written to sprintfleet.log inside it
// through a [RotatingWriter]. Otherwise it goes to stderr.
//
// Components accept a nil *Logger in their options and fall back to
// [NopLogger].
package logging
