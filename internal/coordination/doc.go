// Package coordination runs the cross-team coordination cycle.
//
// A full cycle has five steps:
//
//	gather → detect → evaluate → plan → broadcast
//
// Gather builds a [TeamHealth] per team from the card store and agent
// placements. Detect turns cards carrying depends_on_team metadata into
// [Dependency] values. Evaluate and plan delegate to optional [Generator]
// collaborators; when none is configured, or one fails, deterministic
// fallbacks keep the cycle usable offline. The outcome is published on the
// coordination topic, and publish failures never fail the cycle.
//
// Usage:
//
//	loop, err := coordination.NewLoop(coordination.Config{Store: st, Bus: mb},
//	    coordination.WithCadence(2))
//	if err != nil {
//	    return err
//	}
//	if loop.ShouldRun(sprint) {
//	    outcome, err := loop.RunCycle(ctx, input)
//	    ...
//	}
package coordination
