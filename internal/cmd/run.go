package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/sprintfleet/internal/agent"
	"github.com/Iron-Ham/sprintfleet/internal/ai"
	"github.com/Iron-Ham/sprintfleet/internal/budget"
	"github.com/Iron-Ham/sprintfleet/internal/bus"
	"github.com/Iron-Ham/sprintfleet/internal/config"
	"github.com/Iron-Ham/sprintfleet/internal/coordination"
	"github.com/Iron-Ham/sprintfleet/internal/errors"
	"github.com/Iron-Ham/sprintfleet/internal/export"
	"github.com/Iron-Ham/sprintfleet/internal/kanban"
	"github.com/Iron-Ham/sprintfleet/internal/logging"
	"github.com/Iron-Ham/sprintfleet/internal/sprint"
	"github.com/Iron-Ham/sprintfleet/internal/store"
	"github.com/Iron-Ham/sprintfleet/internal/team"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a multi-team sprint experiment",
	Long: `Run sets up the configured teams, seeds their boards, and runs the
configured number of sprints. Between sprints the coordination loop may
lend an agent from a healthy team to a struggling one; loans are returned
at the start of the next sprint.

Examples:
  # Run with the config file and defaults
  sprintfleet run

  # Five sprints, machine-readable output
  sprintfleet run --sprints 5 --json`,
	RunE: runRun,
}

var (
	runSprints int
	runJSON    bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVar(&runSprints, "sprints", 0, "Number of sprints (default: experiment.num_sprints)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the results as JSON")
}

// experimentResult is everything a run produces.
type experimentResult struct {
	Reports  []team.SprintReport `json:"reports"`
	Teams    []team.Status       `json:"teams"`
	Budget   budget.Summary      `json:"budget"`
	Exported *export.Stats       `json:"exported,omitempty"`
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if runSprints > 0 {
		cfg.Experiment.NumSprints = runSprints
	}

	logger, err := logging.NewLogger(logging.Options{
		Dir:   cfg.Logging.Dir,
		Level: cfg.Logging.Level,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := runExperiment(ctx, cfg, logger)
	if res == nil {
		return setupError(runErr)
	}

	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		renderResult(out, cfg, res)
	}
	return runErr
}

// runExperiment wires the stack from cfg and runs every sprint. On a
// mid-run error it returns the partial result alongside the error.
func runExperiment(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*experimentResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.WithComponent("run")

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	b, err := openBus(ctx, cfg.Bus, logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	var exporter *export.Exporter
	if cfg.Export.Enabled {
		sink, err := export.NewKafkaSink(cfg.Export.Brokers, cfg.Export.Topic)
		if err != nil {
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		exporter, err = export.New(b, sink, cfg.Export.BusTopics, export.WithLogger(logger))
		if err != nil {
			_ = sink.Close()
			return nil, err
		}
		if err := exporter.Start(); err != nil {
			_ = sink.Close()
			return nil, fmt.Errorf("start exporter: %w", err)
		}
		defer func() { _ = exporter.Stop() }()
	}

	tracker, err := budget.New(budget.Config{
		SprintDuration:     cfg.Experiment.SprintDuration(),
		NumSprints:         cfg.Experiment.NumSprints,
		OverheadPct:        cfg.Overhead.Pct,
		IterationZeroShare: cfg.Overhead.IterationZeroShare,
		Weights:            cfg.Overhead.Weights,
		MinStepTimeout:     cfg.Overhead.MinStepTimeout(),
	}, budget.WithLogger(logger), budget.WithPublisher(b))
	if err != nil {
		return nil, fmt.Errorf("overhead budget: %w", err)
	}

	model, err := openModel(cfg.AI, logger)
	if err != nil {
		return nil, err
	}

	loopOpts := []coordination.Option{
		coordination.WithCadence(cfg.Coordination.Cadence),
		coordination.WithEnabled(cfg.Coordination.Enabled),
		coordination.WithMidSprintCheckin(cfg.Coordination.MidSprintCheckin),
		coordination.WithLogger(logger),
	}
	if model != nil {
		loopOpts = append(loopOpts, coordination.WithAnalyst(model))
	}
	loop, err := coordination.NewLoop(coordination.Config{Store: st, Bus: b}, loopOpts...)
	if err != nil {
		return nil, err
	}

	wip, err := wipLimits(cfg.Kanban.WIPLimits)
	if err != nil {
		return nil, err
	}

	orchOpts := []team.Option{
		team.WithCoordinator(loop),
		team.WithBudget(tracker),
		team.WithMaxBorrowsPerSprint(cfg.Coordination.MaxBorrowsPerSprint),
		team.WithWIPLimits(wip),
		team.WithNumSprints(cfg.Experiment.NumSprints),
		team.WithLogger(logger),
	}
	if model != nil {
		orchOpts = append(orchOpts, team.WithAgentOptions(agent.WithModel(model)))
	}
	orch, err := team.NewOrchestrator(team.Config{
		Bus:   b,
		Store: st,
		Teams: teamSpecs(cfg.Teams),
		NewRunner: sprint.Factory(st,
			sprint.WithCardsPerAgent(cfg.Experiment.CardsPerAgent),
			sprint.WithAgentWork(model != nil),
			sprint.WithLogger(logger),
		),
	}, orchOpts...)
	if err != nil {
		return nil, err
	}

	err = tracker.Track(ctx, budget.StepIterationZero, 0, func(ctx context.Context) error {
		if err := orch.SetupTeams(ctx); err != nil {
			return err
		}
		return seedBoards(ctx, orch, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("iteration zero: %w", err)
	}
	log.Info("experiment started", "teams", len(cfg.Teams), "sprints", cfg.Experiment.NumSprints)

	reports, runErr := orch.Run(ctx)

	// The run context may be cancelled; the final snapshot still reads.
	statuses, err := orch.Statuses(context.WithoutCancel(ctx))
	if err != nil {
		return nil, errors.Join(runErr, err)
	}

	res := &experimentResult{
		Reports: reports,
		Teams:   statuses,
		Budget:  tracker.Summary(),
	}
	if exporter != nil {
		stats := exporter.Stats()
		res.Exported = &stats
	}
	log.Info("experiment finished", "sprints", len(reports), "spent", res.Budget.Spent.String())
	return res, runErr
}

// setupError marks failures caused by the experiment definition, as
// opposed to infrastructure such as an unreachable Redis.
func setupError(err error) error {
	if errors.IsSemanticError(err) {
		return fmt.Errorf("invalid experiment setup: %w", err)
	}
	return err
}

// openBus builds the configured bus backend.
func openBus(ctx context.Context, cfg config.BusConfig, logger *logging.Logger) (*bus.Bus, error) {
	opts := []bus.Option{
		bus.WithMaxHistory(cfg.MaxHistory),
		bus.WithPollInterval(cfg.PollInterval()),
		bus.WithLogger(logger),
	}
	switch cfg.Backend {
	case "", "memory":
	case "redis":
		backend, err := bus.DialRedis(ctx, cfg.Redis.Addr, bus.RedisConfig{
			Prefix:     cfg.Redis.Prefix,
			TrimSize:   cfg.Redis.TrimSize,
			MaxHistory: cfg.MaxHistory,
		})
		if err != nil {
			return nil, fmt.Errorf("dial redis bus: %w", err)
		}
		opts = append(opts, bus.WithBackend(backend))
	default:
		return nil, fmt.Errorf("unsupported bus backend %q", cfg.Backend)
	}
	return bus.New(opts...), nil
}

// openModel returns the configured model, or nil when AI is disabled.
func openModel(cfg config.AIConfig, logger *logging.Logger) (*ai.Model, error) {
	backend, err := ai.NewFromConfig(cfg)
	if errors.Is(err, ai.ErrDisabled) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ai.NewModel(backend, cfg.Timeout(), logger), nil
}

func wipLimits(raw map[string]int) (map[kanban.Status]int, error) {
	limits := make(map[kanban.Status]int, len(raw))
	for k, v := range raw {
		s, err := kanban.ParseStatus(k)
		if err != nil {
			return nil, fmt.Errorf("kanban.wip_limits: %w", err)
		}
		limits[s] = v
	}
	return limits, nil
}

func teamSpecs(teams []config.TeamConfig) []team.Spec {
	specs := make([]team.Spec, 0, len(teams))
	for _, t := range teams {
		specs = append(specs, team.Spec{
			ID:         t.ID,
			Name:       t.Name,
			Agents:     t.Agents,
			HasBacklog: t.HasBacklog,
		})
	}
	return specs
}

func storyCard(s config.StoryConfig) kanban.Card {
	c := kanban.Card{
		Title:       s.Title,
		StoryPoints: s.StoryPoints,
		Priority:    s.Priority,
		Status:      kanban.StatusBacklog,
	}
	if s.DependsOnTeam != "" {
		c.Metadata = map[string]string{kanban.MetaDependsOnTeam: s.DependsOnTeam}
	}
	return c
}

// seedBoards loads team backlogs and portfolio stories.
func seedBoards(ctx context.Context, orch *team.Orchestrator, cfg *config.Config) error {
	for _, tc := range cfg.Teams {
		t, ok := orch.Team(tc.ID)
		if !ok {
			continue
		}
		for _, s := range tc.Backlog {
			if _, err := t.Board().AddCard(ctx, storyCard(s)); err != nil {
				return fmt.Errorf("seed %s backlog: %w", tc.ID, err)
			}
		}
	}
	for _, s := range cfg.Portfolio {
		if _, err := orch.AddPortfolioStory(ctx, storyCard(s)); err != nil {
			return fmt.Errorf("seed portfolio: %w", err)
		}
	}
	return nil
}
