package team

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/sprintfleet/internal/agent"
	"github.com/Iron-Ham/sprintfleet/internal/budget"
	"github.com/Iron-Ham/sprintfleet/internal/bus"
	"github.com/Iron-Ham/sprintfleet/internal/coordination"
	"github.com/Iron-Ham/sprintfleet/internal/errors"
	"github.com/Iron-Ham/sprintfleet/internal/kanban"
	"github.com/Iron-Ham/sprintfleet/internal/logging"
)

// Sender is the participant id the orchestrator publishes as.
const Sender = "orchestrator"

// Errors returned by orchestrator lifecycle methods.
var (
	ErrNotSetUp     = errors.New("team: SetupTeams has not been called")
	ErrAlreadySetUp = errors.New("team: teams already set up")
)

// Config holds required dependencies for creating an Orchestrator.
type Config struct {
	Bus       *bus.Bus         // Shared message bus for every agent
	Store     kanban.CardStore // Card store backing every team board
	Teams     []Spec           // Team declarations, in display order
	NewRunner RunnerFactory    // Builds each team's sprint runner
}

// Orchestrator runs sprints across several teams that share a bus and a
// card store.
type Orchestrator struct {
	bus       *bus.Bus
	store     kanban.CardStore
	specs     []Spec
	newRunner RunnerFactory

	coordinator *coordination.Loop
	budget      *budget.Tracker
	maxBorrows  int
	wipLimits   map[kanban.Status]int
	numSprints  int
	agentOpts   []agent.Option
	logger      *logging.Logger

	registry  *Registry
	portfolio *kanban.Board

	// mu serializes setup, roster moves with their channel updates, and
	// the distribution cursor.
	mu     sync.Mutex
	ready  bool
	teams  map[string]*Team
	order  []string
	agents map[string]*agent.Agent
	cursor int
}

// NewOrchestrator creates an Orchestrator. Teams are validated and built by
// SetupTeams.
func NewOrchestrator(cfg Config, opts ...Option) (*Orchestrator, error) {
	if cfg.Bus == nil {
		return nil, errors.New("team: Bus is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("team: Store is required")
	}
	if cfg.NewRunner == nil {
		return nil, errors.New("team: NewRunner is required")
	}

	o := &Orchestrator{
		bus:        cfg.Bus,
		store:      cfg.Store,
		specs:      slices.Clone(cfg.Teams),
		newRunner:  cfg.NewRunner,
		maxBorrows: DefaultMaxBorrowsPerSprint,
		numSprints: 1,
		logger:     logging.NopLogger(),
		registry:   NewRegistry(),
		teams:      make(map[string]*Team),
		agents:     make(map[string]*agent.Agent),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent("orchestrator")
	o.portfolio = kanban.NewBoard(cfg.Store, kanban.WithPublisher(cfg.Bus), kanban.WithLogger(o.logger))
	return o, nil
}

// Registry returns the agent membership registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// NumSprints returns how many sprints Run executes.
func (o *Orchestrator) NumSprints() int {
	return o.numSprints
}

// validateSpecs checks team count, per-team fields, unique ids and
// disjoint rosters.
func validateSpecs(specs []Spec) error {
	if n := len(specs); n < MinTeams || n > MaxTeams {
		return errors.NewValidationError(fmt.Sprintf("need between %d and %d teams", MinTeams, MaxTeams)).
			WithField("teams").WithValue(n).WithSentinel(errors.ErrInvalidInput)
	}
	ids := make(map[string]bool, len(specs))
	owner := make(map[string]string)
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
		if ids[s.ID] {
			return errors.NewAlreadyExistsError("team", s.ID)
		}
		ids[s.ID] = true
		for _, a := range s.Agents {
			if prev, ok := owner[a]; ok {
				return errors.NewValidationError(fmt.Sprintf("agent is on teams %s and %s", prev, s.ID)).
					WithField("agents").WithValue(a).WithSentinel(errors.ErrInvalidInput)
			}
			owner[a] = s.ID
		}
	}
	return nil
}

// SetupTeams builds every team: a scoped board, registered agents, the team
// channel, and the runner. It also opens the portfolio channel spanning all
// agents. It succeeds at most once. A failed setup is rolled back so it
// can be retried.
func (o *Orchestrator) SetupTeams(ctx context.Context) error {
	o.mu.Lock()
	agents, err := o.setupLocked(ctx)
	teams := slices.Clone(o.order)
	o.mu.Unlock()
	if err != nil {
		return err
	}

	o.logger.Info("teams set up", "teams", len(teams), "agents", agents)
	o.publish(ctx, bus.Content{
		"event":  "teams_setup",
		"teams":  teams,
		"agents": agents,
	})
	return nil
}

func (o *Orchestrator) setupLocked(ctx context.Context) (_ int, err error) {
	if o.ready {
		return 0, ErrAlreadySetUp
	}
	if err := validateSpecs(o.specs); err != nil {
		return 0, err
	}

	var everyone, channels []string
	defer func() {
		if err != nil {
			o.rollbackLocked(context.WithoutCancel(ctx), channels)
		}
	}()
	for _, spec := range o.specs {
		if err := o.registry.AddTeam(spec.ID); err != nil {
			return 0, err
		}
		board := kanban.NewBoard(o.store,
			kanban.WithTeam(spec.ID),
			kanban.WithWIPLimits(o.wipLimits),
			kanban.WithPublisher(o.bus),
			kanban.WithLogger(o.logger),
		)
		o.teams[spec.ID] = newTeam(spec, board)
		o.order = append(o.order, spec.ID)

		for _, id := range spec.Agents {
			opts := append([]agent.Option{
				agent.WithRole(spec.ID),
				agent.WithLogger(o.logger.WithTeam(spec.ID)),
			}, o.agentOpts...)
			a, err := agent.New(id, o.bus, opts...)
			if err != nil {
				return 0, fmt.Errorf("team %s: %w", spec.ID, err)
			}
			if err := a.Join(ctx); err != nil {
				return 0, fmt.Errorf("team %s: join %s: %w", spec.ID, id, err)
			}
			o.agents[id] = a
			if err := o.registry.AddAgent(id, spec.ID); err != nil {
				return 0, err
			}
			everyone = append(everyone, id)
		}

		meta := map[string]any{"team_id": spec.ID, "name": spec.DisplayName()}
		if err := o.bus.CreateChannel(ChannelName(spec.ID), spec.Agents, meta); err != nil {
			return 0, fmt.Errorf("team %s: channel: %w", spec.ID, err)
		}
		channels = append(channels, ChannelName(spec.ID))
	}
	if err := o.bus.CreateChannel(PortfolioChannel, everyone, map[string]any{"scope": "portfolio"}); err != nil {
		return 0, fmt.Errorf("portfolio channel: %w", err)
	}
	channels = append(channels, PortfolioChannel)

	for _, id := range o.order {
		t := o.teams[id]
		runner, err := o.newRunner(t.spec, t.board, o.roster(id))
		if err != nil {
			return 0, fmt.Errorf("team %s: runner: %w", id, err)
		}
		t.runner = runner
	}

	o.ready = true
	return len(everyone), nil
}

// rollbackLocked undoes a partial setup. Only channels this setup created
// are deleted.
func (o *Orchestrator) rollbackLocked(ctx context.Context, channels []string) {
	for _, name := range channels {
		if err := o.bus.DeleteChannel(name); err != nil {
			o.logger.Debug("rollback: channel not deleted", "channel", name, "error", err.Error())
		}
	}
	for id, a := range o.agents {
		if err := a.Leave(ctx); err != nil {
			o.logger.Warn("rollback: agent did not leave the bus", "agent_id", id, "error", err.Error())
		}
	}
	o.registry.Reset()
	o.teams = make(map[string]*Team)
	o.agents = make(map[string]*agent.Agent)
	o.order = nil
	o.logger.Info("team setup rolled back", "channels", len(channels))
}

// roster returns a Roster that resolves team membership on every call.
func (o *Orchestrator) roster(teamID string) Roster {
	return func() []*agent.Agent {
		ids := o.registry.Roster(teamID)
		out := make([]*agent.Agent, 0, len(ids))
		for _, id := range ids {
			if a, ok := o.agents[id]; ok {
				out = append(out, a)
			}
		}
		return out
	}
}

func (o *Orchestrator) isReady() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ready
}

// Team returns the team with the given id.
func (o *Orchestrator) Team(id string) (*Team, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.teams[id]
	return t, ok
}

// Teams returns every team in declaration order.
func (o *Orchestrator) Teams() []*Team {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Team, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.teams[id])
	}
	return out
}

// Agent returns the agent with the given id.
func (o *Orchestrator) Agent(id string) (*agent.Agent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.agents[id]
	return a, ok
}

// -----------------------------------------------------------------------------
// Borrowing
// -----------------------------------------------------------------------------

// BorrowAgent moves one agent to another team. It returns false without
// changing anything when the agent or target team is unknown, the agent is
// not on req.FromTeam, or it is already on the target team.
func (o *Orchestrator) BorrowAgent(ctx context.Context, req BorrowRequest) bool {
	o.mu.Lock()
	mv, err := o.registry.Borrow(req.AgentID, req.FromTeam, req.ToTeam)
	if err == nil {
		o.moveChannelLocked(mv)
	}
	o.mu.Unlock()

	log := o.logger.WithAgent(req.AgentID)
	if err != nil {
		logError(log, "borrow rejected", err, "from_team", req.FromTeam, "to_team", req.ToTeam)
		return false
	}

	log.Info("agent borrowed", "from_team", mv.From, "to_team", mv.To, "reason", req.Reason)
	o.publish(ctx, bus.Content{
		"event":     "agent_borrowed",
		"agent_id":  mv.AgentID,
		"from_team": mv.From,
		"to_team":   mv.To,
		"reason":    req.Reason,
	})
	return true
}

// ReturnBorrowedAgents sends every loaned agent back to its home team and
// clears its loan flag. It returns the number of agents moved.
func (o *Orchestrator) ReturnBorrowedAgents(ctx context.Context) int {
	o.mu.Lock()
	moves := o.registry.ReturnAll()
	for _, mv := range moves {
		o.moveChannelLocked(mv)
	}
	o.mu.Unlock()

	for _, mv := range moves {
		o.logger.WithAgent(mv.AgentID).Info("agent returned", "from_team", mv.From, "to_team", mv.To)
	}
	if len(moves) > 0 {
		o.publish(ctx, bus.Content{"event": "agents_returned", "count": len(moves)})
	}
	return len(moves)
}

// moveChannelLocked follows a roster move in the team channels. Callers
// hold o.mu.
func (o *Orchestrator) moveChannelLocked(mv Move) {
	if err := o.bus.RemoveFromChannel(ChannelName(mv.From), mv.AgentID); err != nil {
		o.logger.Debug("team channel leave failed", "agent_id", mv.AgentID, "error", err.Error())
	}
	if err := o.bus.AddToChannel(ChannelName(mv.To), mv.AgentID); err != nil {
		o.logger.Debug("team channel join failed", "agent_id", mv.AgentID, "error", err.Error())
	}
}

// applyBorrows applies planned borrows in order until maxBorrows succeed.
func (o *Orchestrator) applyBorrows(ctx context.Context, borrows []coordination.Borrow) []BorrowRequest {
	var applied []BorrowRequest
	for _, b := range borrows {
		if len(applied) >= o.maxBorrows {
			break
		}
		req := BorrowRequest{AgentID: b.AgentID, FromTeam: b.FromTeam, ToTeam: b.ToTeam, Reason: b.Reason}
		if o.BorrowAgent(ctx, req) {
			applied = append(applied, req)
		}
	}
	return applied
}

// -----------------------------------------------------------------------------
// Portfolio
// -----------------------------------------------------------------------------

// AddPortfolioStory queues a story on the portfolio backlog. It stays
// unassigned until DistributePortfolio hands it to a team.
func (o *Orchestrator) AddPortfolioStory(ctx context.Context, c kanban.Card) (kanban.Card, error) {
	c.TeamID = ""
	c.Status = kanban.StatusBacklog
	c = c.Clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[MetaPortfolio] = "true"
	return o.portfolio.AddCard(ctx, c)
}

// DistributePortfolio assigns every unassigned portfolio backlog story to
// the teams without their own backlog, round-robin. The rotation continues
// across calls. It returns the number of stories assigned.
func (o *Orchestrator) DistributePortfolio(ctx context.Context) (int, error) {
	cards, err := o.store.CardsByStatus(ctx, kanban.StatusBacklog, "")
	if err != nil {
		return 0, fmt.Errorf("list portfolio: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	var targets []string
	for _, id := range o.order {
		if !o.teams[id].spec.HasBacklog {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	n := 0
	for _, c := range cards {
		if c.TeamID != "" || c.Metadata[MetaPortfolio] != "true" {
			continue
		}
		target := targets[o.cursor%len(targets)]
		if err := o.store.UpdateCardField(ctx, c.ID, kanban.FieldTeamID, target); err != nil {
			return n, fmt.Errorf("assign %s to %s: %w", c.ID, target, err)
		}
		o.cursor++
		n++
		o.logger.WithTeam(target).Debug("portfolio story assigned", "card_id", c.ID)
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Sprints
// -----------------------------------------------------------------------------

// coordinationInput snapshots velocities and placements for a cycle.
func (o *Orchestrator) coordinationInput(n int) coordination.Input {
	in := coordination.Input{Sprint: n, Agents: o.registry.Placements()}
	for _, t := range o.Teams() {
		in.Teams = append(in.Teams, coordination.TeamInput{ID: t.spec.ID, Velocity: t.Velocity()})
	}
	return in
}

// step runs fn under the budget tracker's timeout for step, or directly
// when no tracker is configured.
func (o *Orchestrator) step(ctx context.Context, step string, n int, fn func(ctx context.Context) error) error {
	if o.budget == nil {
		return fn(ctx)
	}
	return o.budget.Track(ctx, step, n, fn)
}

// RunSprint runs sprint n:
//
//  1. Loaned agents return home.
//  2. When coordination is due, a cycle runs and up to the configured
//     number of its borrows are applied.
//  3. Portfolio stories are distributed.
//  4. Every team's sprint runs concurrently, alongside the mid-sprint
//     check-in when enabled.
//
// Coordination and distribution failures are logged and the sprint goes
// on. A team whose runner fails is listed in the report's Failed and
// contributes no result.
func (o *Orchestrator) RunSprint(ctx context.Context, n int) (SprintReport, error) {
	if !o.isReady() {
		return SprintReport{}, ErrNotSetUp
	}
	log := o.logger.WithSprint(n)
	report := SprintReport{Sprint: n}

	report.Returned = o.ReturnBorrowedAgents(ctx)

	coordinate := o.coordinator != nil && o.coordinator.ShouldRun(n)
	if coordinate {
		var out coordination.Outcome
		err := o.step(ctx, budget.StepCoordination, n, func(ctx context.Context) error {
			var err error
			out, err = o.coordinator.RunCycle(ctx, o.coordinationInput(n))
			return err
		})
		if err != nil {
			log.Warn("coordination cycle failed", "error", err.Error())
		} else {
			report.Outcome = &out
			report.Borrowed = o.applyBorrows(ctx, out.Borrows)
		}
	}

	err := o.step(ctx, budget.StepDistribution, n, func(ctx context.Context) error {
		var err error
		report.Distributed, err = o.DistributePortfolio(ctx)
		return err
	})
	if err != nil {
		log.Warn("portfolio distribution failed", "error", err.Error())
	}

	teams := o.Teams()
	results := make([]SprintResult, len(teams))
	succeeded := make([]bool, len(teams))

	var wg conc.WaitGroup
	for i, t := range teams {
		wg.Go(func() {
			res, err := o.runTeam(ctx, t, n)
			if err != nil {
				logError(log.WithTeam(t.spec.ID), "team sprint failed", err)
				t.finish(SprintResult{}, false)
				return
			}
			t.finish(res, true)
			results[i] = res
			succeeded[i] = true
		})
	}
	if coordinate && o.coordinator.CheckinEnabled() {
		in := o.coordinationInput(n)
		wg.Go(func() {
			err := o.step(ctx, budget.StepCheckin, n, func(ctx context.Context) error {
				var err error
				report.Checkin, err = o.coordinator.MidSprintCheckin(ctx, in)
				return err
			})
			if err != nil {
				log.Warn("mid-sprint check-in failed", "error", err.Error())
			}
		})
	}
	wg.Wait()

	for i, t := range teams {
		if succeeded[i] {
			report.Results = append(report.Results, results[i])
		} else {
			report.Failed = append(report.Failed, t.spec.ID)
		}
	}

	log.Info("sprint complete",
		"velocity", report.TotalVelocity(),
		"teams_reported", len(report.Results),
		"teams_failed", len(report.Failed),
		"borrowed", len(report.Borrowed),
		"returned", report.Returned,
	)
	o.publish(ctx, bus.Content{
		"event":    "sprint_complete",
		"sprint":   n,
		"velocity": report.TotalVelocity(),
		"failed":   slices.Clone(report.Failed),
	})

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// runTeam runs one team's sprint, converting a panic into an error.
func (o *Orchestrator) runTeam(ctx context.Context, t *Team, n int) (SprintResult, error) {
	var res SprintResult
	var err error
	var pc panics.Catcher
	pc.Try(func() { res, err = t.run(ctx, n) })

	panicked := false
	if r := pc.Recovered(); r != nil {
		o.logger.WithTeam(t.spec.ID).Debug("team runner panic stack", "stack", string(r.Stack))
		err = fmt.Errorf("panic: %v", r.Value)
		panicked = true
	}
	if err == nil {
		return res, nil
	}

	// Runners may report which agent failed; keep that and add the team.
	var te *errors.TeamError
	if !errors.As(err, &te) {
		te = errors.NewTeamError("sprint runner failed", err)
	}
	te = te.WithTeamID(t.spec.ID).WithSprint(n)
	switch {
	case panicked:
		te = te.WithSeverity(errors.SeverityCritical)
	case ctx.Err() != nil:
		te = te.WithSeverity(errors.SeverityWarning)
	}
	return SprintResult{}, te
}

// logError logs err at the level matching its severity.
func logError(log *logging.Logger, msg string, err error, args ...any) {
	args = append(args, "error", err.Error(), "retryable", errors.IsRetryable(err))
	switch errors.GetSeverity(err) {
	case errors.SeverityDebug:
		log.Debug(msg, args...)
	case errors.SeverityInfo:
		log.Info(msg, args...)
	case errors.SeverityWarning:
		log.Warn(msg, args...)
	default:
		log.Error(msg, args...)
	}
}

// Run sets up teams if needed, then runs sprints 1..NumSprints. Setup is
// tracked as the iteration-zero step. It stops at the first context error.
func (o *Orchestrator) Run(ctx context.Context) ([]SprintReport, error) {
	if !o.isReady() {
		if err := o.step(ctx, budget.StepIterationZero, 0, o.SetupTeams); err != nil {
			return nil, err
		}
	}

	reports := make([]SprintReport, 0, o.numSprints)
	for n := 1; n <= o.numSprints; n++ {
		report, err := o.RunSprint(ctx, n)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Statuses returns a snapshot of every team in declaration order.
func (o *Orchestrator) Statuses(ctx context.Context) ([]Status, error) {
	var out []Status
	for _, t := range o.Teams() {
		counts, err := t.board.Counts(ctx)
		if err != nil {
			return nil, fmt.Errorf("team %s: %w", t.spec.ID, err)
		}
		st := Status{
			ID:       t.spec.ID,
			Name:     t.spec.DisplayName(),
			Phase:    t.Phase(),
			Agents:   o.registry.Roster(t.spec.ID),
			Velocity: t.Velocity(),
			Counts:   counts,
		}
		for _, id := range st.Agents {
			if rec, ok := o.registry.Get(id); ok && rec.Borrowed() {
				st.BorrowedIn = append(st.BorrowedIn, id)
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// publish emits a lifecycle event on the team topic. Failures are logged.
func (o *Orchestrator) publish(ctx context.Context, content bus.Content) {
	if _, err := o.bus.Publish(ctx, Sender, Topic, content); err != nil {
		o.logger.Debug("team event not published", "error", err.Error())
	}
}
