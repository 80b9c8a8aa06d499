package coordination

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Iron-Ham/sprintfleet/internal/bus"
	"github.com/Iron-Ham/sprintfleet/internal/errors"
	"github.com/Iron-Ham/sprintfleet/internal/kanban"
	"github.com/Iron-Ham/sprintfleet/internal/logging"
)

// maxBroadcastRecommendations caps recommendations carried in a broadcast.
const maxBroadcastRecommendations = 5

// Config holds the required dependencies for a Loop.
type Config struct {
	// Store is the shared card store (required).
	Store kanban.CardStore
	// Bus receives outcome broadcasts. Nil disables broadcasting.
	Bus Publisher
}

// Loop runs coordination cycles. It is safe for concurrent use, though
// callers normally run one cycle at a time.
type Loop struct {
	store   kanban.CardStore
	bus     Publisher
	analyst Generator
	planner Generator
	cadence int
	enabled bool
	checkin bool
	logger  *logging.Logger

	mu   sync.RWMutex
	last *Outcome
}

// NewLoop creates a Loop. The full cycle and the mid-sprint check-in are
// enabled by default with a cadence of one sprint.
func NewLoop(cfg Config, opts ...Option) (*Loop, error) {
	if cfg.Store == nil {
		return nil, errors.New("coordination: Store is required")
	}

	l := &Loop{
		store:   cfg.Store,
		bus:     cfg.Bus,
		cadence: DefaultCadence,
		enabled: true,
		checkin: true,
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Cadence returns the sprint interval between full cycles.
func (l *Loop) Cadence() int { return l.cadence }

// ShouldRun reports whether a full cycle is due at sprint.
func (l *Loop) ShouldRun(sprint int) bool {
	return l.enabled && sprint%l.cadence == 0
}

// CheckinEnabled reports whether MidSprintCheckin does any work.
func (l *Loop) CheckinEnabled() bool { return l.checkin }

// Last returns the most recent outcome.
func (l *Loop) Last() (Outcome, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return Outcome{}, false
	}
	return *l.last, true
}

// RunCycle runs gather, detect, evaluate, plan and broadcast for one
// sprint. Store errors abort the cycle; collaborator errors fall back to
// the deterministic analysis and plan.
func (l *Loop) RunCycle(ctx context.Context, in Input) (Outcome, error) {
	log := l.logger.WithSprint(in.Sprint)

	health, err := l.Gather(ctx, in)
	if err != nil {
		return Outcome{}, err
	}
	deps, err := l.Detect(ctx)
	if err != nil {
		return Outcome{}, err
	}

	prior, hasPrior := l.Last()
	out := Outcome{Sprint: in.Sprint, Health: health, Dependencies: deps}

	if l.analyst != nil {
		text, err := l.analyst.Generate(ctx, renderAnalysisPrompt(in.Sprint, health, deps, prior, hasPrior))
		if err != nil {
			log.Warn("analyst failed, using fallback analysis", "error", err.Error())
			out.Analysis = fallbackAnalysis(health, deps)
			out.Fallback = true
		} else {
			out.Analysis = text
		}
	} else {
		out.Analysis = fallbackAnalysis(health, deps)
		out.Fallback = true
	}

	planner := l.planner
	if planner == nil {
		planner = l.analyst
	}
	if planner != nil {
		text, err := planner.Generate(ctx, renderPlanPrompt(in.Sprint, out.Analysis, health))
		if err != nil {
			log.Warn("planner failed, using fallback plan", "error", err.Error())
			out.RawPlan = fallbackPlan(health, deps)
			out.Fallback = true
		} else {
			out.RawPlan = text
		}
	} else {
		out.RawPlan = fallbackPlan(health, deps)
		out.Fallback = true
	}
	out.Borrows, out.Recommendations = ParsePlan(out.RawPlan)

	l.mu.Lock()
	saved := out
	l.last = &saved
	l.mu.Unlock()

	log.Info("coordination cycle complete",
		"borrows", len(out.Borrows),
		"recommendations", len(out.Recommendations),
		"dependencies", len(deps),
		"fallback", out.Fallback,
	)

	l.broadcast(ctx, out)
	return out, nil
}

// MidSprintCheckin gathers health and returns recommendations without
// planning or scanning dependencies. It returns nil when check-ins are
// disabled.
func (l *Loop) MidSprintCheckin(ctx context.Context, in Input) ([]string, error) {
	if !l.checkin {
		return nil, nil
	}
	health, err := l.Gather(ctx, in)
	if err != nil {
		return nil, err
	}

	if l.analyst != nil {
		text, err := l.analyst.Generate(ctx, renderCheckinPrompt(in.Sprint, health))
		if err == nil {
			_, recs := ParsePlan(text)
			return recs, nil
		}
		l.logger.WithSprint(in.Sprint).Warn("analyst failed during check-in", "error", err.Error())
	}
	return fallbackCheckin(health), nil
}

// Gather builds a health snapshot per team, in input order.
func (l *Loop) Gather(ctx context.Context, in Input) ([]TeamHealth, error) {
	health := make([]TeamHealth, 0, len(in.Teams))
	index := make(map[string]int, len(in.Teams))
	for _, t := range in.Teams {
		wip, err := l.store.WIPCountForTeam(ctx, kanban.StatusInProgress, t.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "count wip for team %s", t.ID)
		}
		blocked, err := l.store.WIPCountForTeam(ctx, kanban.StatusBlocked, t.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "count blocked for team %s", t.ID)
		}
		index[t.ID] = len(health)
		health = append(health, TeamHealth{
			TeamID:       t.ID,
			Velocity:     t.Velocity,
			WIPCount:     wip,
			BlockedCount: blocked,
		})
	}

	for _, p := range in.Agents {
		if i, ok := index[p.TeamID]; ok {
			health[i].AgentCount++
			if p.Borrowed() {
				health[i].BorrowedIn = append(health[i].BorrowedIn, p.AgentID)
			} else {
				health[i].HomeAgents = append(health[i].HomeAgents, p.AgentID)
			}
		}
		if p.Borrowed() {
			if i, ok := index[p.HomeTeam]; ok {
				health[i].BorrowedOut = append(health[i].BorrowedOut, p.AgentID)
			}
		}
	}
	return health, nil
}

// Detect returns one dependency per card that declares a dependency on
// another team.
func (l *Loop) Detect(ctx context.Context) ([]Dependency, error) {
	cards, err := l.store.CardsWithDependency(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "scan dependencies")
	}

	var deps []Dependency
	for _, c := range cards {
		target := c.DependsOnTeam()
		if c.TeamID == "" || target == "" || target == c.TeamID {
			continue
		}
		d := Dependency{
			SourceTeam: c.TeamID,
			TargetTeam: target,
			CardID:     c.ID,
			Type:       c.Metadata[kanban.MetaDependencyType],
			Status:     c.Metadata[kanban.MetaDependencyStatus],
		}
		if d.Type == "" {
			d.Type = "blocking"
		}
		if d.Status == "" {
			d.Status = "open"
		}
		deps = append(deps, d)
	}
	return deps, nil
}

func (l *Loop) broadcast(ctx context.Context, out Outcome) {
	if l.bus == nil {
		return
	}
	recs := out.Recommendations
	if len(recs) > maxBroadcastRecommendations {
		recs = recs[:maxBroadcastRecommendations]
	}
	_, err := l.bus.Publish(ctx, Sender, Topic, bus.Content{
		"sprint":           out.Sprint,
		"borrow_count":     len(out.Borrows),
		"recommendations":  slices.Clone(recs),
		"dependency_count": len(out.Dependencies),
	})
	if err != nil {
		l.logger.WithSprint(out.Sprint).Debug("coordination outcome not published", "error", err.Error())
	}
}

func writeHealth(sb *strings.Builder, health []TeamHealth) {
	for _, h := range health {
		fmt.Fprintf(sb, "- %s: velocity=%.1f wip=%d blocked=%d agents=%d borrowed_in=%v borrowed_out=%v\n",
			h.TeamID, h.Velocity, h.WIPCount, h.BlockedCount, h.AgentCount, h.BorrowedIn, h.BorrowedOut)
	}
}

func renderAnalysisPrompt(sprint int, health []TeamHealth, deps []Dependency, prior Outcome, hasPrior bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are coordinating several agile teams. Sprint %d has just finished.\n\n", sprint)
	sb.WriteString("## Team health\n")
	writeHealth(&sb, health)

	sb.WriteString("\n## Cross-team dependencies\n")
	if len(deps) == 0 {
		sb.WriteString("none\n")
	}
	for _, d := range deps {
		fmt.Fprintf(&sb, "- %s depends on %s (card %s, %s, %s)\n", d.SourceTeam, d.TargetTeam, d.CardID, d.Type, d.Status)
	}

	if hasPrior {
		fmt.Fprintf(&sb, "\n## Previous cycle (sprint %d)\n", prior.Sprint)
		for _, b := range prior.Borrows {
			sb.WriteString("- " + b.String() + "\n")
		}
		for _, r := range prior.Recommendations {
			sb.WriteString("- RECOMMEND: " + r + "\n")
		}
	}

	sb.WriteString("\nIdentify struggling teams, risky dependencies and whether moving an agent would help.\n")
	return sb.String()
}

func renderPlanPrompt(sprint int, analysis string, health []TeamHealth) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Turn this analysis of sprint %d into actions.\n\n## Analysis\n%s\n\n## Teams\n", sprint, strings.TrimSpace(analysis))
	writeHealth(&sb, health)
	sb.WriteString("\nRespond with one action per line, using only these forms:\n")
	sb.WriteString("BORROW: <agent> from <team> to <team> because <reason>\n")
	sb.WriteString("RECOMMEND: <text>\n")
	return sb.String()
}

func renderCheckinPrompt(sprint int, health []TeamHealth) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sprint %d is halfway through. Current team health:\n", sprint)
	writeHealth(&sb, health)
	sb.WriteString("\nGive short course corrections, one per line, as RECOMMEND: <text>.\n")
	return sb.String()
}
