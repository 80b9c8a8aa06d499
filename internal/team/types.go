package team

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/sprintfleet/internal/agent"
	"github.com/Iron-Ham/sprintfleet/internal/coordination"
	"github.com/Iron-Ham/sprintfleet/internal/errors"
	"github.com/Iron-Ham/sprintfleet/internal/kanban"
)

// Team count bounds.
const (
	MinTeams = 2
	MaxTeams = 7
)

// Topic is the bus topic team lifecycle events are published on.
const Topic = "team"

// PortfolioChannel spans every agent in the experiment.
const PortfolioChannel = "portfolio"

// MetaPortfolio marks cards that entered through the portfolio backlog.
const MetaPortfolio = "portfolio"

// ChannelName returns the bus channel for a team.
func ChannelName(teamID string) string {
	return "team-" + teamID
}

// Spec configures a team before setup.
type Spec struct {
	ID     string   // Unique identifier for the team
	Name   string   // Human-readable team name
	Agents []string // Agent ids based on this team
	// HasBacklog teams own their backlog; the rest receive portfolio
	// stories round-robin.
	HasBacklog bool
}

// Validate checks that s has all required fields.
func (s Spec) Validate() error {
	if s.ID == "" {
		return errors.NewValidationError("team id is required").WithField("id")
	}
	if len(s.Agents) == 0 {
		return errors.NewValidationError("team needs at least one agent").WithField("agents").WithValue(s.ID)
	}
	return nil
}

// DisplayName returns Name, falling back to ID.
func (s Spec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// SprintResult is what one team's runner reports for one sprint.
type SprintResult struct {
	TeamID string `json:"team_id"`
	Sprint int    `json:"sprint"`
	// Velocity is story points completed in the sprint.
	Velocity          float64  `json:"velocity"`
	FeaturesCompleted int      `json:"features_completed"`
	CardsStarted      int      `json:"cards_started"`
	Blocked           int      `json:"blocked"`
	Agents            []string `json:"agents"`
	MessagesRead      int      `json:"messages_read"`
}

// SprintRunner runs one team's work for a sprint. Implementations are
// invoked concurrently with other teams' runners.
type SprintRunner interface {
	RunSprint(ctx context.Context, sprint int) (SprintResult, error)
}

// SprintRunnerFunc adapts a function to SprintRunner.
type SprintRunnerFunc func(ctx context.Context, sprint int) (SprintResult, error)

// RunSprint implements SprintRunner.
func (f SprintRunnerFunc) RunSprint(ctx context.Context, sprint int) (SprintResult, error) {
	return f(ctx, sprint)
}

// Roster returns the agents currently on a team. It reads the registry on
// every call, so borrows are reflected immediately.
type Roster func() []*agent.Agent

// RunnerFactory builds the runner for one team.
type RunnerFactory func(spec Spec, board *kanban.Board, roster Roster) (SprintRunner, error)

// BorrowRequest moves one agent to another team. FromTeam is optional;
// when set, the agent must currently be on it.
type BorrowRequest struct {
	AgentID  string `json:"agent_id"`
	FromTeam string `json:"from_team"`
	ToTeam   string `json:"to_team"`
	Reason   string `json:"reason,omitempty"`
}

func (r BorrowRequest) String() string {
	return fmt.Sprintf("%s: %s -> %s", r.AgentID, r.FromTeam, r.ToTeam)
}

// SprintReport aggregates one orchestrator sprint.
type SprintReport struct {
	Sprint  int            `json:"sprint"`
	Results []SprintResult `json:"results"`
	// Failed lists teams whose runner returned an error or panicked.
	Failed      []string              `json:"failed,omitempty"`
	Returned    int                   `json:"returned"`
	Outcome     *coordination.Outcome `json:"outcome,omitempty"`
	Borrowed    []BorrowRequest       `json:"borrowed,omitempty"`
	Distributed int                   `json:"distributed"`
	Checkin     []string              `json:"checkin,omitempty"`
}

// TotalVelocity sums velocity across teams that reported.
func (r SprintReport) TotalVelocity() float64 {
	total := 0.0
	for _, res := range r.Results {
		total += res.Velocity
	}
	return total
}

// Result returns the result for teamID, if it reported.
func (r SprintReport) Result(teamID string) (SprintResult, bool) {
	for _, res := range r.Results {
		if res.TeamID == teamID {
			return res, true
		}
	}
	return SprintResult{}, false
}

// Status is a read-only snapshot of one team.
type Status struct {
	ID    string
	Name  string
	Phase Phase
	// Agents is the current roster, borrowed agents included.
	Agents     []string
	BorrowedIn []string
	Velocity   float64
	Counts     map[kanban.Status]int
}
