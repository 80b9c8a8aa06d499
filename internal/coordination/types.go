package coordination

import (
	"context"
	"fmt"
)

// Generator produces free text for a prompt. Analysts and planners are
// external collaborators; the loop only consumes their text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Placement records where an agent currently works and where it belongs.
type Placement struct {
	AgentID  string
	TeamID   string
	HomeTeam string
}

// Borrowed reports whether the agent is away from its home team.
func (p Placement) Borrowed() bool {
	return p.HomeTeam != "" && p.HomeTeam != p.TeamID
}

// TeamInput is what the orchestrator knows about a team going into a cycle.
type TeamInput struct {
	ID string
	// Velocity is the story points completed in the last sprint.
	Velocity float64
}

// Input is the orchestrator state a coordination cycle reads.
type Input struct {
	Sprint int
	Teams  []TeamInput
	Agents []Placement
}

// TeamHealth is a per-team snapshot computed fresh each cycle.
type TeamHealth struct {
	TeamID       string   `json:"team_id"`
	Velocity     float64  `json:"velocity"`
	WIPCount     int      `json:"wip_count"`
	BlockedCount int      `json:"blocked_count"`
	AgentCount   int      `json:"agent_count"`
	BorrowedIn   []string `json:"borrowed_in"`
	BorrowedOut  []string `json:"borrowed_out"`
	// HomeAgents are agents based on this team that are currently on it.
	HomeAgents []string `json:"home_agents"`
}

// Dependency is a cross-team dependency derived from card metadata.
type Dependency struct {
	SourceTeam string `json:"source_team"`
	TargetTeam string `json:"target_team"`
	CardID     string `json:"card_id"`
	Type       string `json:"dependency_type"`
	Status     string `json:"status"`
}

// Open reports whether the dependency is unresolved.
func (d Dependency) Open() bool {
	return d.Status != "resolved"
}

// Borrow is a planned move of one agent between teams.
type Borrow struct {
	AgentID  string `json:"agent_id"`
	FromTeam string `json:"from_team"`
	ToTeam   string `json:"to_team"`
	Reason   string `json:"reason"`
}

func (b Borrow) String() string {
	s := fmt.Sprintf("BORROW: %s from %s to %s", b.AgentID, b.FromTeam, b.ToTeam)
	if b.Reason != "" {
		s += " because " + b.Reason
	}
	return s
}

// Outcome is the result of one full coordination cycle.
type Outcome struct {
	Sprint          int          `json:"sprint"`
	Health          []TeamHealth `json:"health"`
	Dependencies    []Dependency `json:"dependencies"`
	Analysis        string       `json:"analysis"`
	RawPlan         string       `json:"raw_plan"`
	Borrows         []Borrow     `json:"borrows"`
	Recommendations []string     `json:"recommendations"`
	// Fallback is true when the deterministic analyst or planner was used.
	Fallback bool `json:"fallback"`
}

// Struggling returns the ids of teams flagged as struggling.
func (o Outcome) Struggling() []string {
	return struggling(o.Health)
}
