package team

import (
	"slices"
	"sync"

	"github.com/Iron-Ham/sprintfleet/internal/coordination"
	"github.com/Iron-Ham/sprintfleet/internal/errors"
)

// AgentRecord is the registry entry for one agent.
type AgentRecord struct {
	ID     string `json:"id"`
	TeamID string `json:"team_id"`
	// OriginalTeamID is set while the agent is on loan and names its home
	// team. Nested borrows keep the first value.
	OriginalTeamID string `json:"original_team_id"`

	// seq orders rosters; it is bumped on every move so a newly arrived
	// agent sorts last.
	seq int64
}

// Borrowed reports whether the agent is away from its home team.
func (r AgentRecord) Borrowed() bool {
	return r.OriginalTeamID != "" && r.OriginalTeamID != r.TeamID
}

// HomeTeam returns the team the agent belongs to.
func (r AgentRecord) HomeTeam() string {
	if r.OriginalTeamID != "" {
		return r.OriginalTeamID
	}
	return r.TeamID
}

// Move describes one agent changing team.
type Move struct {
	AgentID string
	From    string
	To      string
}

// Registry is the single source of truth for team membership. Rosters are
// derived from it on read. Every mutation is atomic.
type Registry struct {
	mu     sync.RWMutex
	teams  []string
	known  map[string]bool
	agents map[string]*AgentRecord
	seq    int64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		known:  make(map[string]bool),
		agents: make(map[string]*AgentRecord),
	}
}

// Reset forgets every team and agent.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teams = nil
	r.known = make(map[string]bool)
	r.agents = make(map[string]*AgentRecord)
	r.seq = 0
}

// AddTeam declares a team.
func (r *Registry) AddTeam(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.known[id] {
		return errors.NewAlreadyExistsError("team", id)
	}
	r.known[id] = true
	r.teams = append(r.teams, id)
	return nil
}

// AddAgent places agent id on team as its home.
func (r *Registry) AddAgent(id, team string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.known[team] {
		return errors.NewNotFoundError("team", team).WithSentinel(errors.ErrTeamNotFound)
	}
	if _, ok := r.agents[id]; ok {
		return errors.NewAlreadyExistsError("agent", id)
	}
	r.seq++
	r.agents[id] = &AgentRecord{ID: id, TeamID: team, seq: r.seq}
	return nil
}

// HasTeam reports whether team was declared.
func (r *Registry) HasTeam(team string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.known[team]
}

// Teams returns declared team ids in declaration order.
func (r *Registry) Teams() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.teams)
}

// Get returns the record for agent id.
func (r *Registry) Get(id string) (AgentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.agents[id]
	if !ok {
		return AgentRecord{}, false
	}
	return *rec, true
}

func (r *Registry) rosterLocked(team string) []*AgentRecord {
	var out []*AgentRecord
	for _, rec := range r.agents {
		if rec.TeamID == team {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b *AgentRecord) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

// Roster returns the ids of agents currently on team, in arrival order.
func (r *Registry) Roster(team string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := r.rosterLocked(team)
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	return ids
}

// Borrowed returns every agent currently on loan.
func (r *Registry) Borrowed() []AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []AgentRecord
	for _, team := range r.teams {
		for _, rec := range r.rosterLocked(team) {
			if rec.Borrowed() {
				out = append(out, *rec)
			}
		}
	}
	return out
}

// Borrow moves agent id to team to. It fails without changing anything
// when the agent is unknown (ErrAgentNotFound), the target team is unknown
// (ErrTeamNotFound), the agent is not on from when from is set, or it is
// already on to (ErrInvalidInput). The home team is only recorded on the
// first hop.
func (r *Registry) Borrow(id, from, to string) (Move, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[id]
	if !ok {
		return Move{}, errors.NewNotFoundError("agent", id).WithSentinel(errors.ErrAgentNotFound)
	}
	if !r.known[to] {
		return Move{}, errors.NewNotFoundError("team", to).WithSentinel(errors.ErrTeamNotFound)
	}
	if rec.TeamID == to {
		return Move{}, errors.NewValidationError("agent is already on the target team").
			WithField("to_team").WithValue(to)
	}
	if from != "" && rec.TeamID != from {
		return Move{}, errors.NewValidationError("agent is not on the source team").
			WithField("from_team").WithValue(from)
	}

	mv := Move{AgentID: id, From: rec.TeamID, To: to}
	if rec.OriginalTeamID == "" {
		rec.OriginalTeamID = rec.TeamID
	}
	rec.TeamID = to
	if rec.OriginalTeamID == to {
		rec.OriginalTeamID = ""
	}
	r.seq++
	rec.seq = r.seq
	return mv, nil
}

// ReturnAll sends every borrowed agent home and clears its loan flag.
func (r *Registry) ReturnAll() []Move {
	r.mu.Lock()
	defer r.mu.Unlock()

	var moves []Move
	for _, team := range r.teams {
		for _, rec := range r.rosterLocked(team) {
			if rec.OriginalTeamID == "" {
				continue
			}
			if rec.Borrowed() {
				moves = append(moves, Move{AgentID: rec.ID, From: rec.TeamID, To: rec.OriginalTeamID})
				rec.TeamID = rec.OriginalTeamID
				r.seq++
				rec.seq = r.seq
			}
			rec.OriginalTeamID = ""
		}
	}
	return moves
}

// Placements returns every agent's current and home team, ordered by team
// then arrival.
func (r *Registry) Placements() []coordination.Placement {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []coordination.Placement
	for _, team := range r.teams {
		for _, rec := range r.rosterLocked(team) {
			out = append(out, coordination.Placement{
				AgentID:  rec.ID,
				TeamID:   rec.TeamID,
				HomeTeam: rec.HomeTeam(),
			})
		}
	}
	return out
}
