package team

import (
	"context"
	"sync"

	"github.com/Iron-Ham/sprintfleet/internal/kanban"
)

// Phase is where a team is in the sprint cycle.
type Phase string

const (
	// PhaseForming indicates the team is configured but has not run a sprint.
	PhaseForming Phase = "forming"

	// PhaseWorking indicates the team's runner is executing a sprint.
	PhaseWorking Phase = "working"

	// PhaseIdle indicates the team finished its last sprint.
	PhaseIdle Phase = "idle"

	// PhaseFailed indicates the team's last sprint failed.
	PhaseFailed Phase = "failed"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Team binds a team's spec to its board and runner, and remembers the
// outcome of its last sprint.
type Team struct {
	spec   Spec
	board  *kanban.Board
	runner SprintRunner

	mu       sync.RWMutex
	phase    Phase
	last     SprintResult
	hasLast  bool
	velocity float64
}

func newTeam(spec Spec, board *kanban.Board) *Team {
	return &Team{spec: spec, board: board, phase: PhaseForming}
}

// Spec returns the team's configuration.
func (t *Team) Spec() Spec {
	return t.spec
}

// Board returns the team's kanban board.
func (t *Team) Board() *kanban.Board {
	return t.board
}

// Phase returns the team's current phase.
func (t *Team) Phase() Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase
}

func (t *Team) setPhase(p Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = p
}

// Velocity returns the story points completed in the team's last
// successful sprint.
func (t *Team) Velocity() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.velocity
}

// LastResult returns the team's most recent sprint result.
func (t *Team) LastResult() (SprintResult, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, t.hasLast
}

// finish records the outcome of a sprint. A failed sprint keeps the
// previous velocity.
func (t *Team) finish(res SprintResult, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !ok {
		t.phase = PhaseFailed
		return
	}
	t.phase = PhaseIdle
	t.last = res
	t.hasLast = true
	t.velocity = res.Velocity
}

func (t *Team) run(ctx context.Context, sprint int) (SprintResult, error) {
	t.setPhase(PhaseWorking)
	res, err := t.runner.RunSprint(ctx, sprint)
	if err != nil {
		return SprintResult{}, err
	}
	if res.TeamID == "" {
		res.TeamID = t.spec.ID
	}
	if res.Sprint == 0 {
		res.Sprint = sprint
	}
	return res, nil
}
