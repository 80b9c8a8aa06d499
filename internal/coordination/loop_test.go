package coordination

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/Iron-Ham/sprintfleet/internal/bus"
	"github.com/Iron-Ham/sprintfleet/internal/kanban"
	"github.com/Iron-Ham/sprintfleet/internal/store"
)

func newTestLoop(t *testing.T, st kanban.CardStore, opts ...Option) *Loop {
	t.Helper()
	l, err := NewLoop(Config{Store: st}, opts...)
	if err != nil {
		t.Fatalf("NewLoop failed: %v", err)
	}
	return l
}

func addCard(t *testing.T, st kanban.CardStore, c kanban.Card) kanban.Card {
	t.Helper()
	added, err := st.AddCard(context.Background(), c)
	if err != nil {
		t.Fatalf("AddCard failed: %v", err)
	}
	return added
}

// twoTeams returns an input where alpha is healthy with three home agents
// and beta is slow with two.
func twoTeams(sprint int) Input {
	return Input{
		Sprint: sprint,
		Teams: []TeamInput{
			{ID: "alpha", Velocity: 10},
			{ID: "beta", Velocity: 2},
		},
		Agents: []Placement{
			{AgentID: "a1", TeamID: "alpha", HomeTeam: "alpha"},
			{AgentID: "a2", TeamID: "alpha", HomeTeam: "alpha"},
			{AgentID: "a3", TeamID: "alpha", HomeTeam: "alpha"},
			{AgentID: "b1", TeamID: "beta", HomeTeam: "beta"},
			{AgentID: "b2", TeamID: "beta", HomeTeam: "beta"},
		},
	}
}

func TestNewLoop_RequiresStore(t *testing.T) {
	if _, err := NewLoop(Config{}); err == nil {
		t.Fatal("NewLoop without store should fail")
	}
}

func TestLoop_ShouldRun(t *testing.T) {
	st := store.NewMemoryStore()

	every2 := newTestLoop(t, st, WithCadence(2))
	for sprint, want := range map[int]bool{1: false, 2: true, 3: false, 4: true} {
		if got := every2.ShouldRun(sprint); got != want {
			t.Errorf("cadence 2: ShouldRun(%d) = %v, want %v", sprint, got, want)
		}
	}

	if newTestLoop(t, st, WithCadence(0)).Cadence() != DefaultCadence {
		t.Error("cadence 0 should be ignored")
	}
	if newTestLoop(t, st, WithEnabled(false)).ShouldRun(1) {
		t.Error("disabled loop should never run")
	}
}

func TestLoop_Gather(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	addCard(t, st, kanban.Card{Title: "w1", Status: kanban.StatusInProgress, TeamID: "alpha"})
	addCard(t, st, kanban.Card{Title: "w2", Status: kanban.StatusInProgress, TeamID: "alpha"})
	addCard(t, st, kanban.Card{Title: "b1", Status: kanban.StatusBlocked, TeamID: "beta"})

	in := twoTeams(1)
	// a3 is on loan to beta.
	in.Agents[2].TeamID = "beta"

	health, err := newTestLoop(t, st).Gather(ctx, in)
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(health) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(health))
	}

	alpha, beta := health[0], health[1]
	if alpha.WIPCount != 2 || alpha.BlockedCount != 0 || alpha.AgentCount != 2 {
		t.Errorf("alpha = %+v", alpha)
	}
	if !slices.Equal(alpha.BorrowedOut, []string{"a3"}) || !slices.Equal(alpha.HomeAgents, []string{"a1", "a2"}) {
		t.Errorf("alpha borrowed out/home = %v/%v", alpha.BorrowedOut, alpha.HomeAgents)
	}
	if beta.BlockedCount != 1 || beta.AgentCount != 3 || !slices.Equal(beta.BorrowedIn, []string{"a3"}) {
		t.Errorf("beta = %+v", beta)
	}
}

func TestLoop_Detect(t *testing.T) {
	st := store.NewMemoryStore()
	dep := addCard(t, st, kanban.Card{
		Title: "needs api", TeamID: "beta",
		Metadata: map[string]string{kanban.MetaDependsOnTeam: "alpha"},
	})
	addCard(t, st, kanban.Card{
		Title: "resolved", TeamID: "gamma",
		Metadata: map[string]string{
			kanban.MetaDependsOnTeam:    "alpha",
			kanban.MetaDependencyType:   "informational",
			kanban.MetaDependencyStatus: "resolved",
		},
	})
	addCard(t, st, kanban.Card{Title: "self", TeamID: "alpha", Metadata: map[string]string{kanban.MetaDependsOnTeam: "alpha"}})
	addCard(t, st, kanban.Card{Title: "portfolio", Metadata: map[string]string{kanban.MetaDependsOnTeam: "alpha"}})

	deps, err := newTestLoop(t, st).Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("got %d dependencies, want 2: %+v", len(deps), deps)
	}
	want := Dependency{SourceTeam: "beta", TargetTeam: "alpha", CardID: dep.ID, Type: "blocking", Status: "open"}
	if deps[0] != want {
		t.Errorf("deps[0] = %+v, want %+v", deps[0], want)
	}
	if deps[1].Open() || deps[1].Type != "informational" {
		t.Errorf("deps[1] = %+v, want resolved informational", deps[1])
	}
}

func TestLoop_RunCycleFallback(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	addCard(t, st, kanban.Card{Title: "stuck", Status: kanban.StatusBlocked, TeamID: "beta"})
	addCard(t, st, kanban.Card{
		Title: "needs api", TeamID: "beta",
		Metadata: map[string]string{kanban.MetaDependsOnTeam: "alpha"},
	})

	mb := bus.New()
	defer mb.Close()
	events := make(chan bus.Message, 2)
	_ = mb.Subscribe(Topic, "watcher", func(_ context.Context, msg bus.Message) error {
		events <- msg
		return nil
	})

	l, err := NewLoop(Config{Store: st, Bus: mb})
	if err != nil {
		t.Fatalf("NewLoop failed: %v", err)
	}
	out, err := l.RunCycle(ctx, twoTeams(1))
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if !out.Fallback {
		t.Error("Fallback should be set without collaborators")
	}
	if !strings.Contains(out.Analysis, "Struggling teams: beta") {
		t.Errorf("Analysis = %q", out.Analysis)
	}
	if !slices.Equal(out.Struggling(), []string{"beta"}) {
		t.Errorf("Struggling() = %v", out.Struggling())
	}
	if len(out.Borrows) != 1 {
		t.Fatalf("Borrows = %+v, want one", out.Borrows)
	}
	if b := out.Borrows[0]; b.AgentID != "a3" || b.FromTeam != "alpha" || b.ToTeam != "beta" {
		t.Errorf("Borrow = %+v", b)
	}
	if len(out.Recommendations) != 2 {
		t.Errorf("Recommendations = %q", out.Recommendations)
	}

	if len(events) != 1 {
		t.Fatalf("got %d broadcasts, want 1", len(events))
	}
	msg := <-events
	if msg.Sender != Sender || msg.Content["borrow_count"] != 1 || msg.Content["dependency_count"] != 1 || msg.Content["sprint"] != 1 {
		t.Errorf("broadcast content = %v", msg.Content)
	}

	last, ok := l.Last()
	if !ok || last.Sprint != 1 {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
}

func TestLoop_NoDonorNoBorrow(t *testing.T) {
	st := store.NewMemoryStore()
	in := twoTeams(1)
	// Alpha keeps only two home agents, so it cannot lend.
	in.Agents = slices.Delete(in.Agents, 2, 3)

	out, err := newTestLoop(t, st).RunCycle(context.Background(), in)
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if len(out.Borrows) != 0 {
		t.Errorf("Borrows = %+v, want none", out.Borrows)
	}
	if len(out.Recommendations) != 1 {
		t.Errorf("Recommendations = %q, want one for beta", out.Recommendations)
	}
}

func TestLoop_CollaboratorsAndPriorInput(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	var analystPrompts []string
	analyst := GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		analystPrompts = append(analystPrompts, prompt)
		return "beta is overloaded", nil
	})
	var planPrompt string
	planner := GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		planPrompt = prompt
		return "BORROW: a1 from alpha to beta because overloaded\nRECOMMEND: split the epic\nnoise", nil
	})

	l := newTestLoop(t, st, WithAnalyst(analyst), WithPlanner(planner))
	out, err := l.RunCycle(ctx, twoTeams(2))
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if out.Fallback || out.Analysis != "beta is overloaded" {
		t.Errorf("outcome = %+v", out)
	}
	if !strings.Contains(planPrompt, "beta is overloaded") {
		t.Errorf("plan prompt should carry the analysis: %q", planPrompt)
	}
	if len(out.Borrows) != 1 || !slices.Equal(out.Recommendations, []string{"split the epic"}) {
		t.Errorf("borrows/recs = %+v / %q", out.Borrows, out.Recommendations)
	}

	if _, err := l.RunCycle(ctx, twoTeams(4)); err != nil {
		t.Fatalf("second RunCycle failed: %v", err)
	}
	if !strings.Contains(analystPrompts[1], "Previous cycle (sprint 2)") || !strings.Contains(analystPrompts[1], "split the epic") {
		t.Errorf("second prompt should include the prior outcome: %q", analystPrompts[1])
	}
}

func TestLoop_AnalystPlansWhenNoPlanner(t *testing.T) {
	calls := 0
	analyst := GeneratorFunc(func(context.Context, string) (string, error) {
		calls++
		return "RECOMMEND: keep going", nil
	})
	out, err := newTestLoop(t, store.NewMemoryStore(), WithAnalyst(analyst)).RunCycle(context.Background(), twoTeams(1))
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("analyst called %d times, want 2", calls)
	}
	if !slices.Equal(out.Recommendations, []string{"keep going"}) {
		t.Errorf("Recommendations = %q", out.Recommendations)
	}
}

func TestLoop_CollaboratorErrorFallsBack(t *testing.T) {
	failing := GeneratorFunc(func(context.Context, string) (string, error) {
		return "", errors.New("model unavailable")
	})
	out, err := newTestLoop(t, store.NewMemoryStore(), WithAnalyst(failing)).RunCycle(context.Background(), twoTeams(1))
	if err != nil {
		t.Fatalf("RunCycle should degrade, got %v", err)
	}
	if !out.Fallback || len(out.Borrows) != 1 {
		t.Errorf("outcome = %+v, want fallback plan with one borrow", out)
	}
}

func TestLoop_BroadcastFailureIsSwallowed(t *testing.T) {
	mb := bus.New()
	mb.Close()

	l, err := NewLoop(Config{Store: store.NewMemoryStore(), Bus: mb})
	if err != nil {
		t.Fatalf("NewLoop failed: %v", err)
	}
	if _, err := l.RunCycle(context.Background(), twoTeams(1)); err != nil {
		t.Errorf("RunCycle with closed bus = %v, want nil", err)
	}
}

func TestLoop_MidSprintCheckin(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	addCard(t, st, kanban.Card{Title: "stuck", Status: kanban.StatusBlocked, TeamID: "alpha"})

	recs, err := newTestLoop(t, st).MidSprintCheckin(ctx, twoTeams(1))
	if err != nil {
		t.Fatalf("MidSprintCheckin failed: %v", err)
	}
	if len(recs) != 2 || !strings.HasPrefix(recs[0], "alpha has 1 blocked") || !strings.HasPrefix(recs[1], "beta is trailing") {
		t.Errorf("recs = %q", recs)
	}

	analyst := GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "dependencies") {
			t.Error("check-in prompt should not include dependencies")
		}
		return "RECOMMEND: alpha should swarm", nil
	})
	recs, err = newTestLoop(t, st, WithAnalyst(analyst)).MidSprintCheckin(ctx, twoTeams(1))
	if err != nil || !slices.Equal(recs, []string{"alpha should swarm"}) {
		t.Errorf("recs = %q, err = %v", recs, err)
	}

	recs, err = newTestLoop(t, st, WithMidSprintCheckin(false)).MidSprintCheckin(ctx, twoTeams(1))
	if err != nil || recs != nil {
		t.Errorf("disabled check-in = %q, %v", recs, err)
	}
}
