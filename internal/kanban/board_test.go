package kanban_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/sprintfleet/internal/bus"
	"github.com/Iron-Ham/sprintfleet/internal/errors"
	"github.com/Iron-Ham/sprintfleet/internal/kanban"
	"github.com/Iron-Ham/sprintfleet/internal/store"
)

func newBoard(t *testing.T, opts ...kanban.Option) (*kanban.Board, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return kanban.NewBoard(s, opts...), s
}

func mustAdd(t *testing.T, b *kanban.Board, c kanban.Card) kanban.Card {
	t.Helper()
	added, err := b.AddCard(context.Background(), c)
	if err != nil {
		t.Fatalf("AddCard(%q) failed: %v", c.Title, err)
	}
	return added
}

func status(t *testing.T, s kanban.CardStore, id string) kanban.Status {
	t.Helper()
	c, err := s.GetCard(context.Background(), id)
	if err != nil {
		t.Fatalf("GetCard(%s) failed: %v", id, err)
	}
	return c.Status
}

func TestBoard_AddCardDefaults(t *testing.T) {
	b, _ := newBoard(t, kanban.WithTeam("alpha"))

	c := mustAdd(t, b, kanban.Card{Title: "story", TeamID: "beta"})
	if c.Status != kanban.StatusReady {
		t.Errorf("Status = %q, want ready", c.Status)
	}
	if c.TeamID != "alpha" {
		t.Errorf("TeamID = %q, want board team alpha", c.TeamID)
	}

	if _, err := b.AddCard(context.Background(), kanban.Card{}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("empty title error = %v, want ErrInvalidInput", err)
	}
	if _, err := b.AddCard(context.Background(), kanban.Card{Title: "x", Status: "limbo"}); !errors.Is(err, errors.ErrInvalidStatus) {
		t.Errorf("bad status error = %v, want ErrInvalidStatus", err)
	}
}

func TestBoard_PullReadyTaskAtLimit(t *testing.T) {
	ctx := context.Background()
	b, s := newBoard(t, kanban.WithTeam("alpha"), kanban.WithWIPLimits(map[kanban.Status]int{kanban.StatusInProgress: 1}))

	busy := mustAdd(t, b, kanban.Card{Title: "busy", Status: kanban.StatusInProgress})
	waiting := mustAdd(t, b, kanban.Card{Title: "waiting"})

	got, err := b.PullReadyTask(ctx)
	if err != nil {
		t.Fatalf("PullReadyTask failed: %v", err)
	}
	if got != nil {
		t.Fatalf("PullReadyTask = %+v, want nil at WIP limit", got)
	}
	if status(t, s, busy.ID) != kanban.StatusInProgress || status(t, s, waiting.ID) != kanban.StatusReady {
		t.Error("PullReadyTask mutated cards at WIP limit")
	}
}

func TestBoard_PullReadyTaskOrder(t *testing.T) {
	ctx := context.Background()
	b, _ := newBoard(t, kanban.WithTeam("alpha"))

	mustAdd(t, b, kanban.Card{Title: "low-old", Priority: 1})
	mustAdd(t, b, kanban.Card{Title: "high-old", Priority: 5})
	mustAdd(t, b, kanban.Card{Title: "high-new", Priority: 5})
	mustAdd(t, b, kanban.Card{Title: "backlog", Status: kanban.StatusBacklog, Priority: 9})

	want := []string{"high-old", "high-new", "low-old"}
	for _, title := range want {
		c, err := b.PullReadyTask(ctx)
		if err != nil || c == nil {
			t.Fatalf("PullReadyTask = %v, %v", c, err)
		}
		if c.Title != title {
			t.Errorf("pulled %q, want %q", c.Title, title)
		}
		if c.Status != kanban.StatusInProgress {
			t.Errorf("pulled card status = %q, want in_progress", c.Status)
		}
	}

	c, err := b.PullReadyTask(ctx)
	if err != nil || c != nil {
		t.Errorf("PullReadyTask on empty ready column = %v, %v; want nil, nil", c, err)
	}
}

func TestBoard_PullIsScopedToTeam(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	alpha := kanban.NewBoard(s, kanban.WithTeam("alpha"))
	beta := kanban.NewBoard(s, kanban.WithTeam("beta"))

	mustAdd(t, beta, kanban.Card{Title: "beta work"})

	if c, _ := alpha.PullReadyTask(ctx); c != nil {
		t.Errorf("alpha pulled %q from beta", c.Title)
	}
	if c, _ := beta.PullReadyTask(ctx); c == nil {
		t.Error("beta could not pull its own card")
	}
}

func TestBoard_MoveCardWIPLimit(t *testing.T) {
	ctx := context.Background()
	b, s := newBoard(t, kanban.WithTeam("alpha"), kanban.WithWIPLimits(map[kanban.Status]int{
		kanban.StatusReview: 1,
		kanban.StatusDone:   1, // ignored: done is not WIP limited
	}))

	first := mustAdd(t, b, kanban.Card{Title: "first", Status: kanban.StatusInProgress})
	second := mustAdd(t, b, kanban.Card{Title: "second", Status: kanban.StatusInProgress})

	if err := b.MoveCard(ctx, first.ID, kanban.StatusReview); err != nil {
		t.Fatalf("MoveCard first failed: %v", err)
	}

	err := b.MoveCard(ctx, second.ID, kanban.StatusReview)
	if !errors.Is(err, errors.ErrWIPLimitExceeded) {
		t.Fatalf("MoveCard into full column = %v, want ErrWIPLimitExceeded", err)
	}
	var exhausted *errors.ResourceExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Limit != 1 {
		t.Errorf("error = %#v, want ResourceExhaustedError with limit 1", err)
	}
	if status(t, s, second.ID) != kanban.StatusInProgress {
		t.Error("rejected move changed the card")
	}

	// Moving a card to the column it is already in never trips the limit.
	if err := b.MoveCard(ctx, first.ID, kanban.StatusReview); err != nil {
		t.Errorf("same-column move = %v, want nil", err)
	}

	if err := b.MoveCard(ctx, first.ID, kanban.StatusDone); err != nil {
		t.Fatalf("MoveCard to done failed: %v", err)
	}
	if err := b.MoveCard(ctx, second.ID, kanban.StatusDone); err != nil {
		t.Errorf("done is not WIP limited, got %v", err)
	}
}

func TestBoard_MoveCardErrors(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	alpha := kanban.NewBoard(s, kanban.WithTeam("alpha"))
	beta := kanban.NewBoard(s, kanban.WithTeam("beta"))
	c := mustAdd(t, beta, kanban.Card{Title: "beta card"})

	if err := alpha.MoveCard(ctx, "missing", kanban.StatusDone); !errors.Is(err, errors.ErrCardNotFound) {
		t.Errorf("unknown card = %v, want ErrCardNotFound", err)
	}
	if err := alpha.MoveCard(ctx, c.ID, kanban.StatusDone); !errors.Is(err, errors.ErrCardNotFound) {
		t.Errorf("other team's card = %v, want ErrCardNotFound", err)
	}
	if err := beta.MoveCard(ctx, c.ID, "limbo"); !errors.Is(err, errors.ErrInvalidStatus) {
		t.Errorf("bad status = %v, want ErrInvalidStatus", err)
	}
}

func TestBoard_ConcurrentPullsRespectWIP(t *testing.T) {
	ctx := context.Background()
	const limit = 3
	b, s := newBoard(t, kanban.WithTeam("alpha"), kanban.WithWIPLimits(map[kanban.Status]int{kanban.StatusInProgress: limit}))

	for i := range 20 {
		mustAdd(t, b, kanban.Card{Title: fmt.Sprintf("card-%d", i)})
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	pulled := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := b.PullReadyTask(ctx)
			if err != nil {
				t.Errorf("PullReadyTask failed: %v", err)
				return
			}
			if c != nil {
				mu.Lock()
				pulled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if pulled != limit {
		t.Errorf("pulled %d cards, want exactly %d", pulled, limit)
	}
	n, _ := s.WIPCountForTeam(ctx, kanban.StatusInProgress, "alpha")
	if n != limit {
		t.Errorf("in_progress = %d, exceeds limit %d", n, limit)
	}
}

func TestBoard_SnapshotAndCounts(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	alpha := kanban.NewBoard(s, kanban.WithTeam("alpha"))
	global := kanban.NewBoard(s)

	mustAdd(t, alpha, kanban.Card{Title: "r"})
	mustAdd(t, alpha, kanban.Card{Title: "b", Status: kanban.StatusBlocked})
	mustAdd(t, global, kanban.Card{Title: "portfolio", Status: kanban.StatusBacklog})

	snap, err := alpha.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap[kanban.StatusReady]) != 1 || len(snap[kanban.StatusBlocked]) != 1 {
		t.Errorf("alpha snapshot = %v", snap)
	}
	if len(snap[kanban.StatusBacklog]) != 0 {
		t.Error("team snapshot includes portfolio card")
	}
	if _, ok := snap[kanban.StatusDone]; !ok {
		t.Error("snapshot should include empty columns")
	}

	counts, _ := global.Counts(ctx)
	if counts[kanban.StatusReady] != 1 || counts[kanban.StatusBacklog] != 1 || counts[kanban.StatusBlocked] != 1 {
		t.Errorf("global counts = %v", counts)
	}
}

func TestBoard_PublishesMoves(t *testing.T) {
	ctx := context.Background()
	mb := bus.New()
	defer mb.Close()

	events := make(chan bus.Message, 4)
	_ = mb.Subscribe(kanban.Topic, "watcher", func(_ context.Context, msg bus.Message) error {
		events <- msg
		return nil
	})

	b, _ := newBoard(t, kanban.WithTeam("alpha"), kanban.WithPublisher(mb))
	c := mustAdd(t, b, kanban.Card{Title: "x"})
	if _, err := b.PullReadyTask(ctx); err != nil {
		t.Fatalf("PullReadyTask failed: %v", err)
	}

	select {
	case msg := <-events:
		if msg.String("card_id") != c.ID || msg.String("to") != "in_progress" || msg.String("team_id") != "alpha" {
			t.Errorf("event content = %v", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("no kanban event published")
	}
}

func TestStatus(t *testing.T) {
	if next, ok := kanban.StatusReady.Next(); !ok || next != kanban.StatusInProgress {
		t.Errorf("ready.Next() = %q, %v", next, ok)
	}
	if _, ok := kanban.StatusDone.Next(); ok {
		t.Error("done should have no next column")
	}
	if _, ok := kanban.StatusBlocked.Next(); ok {
		t.Error("blocked should have no next column")
	}
	if s, err := kanban.ParseStatus(" In_Progress "); err != nil || s != kanban.StatusInProgress {
		t.Errorf("ParseStatus = %q, %v", s, err)
	}
	if len(kanban.Statuses()) != 6 {
		t.Errorf("Statuses() = %v", kanban.Statuses())
	}
}
