package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/sprintfleet/internal/errors"
	"github.com/Iron-Ham/sprintfleet/internal/kanban"
)

// storeFactories returns every store implementation available in this
// environment. Postgres runs only when SPRINTFLEET_TEST_POSTGRES_DSN is set.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	factories := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cards.db"))
			if err != nil {
				t.Fatalf("OpenSQLite failed: %v", err)
			}
			return s
		},
	}
	if dsn := os.Getenv("SPRINTFLEET_TEST_POSTGRES_DSN"); dsn != "" {
		factories["postgres"] = func(t *testing.T) Store {
			s, err := OpenPostgres(context.Background(), dsn)
			if err != nil {
				t.Fatalf("OpenPostgres failed: %v", err)
			}
			if _, err := s.db.Exec(`TRUNCATE kanban_cards`); err != nil {
				t.Fatalf("truncate failed: %v", err)
			}
			return s
		}
	}
	return factories
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func TestStore_AddAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		added, err := s.AddCard(ctx, kanban.Card{
			Title:       "login page",
			Status:      kanban.StatusReady,
			StoryPoints: 3,
			TeamID:      "alpha",
			Priority:    2,
			Metadata:    map[string]string{"epic": "auth"},
		})
		if err != nil {
			t.Fatalf("AddCard failed: %v", err)
		}
		if added.ID == "" || added.Seq == 0 {
			t.Fatalf("AddCard did not assign id/seq: %+v", added)
		}

		got, err := s.GetCard(ctx, added.ID)
		if err != nil {
			t.Fatalf("GetCard failed: %v", err)
		}
		if got.Title != "login page" || got.StoryPoints != 3 || got.Priority != 2 || got.TeamID != "alpha" {
			t.Errorf("GetCard = %+v", got)
		}
		if got.Metadata["epic"] != "auth" {
			t.Errorf("metadata = %v, want epic=auth", got.Metadata)
		}
		if got.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}

		if _, err := s.AddCard(ctx, kanban.Card{ID: added.ID, Title: "dup", Status: kanban.StatusReady}); err == nil {
			t.Error("duplicate AddCard succeeded")
		}
	})
}

func TestStore_GetUnknown(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetCard(context.Background(), "missing")
		if !errors.Is(err, errors.ErrCardNotFound) {
			t.Errorf("error = %v, want ErrCardNotFound", err)
		}
		err = s.UpdateCardField(context.Background(), "missing", kanban.FieldStatus, kanban.StatusDone)
		if !errors.Is(err, errors.ErrCardNotFound) {
			t.Errorf("update error = %v, want ErrCardNotFound", err)
		}
	})
}

func TestStore_QueriesByTeamAndStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed := []kanban.Card{
			{Title: "a1", Status: kanban.StatusReady, TeamID: "alpha"},
			{Title: "a2", Status: kanban.StatusInProgress, TeamID: "alpha"},
			{Title: "a3", Status: kanban.StatusInProgress, TeamID: "alpha"},
			{Title: "b1", Status: kanban.StatusInProgress, TeamID: "beta"},
			{Title: "p1", Status: kanban.StatusBacklog},
		}
		for _, c := range seed {
			if _, err := s.AddCard(ctx, c); err != nil {
				t.Fatalf("AddCard failed: %v", err)
			}
		}

		tests := []struct {
			name   string
			status kanban.Status
			team   string
			want   int
		}{
			{"alpha in progress", kanban.StatusInProgress, "alpha", 2},
			{"beta in progress", kanban.StatusInProgress, "beta", 1},
			{"all in progress", kanban.StatusInProgress, "", 3},
			{"alpha ready", kanban.StatusReady, "alpha", 1},
			{"gamma ready", kanban.StatusReady, "gamma", 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				n, err := s.WIPCountForTeam(ctx, tt.status, tt.team)
				if err != nil {
					t.Fatalf("WIPCountForTeam failed: %v", err)
				}
				if n != tt.want {
					t.Errorf("WIPCountForTeam = %d, want %d", n, tt.want)
				}
				cards, _ := s.CardsByStatus(ctx, tt.status, tt.team)
				if len(cards) != tt.want {
					t.Errorf("CardsByStatus = %d cards, want %d", len(cards), tt.want)
				}
			})
		}

		all, _ := s.ListCards(ctx, "")
		if len(all) != len(seed) {
			t.Fatalf("ListCards = %d, want %d", len(all), len(seed))
		}
		for i, c := range all {
			if c.Title != seed[i].Title {
				t.Errorf("ListCards[%d] = %s, want creation order %s", i, c.Title, seed[i].Title)
			}
		}
	})
}

func TestStore_UpdateCardField(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, _ := s.AddCard(ctx, kanban.Card{Title: "api", Status: kanban.StatusReady, TeamID: "alpha"})

		updates := []struct {
			field string
			value any
		}{
			{kanban.FieldStatus, kanban.StatusReview},
			{kanban.FieldTeamID, "beta"},
			{kanban.FieldSprint, 3},
			{kanban.FieldPriority, "7"},
			{kanban.MetadataField(kanban.MetaDependsOnTeam), "gamma"},
		}
		for _, u := range updates {
			if err := s.UpdateCardField(ctx, c.ID, u.field, u.value); err != nil {
				t.Fatalf("UpdateCardField(%s) failed: %v", u.field, err)
			}
		}

		got, _ := s.GetCard(ctx, c.ID)
		if got.Status != kanban.StatusReview || got.TeamID != "beta" || got.Sprint != 3 || got.Priority != 7 {
			t.Errorf("after updates = %+v", got)
		}
		if got.DependsOnTeam() != "gamma" {
			t.Errorf("depends_on_team = %q, want gamma", got.DependsOnTeam())
		}

		if err := s.UpdateCardField(ctx, c.ID, "color", "red"); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("unknown field error = %v, want ErrInvalidInput", err)
		}
		if err := s.UpdateCardField(ctx, c.ID, kanban.FieldStatus, "limbo"); !errors.Is(err, errors.ErrInvalidStatus) {
			t.Errorf("bad status error = %v, want ErrInvalidStatus", err)
		}
	})
}

func TestStore_ConcurrentFieldUpdates(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, _ := s.AddCard(ctx, kanban.Card{Title: "shared", Status: kanban.StatusReady})

		const writers = 8
		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				key := kanban.MetadataField(fmt.Sprintf("note_%d", i))
				if err := s.UpdateCardField(ctx, c.ID, key, "done"); err != nil {
					t.Errorf("UpdateCardField(%s) failed: %v", key, err)
				}
			}()
		}
		wg.Wait()

		got, err := s.GetCard(ctx, c.ID)
		if err != nil {
			t.Fatalf("GetCard failed: %v", err)
		}
		for i := range writers {
			if key := fmt.Sprintf("note_%d", i); got.Metadata[key] != "done" {
				t.Errorf("metadata %s lost: %v", key, got.Metadata)
			}
		}
	})
}

func TestStore_CardsWithDependency(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, _ = s.AddCard(ctx, kanban.Card{Title: "plain", Status: kanban.StatusReady, TeamID: "alpha"})
		_, _ = s.AddCard(ctx, kanban.Card{
			Title:    "needs beta",
			Status:   kanban.StatusBlocked,
			TeamID:   "alpha",
			Metadata: map[string]string{kanban.MetaDependsOnTeam: "beta", kanban.MetaDependencyType: "api"},
		})
		_, _ = s.AddCard(ctx, kanban.Card{
			Title:    "empty dependency",
			Status:   kanban.StatusReady,
			TeamID:   "beta",
			Metadata: map[string]string{kanban.MetaDependsOnTeam: ""},
		})

		deps, err := s.CardsWithDependency(ctx)
		if err != nil {
			t.Fatalf("CardsWithDependency failed: %v", err)
		}
		if len(deps) != 1 || deps[0].Title != "needs beta" {
			t.Errorf("CardsWithDependency = %v, want only 'needs beta'", deps)
		}
	})
}

func TestStore_ReturnedCardsAreCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c, _ := s.AddCard(ctx, kanban.Card{Title: "x", Status: kanban.StatusReady, Metadata: map[string]string{"k": "v"}})

	c.Metadata["k"] = "changed"
	got, _ := s.GetCard(ctx, c.ID)
	if got.Metadata["k"] != "v" {
		t.Error("mutating a returned card changed the store")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, DriverMemory, "")
	if err != nil {
		t.Fatalf("Open(memory) failed: %v", err)
	}
	_ = s.Close()

	s, err = Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "x.db"))
	if err != nil {
		t.Fatalf("Open(sqlite) failed: %v", err)
	}
	_ = s.Close()

	if _, err := Open(ctx, "mongo", ""); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Open(mongo) error = %v, want ErrInvalidInput", err)
	}
}

func TestDialect_SelectCard(t *testing.T) {
	if got := sqliteDialect.selectCard(true); strings.Contains(got, "FOR UPDATE") {
		t.Errorf("sqlite select locks rows: %s", got)
	}
	pg := postgresDialect.selectCard(true)
	if !strings.HasSuffix(pg, "WHERE id = $1 FOR UPDATE") {
		t.Errorf("postgres select for update = %s", pg)
	}
	if got := postgresDialect.selectCard(false); strings.Contains(got, "FOR UPDATE") {
		t.Errorf("plain postgres select locks rows: %s", got)
	}
}

func TestDialect_Rebind(t *testing.T) {
	q := `UPDATE t SET a = ?, b = ? WHERE id = ?`
	if got := sqliteDialect.rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %s", got)
	}
	want := `UPDATE t SET a = $1, b = $2 WHERE id = $3`
	if got := postgresDialect.rebind(q); got != want {
		t.Errorf("postgres rebind = %s, want %s", got, want)
	}
}
