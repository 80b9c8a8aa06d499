package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/sprintfleet/internal/kanban"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name      string
	seqColumn string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	// rowLock is appended to a read that precedes a write in the same
	// transaction. SQLite needs none: its single connection serializes
	// transactions.
	rowLock string
}

var (
	sqliteDialect   = dialect{name: DriverSQLite, seqColumn: "seq INTEGER PRIMARY KEY AUTOINCREMENT"}
	postgresDialect = dialect{name: DriverPostgres, seqColumn: "seq BIGSERIAL PRIMARY KEY", numbered: true, rowLock: " FOR UPDATE"}
)

// selectCard returns the single-card query, locking the row when
// forUpdate is set.
func (d dialect) selectCard(forUpdate bool) string {
	q := `SELECT ` + cardColumns + ` FROM kanban_cards WHERE id = ?`
	if forUpdate {
		q += d.rowLock
	}
	return d.rebind(q)
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (d dialect) schema() string {
	return `
		CREATE TABLE IF NOT EXISTS kanban_cards (
			` + d.seqColumn + `,
			id           TEXT NOT NULL UNIQUE,
			title        TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			story_points INTEGER NOT NULL DEFAULT 0,
			sprint       INTEGER NOT NULL DEFAULT 0,
			team_id      TEXT NOT NULL DEFAULT '',
			priority     INTEGER NOT NULL DEFAULT 0,
			metadata     TEXT NOT NULL DEFAULT '{}',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_kanban_cards_team_status ON kanban_cards(team_id, status);
	`
}

const cardColumns = `seq, id, title, description, status, story_points, sprint, team_id, priority, metadata, created_at, updated_at`

// SQLStore is a CardStore over database/sql. Use OpenSQLite or
// OpenPostgres to construct one.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema()); err != nil {
		return fmt.Errorf("card store (%s): migrate: %w", s.dialect.name, err)
	}
	return nil
}

// Driver returns the SQL driver name.
func (s *SQLStore) Driver() string {
	return s.dialect.name
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (kanban.Card, error) {
	var (
		c                kanban.Card
		status, meta     string
		created, updated string
	)
	err := row.Scan(&c.Seq, &c.ID, &c.Title, &c.Description, &status, &c.StoryPoints,
		&c.Sprint, &c.TeamID, &c.Priority, &meta, &created, &updated)
	if err != nil {
		return kanban.Card{}, err
	}
	c.Status = kanban.Status(status)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return kanban.Card{}, fmt.Errorf("card %s: decode metadata: %w", c.ID, err)
		}
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return c, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// AddCard implements kanban.CardStore.
func (s *SQLStore) AddCard(ctx context.Context, c kanban.Card) (kanban.Card, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	meta, err := encodeMetadata(c.Metadata)
	if err != nil {
		return kanban.Card{}, fmt.Errorf("card store: encode metadata: %w", err)
	}
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kanban.Card{}, fmt.Errorf("card store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM kanban_cards WHERE id = ?`), c.ID).Scan(&exists)
	if err != nil {
		return kanban.Card{}, fmt.Errorf("card store: add: %w", err)
	}
	if exists > 0 {
		return kanban.Card{}, duplicateCard(c.ID)
	}

	err = tx.QueryRowContext(ctx, s.dialect.rebind(`
		INSERT INTO kanban_cards (id, title, description, status, story_points, sprint, team_id, priority, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`), c.ID, c.Title, c.Description, string(c.Status), c.StoryPoints, c.Sprint, c.TeamID, c.Priority,
		meta, formatTime(c.CreatedAt), formatTime(c.UpdatedAt)).Scan(&c.Seq)
	if err != nil {
		return kanban.Card{}, fmt.Errorf("card store: add: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return kanban.Card{}, fmt.Errorf("card store: commit: %w", err)
	}
	return c.Clone(), nil
}

// GetCard implements kanban.CardStore.
func (s *SQLStore) GetCard(ctx context.Context, id string) (kanban.Card, error) {
	return s.getCard(ctx, s.db, id, false)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLStore) getCard(ctx context.Context, q querier, id string, forUpdate bool) (kanban.Card, error) {
	row := q.QueryRowContext(ctx, s.dialect.selectCard(forUpdate), id)
	c, err := scanCard(row)
	if err == sql.ErrNoRows {
		return kanban.Card{}, kanban.CardNotFound(id)
	}
	if err != nil {
		return kanban.Card{}, fmt.Errorf("card store: get %s: %w", id, err)
	}
	return c, nil
}

func (s *SQLStore) query(ctx context.Context, where string, args ...any) ([]kanban.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM kanban_cards`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("card store: query: %w", err)
	}
	defer rows.Close()

	var out []kanban.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("card store: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CardsByStatus implements kanban.CardStore.
func (s *SQLStore) CardsByStatus(ctx context.Context, status kanban.Status, teamID string) ([]kanban.Card, error) {
	if teamID == "" {
		return s.query(ctx, `status = ?`, string(status))
	}
	return s.query(ctx, `status = ? AND team_id = ?`, string(status), teamID)
}

// WIPCountForTeam implements kanban.CardStore.
func (s *SQLStore) WIPCountForTeam(ctx context.Context, status kanban.Status, teamID string) (int, error) {
	query := `SELECT COUNT(*) FROM kanban_cards WHERE status = ?`
	args := []any{string(status)}
	if teamID != "" {
		query += ` AND team_id = ?`
		args = append(args, teamID)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("card store: count: %w", err)
	}
	return n, nil
}

// CardsWithDependency implements kanban.CardStore.
func (s *SQLStore) CardsWithDependency(ctx context.Context) ([]kanban.Card, error) {
	candidates, err := s.query(ctx, `metadata LIKE ?`, `%"`+kanban.MetaDependsOnTeam+`"%`)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, c := range candidates {
		if c.DependsOnTeam() != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// UpdateCardField implements kanban.CardStore. The row is locked between
// the read and the write, so concurrent updates to one card do not lose
// each other's changes.
func (s *SQLStore) UpdateCardField(ctx context.Context, id, field string, value any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("card store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := s.getCard(ctx, tx, id, true)
	if err != nil {
		return err
	}
	if err := kanban.ApplyField(&c, field, value); err != nil {
		return err
	}
	meta, err := encodeMetadata(c.Metadata)
	if err != nil {
		return fmt.Errorf("card store: encode metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.dialect.rebind(`
		UPDATE kanban_cards
		SET title = ?, description = ?, status = ?, story_points = ?, sprint = ?,
			team_id = ?, priority = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`), c.Title, c.Description, string(c.Status), c.StoryPoints, c.Sprint,
		c.TeamID, c.Priority, meta, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("card store: update %s.%s: %w", id, field, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("card store: commit: %w", err)
	}
	return nil
}

// ListCards implements kanban.CardStore.
func (s *SQLStore) ListCards(ctx context.Context, teamID string) ([]kanban.Card, error) {
	if teamID == "" {
		return s.query(ctx, "")
	}
	return s.query(ctx, `team_id = ?`, teamID)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
