package kanban

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/sprintfleet/internal/errors"
)

// Status is a kanban column.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

// columnOrder is the forward flow of open work. Blocked sits outside it.
var columnOrder = []Status{StatusBacklog, StatusReady, StatusInProgress, StatusReview, StatusDone}

// Statuses returns every column, in board order followed by blocked.
func Statuses() []Status {
	return append(append([]Status(nil), columnOrder...), StatusBlocked)
}

// Valid reports whether s is a known column.
func (s Status) Valid() bool {
	switch s {
	case StatusBacklog, StatusReady, StatusInProgress, StatusReview, StatusDone, StatusBlocked:
		return true
	}
	return false
}

// Next returns the column after s in the forward flow. Done and blocked
// have no successor.
func (s Status) Next() (Status, bool) {
	for i, c := range columnOrder {
		if c == s && i+1 < len(columnOrder) {
			return columnOrder[i+1], true
		}
	}
	return "", false
}

// Open reports whether work in s is still in flight.
func (s Status) Open() bool {
	return s != StatusDone
}

// ParseStatus validates a status string.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", errors.NewValidationError("unknown card status").
			WithField("status").WithValue(v).WithSentinel(errors.ErrInvalidStatus)
	}
	return s, nil
}

// WIPLimited reports whether a WIP limit may be configured for s.
func WIPLimited(s Status) bool {
	return s == StatusInProgress || s == StatusReview
}

// Metadata keys used for cross-team dependency tracking.
const (
	MetaDependsOnTeam    = "depends_on_team"
	MetaDependencyType   = "dependency_type"
	MetaDependencyStatus = "dependency_status"
)

// Card is a unit of work on a board.
type Card struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Status      Status            `json:"status"`
	StoryPoints int               `json:"story_points"`
	Sprint      int               `json:"sprint"`
	TeamID      string            `json:"team_id"`
	Priority    int               `json:"priority"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	// Seq is assigned by the store and records creation order.
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (c Card) Clone() Card {
	c.Metadata = maps.Clone(c.Metadata)
	return c
}

// DependsOnTeam returns the team this card declares a dependency on.
func (c Card) DependsOnTeam() string {
	return c.Metadata[MetaDependsOnTeam]
}

// Updatable card fields for CardStore.UpdateCardField. Metadata entries
// are addressed as "metadata.<key>".
const (
	FieldStatus      = "status"
	FieldTeamID      = "team_id"
	FieldSprint      = "sprint"
	FieldPriority    = "priority"
	FieldStoryPoints = "story_points"
	FieldTitle       = "title"
	FieldDescription = "description"

	metadataPrefix = "metadata."
)

// MetadataField returns the UpdateCardField name for a metadata key.
func MetadataField(key string) string {
	return metadataPrefix + key
}

// SplitMetadataField returns the metadata key when field addresses one.
func SplitMetadataField(field string) (string, bool) {
	key, ok := strings.CutPrefix(field, metadataPrefix)
	return key, ok && key != ""
}

// ApplyField sets field on c to value. It is shared by CardStore
// implementations so every store accepts the same fields and types.
func ApplyField(c *Card, field string, value any) error {
	if key, ok := SplitMetadataField(field); ok {
		if c.Metadata == nil {
			c.Metadata = make(map[string]string)
		}
		c.Metadata[key] = fmt.Sprint(value)
		return nil
	}

	switch field {
	case FieldStatus:
		s, err := ParseStatus(fmt.Sprint(value))
		if err != nil {
			return err
		}
		c.Status = s
	case FieldTeamID:
		c.TeamID = fmt.Sprint(value)
	case FieldTitle:
		c.Title = fmt.Sprint(value)
	case FieldDescription:
		c.Description = fmt.Sprint(value)
	case FieldSprint, FieldPriority, FieldStoryPoints:
		n, err := toInt(value)
		if err != nil {
			return errors.NewValidationError("expected an integer").WithField(field).WithValue(value)
		}
		switch field {
		case FieldSprint:
			c.Sprint = n
		case FieldPriority:
			c.Priority = n
		default:
			c.StoryPoints = n
		}
	default:
		return errors.NewValidationError("unknown card field").WithField(field)
	}
	return nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return strconv.Atoi(fmt.Sprint(v))
	}
}

// CardStore is the shared, keyed card repository every board reads and
// writes. Implementations must be safe for concurrent use. Card lists are
// returned in creation order.
type CardStore interface {
	// AddCard stores c, assigning ID (when empty), Seq and timestamps.
	AddCard(ctx context.Context, c Card) (Card, error)
	// GetCard returns the card with id or an error matching ErrCardNotFound.
	GetCard(ctx context.Context, id string) (Card, error)
	// CardsByStatus returns cards in status. An empty teamID matches all teams.
	CardsByStatus(ctx context.Context, status Status, teamID string) ([]Card, error)
	// WIPCountForTeam counts cards in status. An empty teamID counts all teams.
	WIPCountForTeam(ctx context.Context, status Status, teamID string) (int, error)
	// CardsWithDependency returns cards carrying a depends_on_team entry.
	CardsWithDependency(ctx context.Context) ([]Card, error)
	// UpdateCardField sets one field, see ApplyField for accepted names.
	UpdateCardField(ctx context.Context, id, field string, value any) error
	// ListCards returns every card. An empty teamID matches all teams.
	ListCards(ctx context.Context, teamID string) ([]Card, error)
}

// CardNotFound returns the error stores use for unknown ids.
func CardNotFound(id string) error {
	return errors.NewNotFoundError("card", id).WithSentinel(errors.ErrCardNotFound)
}
