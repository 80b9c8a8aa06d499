package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Iron-Ham/sprintfleet/internal/budget"
	"github.com/Iron-Ham/sprintfleet/internal/errors"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "coordination.cadence")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Team count bounds.
const (
	MinTeams = 2
	MaxTeams = 7
)

// idRegex validates team and agent ids, which end up in channel names and
// redis keys.
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidBusBackends returns the list of valid bus backends
func ValidBusBackends() []string {
	return []string{"memory", "redis"}
}

// ValidStoreDrivers returns the list of valid card store drivers
func ValidStoreDrivers() []string {
	return []string{"memory", "sqlite", "postgres"}
}

// ValidAIBackends returns the list of valid analyst backends
func ValidAIBackends() []string {
	return []string{"none", "claude", "codex"}
}

// ValidWIPColumns returns the columns that accept a WIP limit
func ValidWIPColumns() []string {
	return []string{"in_progress", "review"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateExperiment()...)
	errors = append(errors, c.validateTeams()...)
	errors = append(errors, c.validatePortfolio()...)
	errors = append(errors, c.validateCoordination()...)
	errors = append(errors, c.validateKanban()...)
	errors = append(errors, c.validateOverhead()...)
	errors = append(errors, c.validateBus()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateExport()...)
	errors = append(errors, c.validateAI()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateExperiment validates the ExperimentConfig
func (c *Config) validateExperiment() []ValidationError {
	var errors []ValidationError

	if c.Experiment.NumSprints < 1 {
		errors = append(errors, ValidationError{
			Field:   "experiment.num_sprints",
			Value:   c.Experiment.NumSprints,
			Message: "must be at least 1",
		})
	}
	if c.Experiment.SprintDurationMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "experiment.sprint_duration_minutes",
			Value:   c.Experiment.SprintDurationMinutes,
			Message: "must be at least 1",
		})
	}
	if c.Experiment.CardsPerAgent < 1 {
		errors = append(errors, ValidationError{
			Field:   "experiment.cards_per_agent",
			Value:   c.Experiment.CardsPerAgent,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateTeams checks team count, unique ids and disjoint rosters
func (c *Config) validateTeams() []ValidationError {
	var errors []ValidationError

	if n := len(c.Teams); n < MinTeams || n > MaxTeams {
		errors = append(errors, ValidationError{
			Field:   "teams",
			Value:   n,
			Message: fmt.Sprintf("must declare between %d and %d teams", MinTeams, MaxTeams),
		})
	}

	teamIDs := make(map[string]bool, len(c.Teams))
	agentHome := make(map[string]string)
	for i, t := range c.Teams {
		prefix := fmt.Sprintf("teams[%d]", i)

		switch {
		case !idRegex.MatchString(t.ID):
			errors = append(errors, ValidationError{
				Field:   prefix + ".id",
				Value:   t.ID,
				Message: "must start with a letter or digit and contain only letters, digits, '.', '_' or '-'",
			})
		case teamIDs[t.ID]:
			errors = append(errors, ValidationError{
				Field:   prefix + ".id",
				Value:   t.ID,
				Message: "duplicate team id",
			})
		}
		teamIDs[t.ID] = true

		if len(t.Agents) == 0 {
			errors = append(errors, ValidationError{
				Field:   prefix + ".agents",
				Value:   0,
				Message: "must have at least one agent",
			})
		}
		for j, a := range t.Agents {
			field := fmt.Sprintf("%s.agents[%d]", prefix, j)
			if !idRegex.MatchString(a) {
				errors = append(errors, ValidationError{
					Field:   field,
					Value:   a,
					Message: "invalid agent id",
				})
				continue
			}
			if home, ok := agentHome[a]; ok {
				errors = append(errors, ValidationError{
					Field:   field,
					Value:   a,
					Message: fmt.Sprintf("agent already belongs to team %q", home),
				})
				continue
			}
			agentHome[a] = t.ID
		}

		errors = append(errors, validateStories(t.Backlog, prefix+".backlog")...)
	}

	for i, t := range c.Teams {
		for j, s := range t.Backlog {
			if s.DependsOnTeam != "" && !teamIDs[s.DependsOnTeam] {
				errors = append(errors, ValidationError{
					Field:   fmt.Sprintf("teams[%d].backlog[%d].depends_on_team", i, j),
					Value:   s.DependsOnTeam,
					Message: "unknown team",
				})
			}
		}
	}

	return errors
}

// validatePortfolio validates portfolio stories
func (c *Config) validatePortfolio() []ValidationError {
	errors := validateStories(c.Portfolio, "portfolio")

	teamIDs := make(map[string]bool, len(c.Teams))
	for _, t := range c.Teams {
		teamIDs[t.ID] = true
	}
	for i, s := range c.Portfolio {
		if s.DependsOnTeam != "" && !teamIDs[s.DependsOnTeam] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("portfolio[%d].depends_on_team", i),
				Value:   s.DependsOnTeam,
				Message: "unknown team",
			})
		}
	}
	return errors
}

func validateStories(stories []StoryConfig, prefix string) []ValidationError {
	var errors []ValidationError
	for i, s := range stories {
		if strings.TrimSpace(s.Title) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("%s[%d].title", prefix, i),
				Value:   s.Title,
				Message: "must not be empty",
			})
		}
		if s.StoryPoints < 0 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("%s[%d].story_points", prefix, i),
				Value:   s.StoryPoints,
				Message: "must be non-negative",
			})
		}
	}
	return errors
}

// validateCoordination validates the CoordinationConfig
func (c *Config) validateCoordination() []ValidationError {
	var errors []ValidationError

	if c.Coordination.Cadence < 1 {
		errors = append(errors, ValidationError{
			Field:   "coordination.cadence",
			Value:   c.Coordination.Cadence,
			Message: "must be at least 1",
		})
	}
	if c.Coordination.MaxBorrowsPerSprint < 0 {
		errors = append(errors, ValidationError{
			Field:   "coordination.max_borrows_per_sprint",
			Value:   c.Coordination.MaxBorrowsPerSprint,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateKanban validates WIP limits
func (c *Config) validateKanban() []ValidationError {
	var errors []ValidationError

	columns := make([]string, 0, len(c.Kanban.WIPLimits))
	for col := range c.Kanban.WIPLimits {
		columns = append(columns, col)
	}
	slices.Sort(columns)

	for _, col := range columns {
		limit := c.Kanban.WIPLimits[col]
		field := "kanban.wip_limits." + col
		if !slices.Contains(ValidWIPColumns(), col) {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   col,
				Message: fmt.Sprintf("column must be one of: %s", strings.Join(ValidWIPColumns(), ", ")),
			})
			continue
		}
		if limit < 1 {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   limit,
				Message: "must be at least 1",
			})
		}
	}

	return errors
}

// validateOverhead validates the OverheadConfig
func (c *Config) validateOverhead() []ValidationError {
	var errs []ValidationError

	if c.Overhead.Pct < 0 || c.Overhead.Pct > 1 {
		errs = append(errs, ValidationError{
			Field:   "overhead.pct",
			Value:   c.Overhead.Pct,
			Message: "must be between 0 and 1",
		})
	}
	if c.Overhead.IterationZeroShare < 0 || c.Overhead.IterationZeroShare > 1 {
		errs = append(errs, ValidationError{
			Field:   "overhead.iteration_zero_share",
			Value:   c.Overhead.IterationZeroShare,
			Message: "must be between 0 and 1",
		})
	}
	if c.Overhead.MinStepTimeoutSeconds < 0 {
		errs = append(errs, ValidationError{
			Field:   "overhead.min_step_timeout_seconds",
			Value:   c.Overhead.MinStepTimeoutSeconds,
			Message: "must be non-negative",
		})
	}

	if err := budget.ValidateWeights(c.Overhead.Weights); err != nil {
		ve := ValidationError{Field: "overhead.weights", Value: c.Overhead.Weights, Message: err.Error()}
		var typed *errors.ValidationError
		if errors.As(err, &typed) {
			ve.Field, ve.Value, ve.Message = typed.Field, typed.Value, typed.Message()
		}
		errs = append(errs, ve)
	}

	return errs
}

// validateBus validates the BusConfig
func (c *Config) validateBus() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidBusBackends(), c.Bus.Backend) {
		errors = append(errors, ValidationError{
			Field:   "bus.backend",
			Value:   c.Bus.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBusBackends(), ", ")),
		})
	}
	if c.Bus.MaxHistory < 1 {
		errors = append(errors, ValidationError{
			Field:   "bus.max_history",
			Value:   c.Bus.MaxHistory,
			Message: "must be at least 1",
		})
	}
	if c.Bus.PollIntervalMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "bus.poll_interval_ms",
			Value:   c.Bus.PollIntervalMs,
			Message: "must be at least 1",
		})
	}
	if c.Bus.Backend == "redis" {
		if c.Bus.Redis.Addr == "" {
			errors = append(errors, ValidationError{
				Field:   "bus.redis.addr",
				Value:   c.Bus.Redis.Addr,
				Message: "is required for the redis backend",
			})
		}
		if c.Bus.Redis.TrimSize < 1 {
			errors = append(errors, ValidationError{
				Field:   "bus.redis.trim_size",
				Value:   c.Bus.Redis.TrimSize,
				Message: "must be at least 1",
			})
		}
	}

	return errors
}

// validateStore validates the StoreConfig
func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidStoreDrivers(), c.Store.Driver) {
		errors = append(errors, ValidationError{
			Field:   "store.driver",
			Value:   c.Store.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStoreDrivers(), ", ")),
		})
	}
	if (c.Store.Driver == "sqlite" || c.Store.Driver == "postgres") && c.Store.DSN == "" {
		errors = append(errors, ValidationError{
			Field:   "store.dsn",
			Value:   c.Store.DSN,
			Message: "is required for the " + c.Store.Driver + " driver",
		})
	}

	return errors
}

// validateExport validates the ExportConfig
func (c *Config) validateExport() []ValidationError {
	var errors []ValidationError

	if !c.Export.Enabled {
		return errors
	}
	if len(c.Export.Brokers) == 0 {
		errors = append(errors, ValidationError{
			Field:   "export.brokers",
			Value:   c.Export.Brokers,
			Message: "at least one broker is required when export is enabled",
		})
	}
	if c.Export.Topic == "" {
		errors = append(errors, ValidationError{
			Field:   "export.topic",
			Value:   c.Export.Topic,
			Message: "is required when export is enabled",
		})
	}

	return errors
}

// validateAI validates the AIConfig
func (c *Config) validateAI() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidAIBackends(), strings.ToLower(c.AI.Backend)) {
		errors = append(errors, ValidationError{
			Field:   "ai.backend",
			Value:   c.AI.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidAIBackends(), ", ")),
		})
	}
	if c.AI.TimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "ai.timeout_seconds",
			Value:   c.AI.TimeoutSeconds,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
