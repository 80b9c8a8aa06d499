package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete sprintfleet configuration
type Config struct {
	Experiment   ExperimentConfig   `mapstructure:"experiment" yaml:"experiment"`
	Teams        []TeamConfig       `mapstructure:"teams" yaml:"teams"`
	Portfolio    []StoryConfig      `mapstructure:"portfolio" yaml:"portfolio"`
	Coordination CoordinationConfig `mapstructure:"coordination" yaml:"coordination"`
	Kanban       KanbanConfig       `mapstructure:"kanban" yaml:"kanban"`
	Overhead     OverheadConfig     `mapstructure:"overhead" yaml:"overhead"`
	Bus          BusConfig          `mapstructure:"bus" yaml:"bus"`
	Store        StoreConfig        `mapstructure:"store" yaml:"store"`
	Export       ExportConfig       `mapstructure:"export" yaml:"export"`
	AI           AIConfig           `mapstructure:"ai" yaml:"ai"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// ExperimentConfig controls the length of the experiment
type ExperimentConfig struct {
	// NumSprints is the number of sprints to run (default: 3)
	NumSprints int `mapstructure:"num_sprints" yaml:"num_sprints"`
	// SprintDurationMinutes is the wall-clock length of one sprint. Together
	// with NumSprints it sizes the overhead budget.
	SprintDurationMinutes int `mapstructure:"sprint_duration_minutes" yaml:"sprint_duration_minutes"`
	// CardsPerAgent is how many cards each agent finishes per sprint in the
	// offline runner (default: 1)
	CardsPerAgent int `mapstructure:"cards_per_agent" yaml:"cards_per_agent"`
}

// TeamConfig declares one team and the agents based on it
type TeamConfig struct {
	ID     string   `mapstructure:"id" yaml:"id"`
	Name   string   `mapstructure:"name" yaml:"name"`
	Agents []string `mapstructure:"agents" yaml:"agents"`
	// HasBacklog teams own their backlog. Teams without one receive
	// portfolio stories round-robin.
	HasBacklog bool          `mapstructure:"has_backlog" yaml:"has_backlog"`
	Backlog    []StoryConfig `mapstructure:"backlog" yaml:"backlog,omitempty"`
}

// StoryConfig seeds one card
type StoryConfig struct {
	Title         string `mapstructure:"title" yaml:"title"`
	StoryPoints   int    `mapstructure:"story_points" yaml:"story_points"`
	Priority      int    `mapstructure:"priority" yaml:"priority,omitempty"`
	DependsOnTeam string `mapstructure:"depends_on_team" yaml:"depends_on_team,omitempty"`
}

// CoordinationConfig controls the cross-team coordination cycle
type CoordinationConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Cadence runs the full cycle every N sprints (default: 1)
	Cadence int `mapstructure:"cadence" yaml:"cadence"`
	// MaxBorrowsPerSprint caps how many planned borrows are applied
	MaxBorrowsPerSprint int  `mapstructure:"max_borrows_per_sprint" yaml:"max_borrows_per_sprint"`
	MidSprintCheckin    bool `mapstructure:"mid_sprint_checkin" yaml:"mid_sprint_checkin"`
}

// KanbanConfig controls per-team boards
type KanbanConfig struct {
	// WIPLimits maps a column (in_progress, review) to its limit
	WIPLimits map[string]int `mapstructure:"wip_limits" yaml:"wip_limits"`
}

// OverheadConfig sizes the coordination overhead budget
type OverheadConfig struct {
	// Pct is the fraction of experiment time reserved for overhead (0-1)
	Pct float64 `mapstructure:"pct" yaml:"pct"`
	// IterationZeroShare is the fraction of overhead reserved for setup (0-1)
	IterationZeroShare float64 `mapstructure:"iteration_zero_share" yaml:"iteration_zero_share"`
	// Weights split each sprint's overhead across steps and must sum to 1
	Weights               map[string]float64 `mapstructure:"weights" yaml:"weights"`
	MinStepTimeoutSeconds int                `mapstructure:"min_step_timeout_seconds" yaml:"min_step_timeout_seconds"`
}

// BusConfig selects and tunes the message bus backend
type BusConfig struct {
	// Backend is "memory" or "redis"
	Backend        string      `mapstructure:"backend" yaml:"backend"`
	MaxHistory     int         `mapstructure:"max_history" yaml:"max_history"`
	PollIntervalMs int         `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	Redis          RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig configures the redis bus backend
type RedisConfig struct {
	Addr   string `mapstructure:"addr" yaml:"addr"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	// TrimSize bounds each inbox list. Entries beyond it are lost.
	TrimSize int `mapstructure:"trim_size" yaml:"trim_size"`
}

// StoreConfig selects the card store
type StoreConfig struct {
	// Driver is "memory", "sqlite" or "postgres"
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// ExportConfig mirrors bus topics to Kafka
type ExportConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	// Topic is the Kafka topic events are produced to
	Topic string `mapstructure:"topic" yaml:"topic"`
	// BusTopics are the bus topics that are exported
	BusTopics []string `mapstructure:"bus_topics" yaml:"bus_topics"`
}

// AIConfig selects the command-line model used as coordination analyst
type AIConfig struct {
	// Backend is "none", "claude" or "codex"
	Backend         string `mapstructure:"backend" yaml:"backend"`
	Command         string `mapstructure:"command" yaml:"command"`
	SkipPermissions bool   `mapstructure:"skip_permissions" yaml:"skip_permissions"`
	// ApprovalMode is passed to codex: bypass, full-auto or default
	ApprovalMode   string `mapstructure:"approval_mode" yaml:"approval_mode"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is where sprintfleet.log is written. Empty logs to stderr.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Experiment: ExperimentConfig{
			NumSprints:            3,
			SprintDurationMinutes: 60,
			CardsPerAgent:         1,
		},
		Teams: []TeamConfig{
			{
				ID:         "alpha",
				Name:       "Team Alpha",
				Agents:     []string{"alpha-1", "alpha-2", "alpha-3"},
				HasBacklog: true,
				Backlog: []StoryConfig{
					{Title: "Design the public API", StoryPoints: 5, Priority: 2},
					{Title: "Implement the storage layer", StoryPoints: 8, Priority: 1},
					{Title: "Write the integration tests", StoryPoints: 3},
				},
			},
			{
				ID:     "beta",
				Name:   "Team Beta",
				Agents: []string{"beta-1", "beta-2"},
			},
		},
		Portfolio: []StoryConfig{
			{Title: "Build the web client", StoryPoints: 5, Priority: 1, DependsOnTeam: "alpha"},
			{Title: "Add usage analytics", StoryPoints: 3},
			{Title: "Document the deployment", StoryPoints: 2},
		},
		Coordination: CoordinationConfig{
			Enabled:             true,
			Cadence:             1,
			MaxBorrowsPerSprint: 1,
			MidSprintCheckin:    true,
		},
		Kanban: KanbanConfig{
			WIPLimits: map[string]int{"in_progress": 3, "review": 2},
		},
		Overhead: OverheadConfig{
			Pct:                   0.2,
			IterationZeroShare:    0.4,
			Weights:               map[string]float64{"coordination": 0.5, "distribution": 0.3, "checkin": 0.2},
			MinStepTimeoutSeconds: 30,
		},
		Bus: BusConfig{
			Backend:        "memory",
			MaxHistory:     1000,
			PollIntervalMs: 500,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				Prefix:   "sprintfleet",
				TrimSize: 1000,
			},
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Export: ExportConfig{
			Enabled:   false,
			Brokers:   []string{"localhost:9092"},
			Topic:     "sprintfleet.events",
			BusTopics: []string{"coordination", "team", "budget"},
		},
		AI: AIConfig{
			Backend:        "none",
			TimeoutSeconds: 120,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SprintDuration returns the sprint length as a time.Duration
func (c *ExperimentConfig) SprintDuration() time.Duration {
	return time.Duration(c.SprintDurationMinutes) * time.Minute
}

// MinStepTimeout returns the step timeout floor as a time.Duration
func (c *OverheadConfig) MinStepTimeout() time.Duration {
	return time.Duration(c.MinStepTimeoutSeconds) * time.Second
}

// PollInterval returns the receive poll interval as a time.Duration
func (c *BusConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Timeout returns the model call timeout as a time.Duration (0 means none)
func (c *AIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SetDefaults registers default values with viper. Teams and portfolio
// stories are lists and are filled in by Load when the file omits them.
func SetDefaults() {
	defaults := Default()

	// Experiment defaults
	viper.SetDefault("experiment.num_sprints", defaults.Experiment.NumSprints)
	viper.SetDefault("experiment.sprint_duration_minutes", defaults.Experiment.SprintDurationMinutes)
	viper.SetDefault("experiment.cards_per_agent", defaults.Experiment.CardsPerAgent)

	// Coordination defaults
	viper.SetDefault("coordination.enabled", defaults.Coordination.Enabled)
	viper.SetDefault("coordination.cadence", defaults.Coordination.Cadence)
	viper.SetDefault("coordination.max_borrows_per_sprint", defaults.Coordination.MaxBorrowsPerSprint)
	viper.SetDefault("coordination.mid_sprint_checkin", defaults.Coordination.MidSprintCheckin)

	// Kanban defaults
	viper.SetDefault("kanban.wip_limits", defaults.Kanban.WIPLimits)

	// Overhead defaults
	viper.SetDefault("overhead.pct", defaults.Overhead.Pct)
	viper.SetDefault("overhead.iteration_zero_share", defaults.Overhead.IterationZeroShare)
	viper.SetDefault("overhead.weights", defaults.Overhead.Weights)
	viper.SetDefault("overhead.min_step_timeout_seconds", defaults.Overhead.MinStepTimeoutSeconds)

	// Bus defaults
	viper.SetDefault("bus.backend", defaults.Bus.Backend)
	viper.SetDefault("bus.max_history", defaults.Bus.MaxHistory)
	viper.SetDefault("bus.poll_interval_ms", defaults.Bus.PollIntervalMs)
	viper.SetDefault("bus.redis.addr", defaults.Bus.Redis.Addr)
	viper.SetDefault("bus.redis.prefix", defaults.Bus.Redis.Prefix)
	viper.SetDefault("bus.redis.trim_size", defaults.Bus.Redis.TrimSize)

	// Store defaults
	viper.SetDefault("store.driver", defaults.Store.Driver)
	viper.SetDefault("store.dsn", defaults.Store.DSN)

	// Export defaults
	viper.SetDefault("export.enabled", defaults.Export.Enabled)
	viper.SetDefault("export.brokers", defaults.Export.Brokers)
	viper.SetDefault("export.topic", defaults.Export.Topic)
	viper.SetDefault("export.bus_topics", defaults.Export.BusTopics)

	// AI defaults
	viper.SetDefault("ai.backend", defaults.AI.Backend)
	viper.SetDefault("ai.command", defaults.AI.Command)
	viper.SetDefault("ai.skip_permissions", defaults.AI.SkipPermissions)
	viper.SetDefault("ai.approval_mode", defaults.AI.ApprovalMode)
	viper.SetDefault("ai.timeout_seconds", defaults.AI.TimeoutSeconds)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if len(cfg.Teams) == 0 {
		defaults := Default()
		cfg.Teams = defaults.Teams
		if len(cfg.Portfolio) == 0 {
			cfg.Portfolio = defaults.Portfolio
		}
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// WriteExample writes the default configuration as YAML
func WriteExample(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return err
	}
	return enc.Close()
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sprintfleet")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sprintfleet"
	}
	return filepath.Join(home, ".config", "sprintfleet")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
