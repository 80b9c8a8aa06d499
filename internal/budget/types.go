package budget

import (
	"math"
	"time"

	"github.com/Iron-Ham/sprintfleet/internal/errors"
)

// Named overhead steps.
const (
	StepCoordination  = "coordination"
	StepDistribution  = "distribution"
	StepCheckin       = "checkin"
	StepIterationZero = "iteration_zero"
)

// weightTolerance is how far the step weights may drift from 1.0.
const weightTolerance = 1e-6

// DefaultWeights returns the default split of a sprint's overhead.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		StepCoordination: 0.5,
		StepDistribution: 0.3,
		StepCheckin:      0.2,
	}
}

// Config sizes the overhead budget for an experiment.
type Config struct {
	// SprintDuration is the wall-clock length of one sprint.
	SprintDuration time.Duration
	// NumSprints is the number of sprints in the experiment.
	NumSprints int
	// OverheadPct is the fraction of total time reserved for overhead steps.
	OverheadPct float64
	// IterationZeroShare is the fraction of the overhead carved off for setup
	// before sprint 1.
	IterationZeroShare float64
	// Weights split each sprint's overhead across named steps and must sum
	// to 1.0. Unknown steps get weight 0.
	Weights map[string]float64
	// MinStepTimeout is the floor for every step timeout.
	MinStepTimeout time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.SprintDuration <= 0:
		return errors.NewValidationError("sprint duration must be positive").WithField("sprint_duration").WithValue(c.SprintDuration)
	case c.NumSprints < 1:
		return errors.NewValidationError("at least one sprint is required").WithField("num_sprints").WithValue(c.NumSprints)
	case c.OverheadPct < 0 || c.OverheadPct > 1:
		return errors.NewValidationError("overhead pct must be within [0, 1]").WithField("overhead.pct").WithValue(c.OverheadPct)
	case c.IterationZeroShare < 0 || c.IterationZeroShare > 1:
		return errors.NewValidationError("iteration zero share must be within [0, 1]").WithField("overhead.iteration_zero_share").WithValue(c.IterationZeroShare)
	case c.MinStepTimeout < 0:
		return errors.NewValidationError("min step timeout must not be negative").WithField("overhead.min_step_timeout").WithValue(c.MinStepTimeout)
	}
	return ValidateWeights(c.Weights)
}

// ValidateWeights checks that weights are non-negative and sum to 1.0.
func ValidateWeights(weights map[string]float64) error {
	sum := 0.0
	for step, w := range weights {
		if w < 0 {
			return errors.NewValidationError("step weight must not be negative").WithField("overhead.weights." + step).WithValue(w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return errors.NewValidationError("step weights must sum to 1.0").WithField("overhead.weights").WithValue(sum)
	}
	return nil
}

// Timing is one executed overhead step.
type Timing struct {
	Step    string    `json:"step"`
	Sprint  int       `json:"sprint"`
	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended"`
	// Timeout is the budget the step was given, if known.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Elapsed returns Ended - Started, never negative.
func (t Timing) Elapsed() time.Duration {
	if d := t.Ended.Sub(t.Started); d > 0 {
		return d
	}
	return 0
}

// Overran reports whether the step took longer than its timeout.
func (t Timing) Overran() bool {
	return t.Timeout > 0 && t.Elapsed() > t.Timeout
}

// Summary is a point-in-time view of the budget.
type Summary struct {
	Total         time.Duration            `json:"total"`
	IterationZero time.Duration            `json:"iteration_zero"`
	PerSprint     time.Duration            `json:"per_sprint"`
	Spent         time.Duration            `json:"spent"`
	Remaining     time.Duration            `json:"remaining"`
	Steps         int                      `json:"steps"`
	Overruns      int                      `json:"overruns"`
	ByStep        map[string]time.Duration `json:"by_step"`
	Exhausted     bool                     `json:"exhausted"`
}
