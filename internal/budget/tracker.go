package budget

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/sprintfleet/internal/bus"
	"github.com/Iron-Ham/sprintfleet/internal/logging"
)

// Topic is the bus topic the tracker announces exhaustion on.
const Topic = "budget"

// Publisher is the subset of the bus the tracker needs.
type Publisher interface {
	Publish(ctx context.Context, sender, topic string, content bus.Content) (bus.Message, error)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l.WithComponent("budget")
		}
	}
}

// WithClock overrides the time source used by Deadline.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithPublisher publishes a budget topic event when the budget first
// becomes exhausted.
func WithPublisher(p Publisher) Option {
	return func(t *Tracker) {
		t.publisher = p
	}
}

// Tracker allocates the wall-clock overhead budget across the experiment
// and timeboxes overhead steps against it. It is safe for concurrent use.
//
//	total          = sprint duration × sprints × overhead pct
//	iteration zero = total × iteration zero share
//	per sprint     = (total − iteration zero) / sprints
//	step timeout   = per sprint × weight[step], clamped to [min, remaining]
type Tracker struct {
	total         time.Duration
	iterationZero time.Duration
	perSprint     time.Duration
	weights       map[string]float64
	minStep       time.Duration

	logger    *logging.Logger
	publisher Publisher
	now       func() time.Time

	mu      sync.RWMutex
	spent   time.Duration
	history []Timing
}

// New creates a Tracker from cfg.
func New(cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	total := time.Duration(float64(cfg.SprintDuration) * float64(cfg.NumSprints) * cfg.OverheadPct)
	iz := time.Duration(float64(total) * cfg.IterationZeroShare)

	t := &Tracker{
		total:         total,
		iterationZero: iz,
		perSprint:     (total - iz) / time.Duration(cfg.NumSprints),
		weights:       maps.Clone(cfg.Weights),
		minStep:       cfg.MinStepTimeout,
		logger:        logging.NopLogger(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.logger.Info("overhead budget allocated",
		"total", total.String(),
		"iteration_zero", iz.String(),
		"per_sprint", t.perSprint.String(),
	)
	return t, nil
}

// Total returns the whole overhead budget.
func (t *Tracker) Total() time.Duration { return t.total }

// IterationZeroBudget returns the share reserved for setup before sprint 1.
func (t *Tracker) IterationZeroBudget() time.Duration { return t.iterationZero }

// PerSprintBudget returns the overhead available to each sprint.
func (t *Tracker) PerSprintBudget() time.Duration { return t.perSprint }

// Weight returns the weight of step, 0 for unknown steps.
func (t *Tracker) Weight(step string) float64 {
	return t.weights[step]
}

// Spent returns the total recorded overhead.
func (t *Tracker) Spent() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.spent
}

// Remaining returns max(total − spent, 0).
func (t *Tracker) Remaining() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.remainingLocked()
}

func (t *Tracker) remainingLocked() time.Duration {
	return max(t.total-t.spent, 0)
}

// Exhausted reports whether the whole budget has been spent.
func (t *Tracker) Exhausted() bool {
	return t.Remaining() == 0
}

// clamp caps d at the remaining budget, then raises it to the step floor.
// When remaining is below the floor the floor wins, so a step always gets
// a usable timeout even after the budget is spent.
func (t *Tracker) clamp(d time.Duration) time.Duration {
	return max(min(d, t.Remaining()), t.minStep)
}

// StepTimeout returns the timeout for step in sprint.
func (t *Tracker) StepTimeout(step string, sprint int) time.Duration {
	d := t.clamp(time.Duration(float64(t.perSprint) * t.weights[step]))
	t.logger.Debug("step timeout", "step", step, "sprint", sprint, "timeout", d.String())
	return d
}

// IterationZeroTimeout returns the timeout for the iteration zero setup.
func (t *Tracker) IterationZeroTimeout() time.Duration {
	return t.clamp(t.iterationZero)
}

// Deadline returns now + timeout.
func (t *Tracker) Deadline(timeout time.Duration) time.Time {
	return t.now().Add(timeout)
}

// Record debits a finished step from the budget.
func (t *Tracker) Record(ctx context.Context, timing Timing) {
	t.mu.Lock()
	wasAvailable := t.remainingLocked() > 0
	t.spent += timing.Elapsed()
	t.history = append(t.history, timing)
	remaining := t.remainingLocked()
	spent := t.spent
	t.mu.Unlock()

	log := t.logger.WithSprint(timing.Sprint)
	if timing.Overran() {
		log.Warn("overhead step overran its timeout",
			"step", timing.Step,
			"elapsed", timing.Elapsed().String(),
			"timeout", timing.Timeout.String(),
		)
	}

	if wasAvailable && remaining == 0 && t.total > 0 {
		log.Warn("overhead budget exhausted", "spent", spent.String(), "total", t.total.String())
		if t.publisher != nil {
			_, err := t.publisher.Publish(ctx, "budget", Topic, bus.Content{
				"event":         "exhausted",
				"sprint":        timing.Sprint,
				"spent_seconds": spent.Seconds(),
				"total_seconds": t.total.Seconds(),
				"last_step":     timing.Step,
			})
			if err != nil {
				log.Debug("budget event not published", "error", err.Error())
			}
		}
	}
}

// Track runs fn under a context that expires at the step timeout and
// records its timing. fn's error is returned unchanged.
func (t *Tracker) Track(ctx context.Context, step string, sprint int, fn func(ctx context.Context) error) error {
	timeout := t.StepTimeout(step, sprint)
	if step == StepIterationZero {
		timeout = t.IterationZeroTimeout()
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := t.now()
	err := fn(stepCtx)
	t.Record(ctx, Timing{Step: step, Sprint: sprint, Started: started, Ended: t.now(), Timeout: timeout})
	return err
}

// History returns the recorded step timings in order.
func (t *Tracker) History() []Timing {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.history)
}

// Summary returns a snapshot of the budget.
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Summary{
		Total:         t.total,
		IterationZero: t.iterationZero,
		PerSprint:     t.perSprint,
		Spent:         t.spent,
		Remaining:     t.remainingLocked(),
		Steps:         len(t.history),
		ByStep:        make(map[string]time.Duration),
	}
	for _, h := range t.history {
		s.ByStep[h.Step] += h.Elapsed()
		if h.Overran() {
			s.Overruns++
		}
	}
	s.Exhausted = s.Remaining == 0
	return s
}
