package bus

import (
	"time"

	"github.com/Iron-Ham/sprintfleet/internal/logging"
)

// DefaultPollInterval is how often Receive re-checks the backend when no
// in-process delivery wakes it.
const DefaultPollInterval = 500 * time.Millisecond

// Option configures a Bus.
type Option func(*Bus)

// WithBackend sets the storage backend. The default is a MemoryBackend.
func WithBackend(b Backend) Option {
	return func(bus *Bus) {
		bus.backend = b
	}
}

// WithMaxHistory bounds the default MemoryBackend's history.
// It has no effect when WithBackend is also given.
func WithMaxHistory(n int) Option {
	return func(bus *Bus) {
		if n > 0 {
			bus.maxHistory = n
		}
	}
}

// WithPollInterval sets the Receive polling interval. Non-positive values
// are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(bus *Bus) {
		if d > 0 {
			bus.pollInterval = d
		}
	}
}

// WithLogger sets the logger. Nil keeps the default no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(bus *Bus) {
		if l != nil {
			bus.logger = l.WithComponent("bus")
		}
	}
}

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) Option {
	return func(bus *Bus) {
		if now != nil {
			bus.now = now
		}
	}
}
