package corun

import (
	"time"

	"github.com/rs/zerolog"
)

// defaultIdleBound is the bounded idle timeout for the I/O driver's
// poll call when nothing is due.
const defaultIdleBound = 100 * time.Millisecond

// config holds the scheduler's tunables, built up by Options. Mirrors
// the functional-options idiom used throughout
// joeycumines-go-utilpkg (logiface.Option[E]) and generalizes gaio's
// single NewWatcherSize(bufsize) parameter into a full option set.
type config struct {
	idleBound time.Duration
	logger    zerolog.Logger
	readyCap  int
}

// Option configures a Scheduler at construction time.
type Option func(*config)

func defaultConfig() config {
	return config{
		idleBound: defaultIdleBound,
		logger:    zerolog.Nop(),
		readyCap:  256,
	}
}

// WithIdleBound overrides the bounded idle timeout the I/O driver uses
// when polling with nothing else runnable and no timer due soon.
func WithIdleBound(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.idleBound = d
		}
	}
}

// WithLogger attaches a zerolog.Logger the scheduler uses to report
// uncaught flow failures, poller wait failures and duplicate fd
// waiters. The default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithReadyQueueHint sizes the initial capacity of the ready queue's
// backing slice, an allocation hint only — the queue still grows
// without bound as needed.
func WithReadyQueueHint(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.readyCap = n
		}
	}
}
