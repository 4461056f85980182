package corun

import "time"

// The I/O driver and timer driver are two internal flows that are
// first-class citizens of the ready queue: they compete fairly for
// dispatch with user flows rather than running on a separate thread,
// which is what keeps the whole scheduler single-threaded. Grounded on
// original_source/corun.py's __io_epoll_task/__time_poll_task
// generator loops.

// ioDriverLoop polls the kernel multiplexer each tick — non-blocking
// if other work is runnable, otherwise for up to idleTimeout() — and
// dispatches whatever readiness events came back, then relinquishes
// back to the scheduler.
func (s *Scheduler) ioDriverLoop(ctx *Ctx) error {
	for {
		select {
		case <-s.done:
			return nil
		default:
		}

		events, err := s.poll.wait(s.idleTimeout())
		if err != nil {
			s.logger().Error().Err(err).Msg("corun: poller wait failed")
		}
		for _, ev := range events {
			s.dispatchIOEvent(ev)
		}
		ctx.Relinquish()
	}
}

// idleTimeout is zero if flows are waiting in the ready queue's pending
// buffer, otherwise the smaller of the configured idle bound and the
// time until the next due timer, so timer latency is never worse than
// the idle bound even when no I/O is active. Only flows pushed since the
// dispatch loop's last drain are counted: flows already drained into the
// loop's current batch are not, so the poll can block for up to this
// bound while they wait their turn.
func (s *Scheduler) idleTimeout() time.Duration {
	if s.ready.len() > 0 {
		return 0
	}
	bound := s.cfg.idleBound
	if expiry, ok := s.timers.peekExpiry(); ok {
		if d := time.Until(expiry); d < bound {
			if d < 0 {
				d = 0
			}
			bound = d
		}
	}
	return bound
}

// dispatchIOEvent applies one readiness notification to the I/O index,
// waking at most the one or two waiters it concerns.
func (s *Scheduler) dispatchIOEvent(ev pollEvent) {
	if ev.hungup {
		for _, f := range s.io.popHangup(ev.fd) {
			s.wake(f, false)
		}
		return
	}
	if ev.writable {
		if f, ok := s.io.popReady(ev.fd, dirWrite); ok {
			s.wake(f, true)
		}
	}
	if ev.readable {
		if f, ok := s.io.popReady(ev.fd, dirRead); ok {
			s.wake(f, true)
		}
	}
}

// timerDriverLoop pops and wakes every timer entry due as of now on
// each tick, then relinquishes.
func (s *Scheduler) timerDriverLoop(ctx *Ctx) error {
	for {
		select {
		case <-s.done:
			return nil
		default:
		}

		for _, e := range s.timers.popDue(time.Now()) {
			s.wake(e.flow, nil)
		}
		ctx.Relinquish()
	}
}
