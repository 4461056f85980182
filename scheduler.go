package corun

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Scheduler is the single-threaded cooperative dispatch loop and the
// owning context for every wait structure it drives: the ready queue,
// the taskmap, the two I/O readiness maps, the timer heap, and the
// exit-join table. A Scheduler is a plain value constructed with
// NewScheduler; any number of independent Schedulers may run
// concurrently, each on its own dispatcher goroutine, with no shared
// package-level state.
type Scheduler struct {
	cfg config

	ready *readyQueue
	io    *ioIndex
	poll  poller
	timers timerHeap

	// taskmap and exitWaiting are single-writer: only the dispatch-loop
	// goroutine ever mutates them.
	taskmap     map[int64]*Flow
	exitWaiting map[int64][]*Flow

	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}

	ioFlowID    int64
	timerFlowID int64
}

// NewScheduler constructs a Scheduler, opens its kernel poller, spawns
// the I/O driver and timer driver internal flows, and starts the
// dispatch loop on its own goroutine. Mirrors
// original_source/corun.py's Scheduler.__init__/run(), restructured so
// construction and the dispatch thread's lifetime are both explicit
// rather than implied by module import.
func NewScheduler(opts ...Option) (*Scheduler, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	p, err := openPoller()
	if err != nil {
		return nil, wrapErr("new_scheduler", err)
	}

	s := &Scheduler{
		cfg:         cfg,
		ready:       newReadyQueue(cfg.readyCap),
		io:          newIOIndex(p),
		poll:        p,
		taskmap:     make(map[int64]*Flow),
		exitWaiting: make(map[int64][]*Flow),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}

	s.ioFlowID = s.spawnInternal("io-driver", s.ioDriverLoop)
	s.timerFlowID = s.spawnInternal("timer-driver", s.timerDriverLoop)

	go s.loop()
	return s, nil
}

// Spawn registers fn as a new flow and returns its id. Safe to call
// from any goroutine. Returns ErrSchedulerClosed once Shutdown has
// been requested.
func (s *Scheduler) Spawn(name string, fn FlowFunc) (int64, error) {
	select {
	case <-s.done:
		return 0, wrapErr("spawn", ErrSchedulerClosed)
	default:
	}
	f := newFlow(name, fn)
	s.ready.push(f)
	return f.id, nil
}

func (s *Scheduler) spawnInternal(name string, fn FlowFunc) int64 {
	f := newFlow(name, fn)
	s.ready.push(f)
	return f.id
}

// JoinAll blocks until every id in ids that exists at the moment the
// internal join flow checks it has terminated (completed, killed, or
// failed). Ids already gone at check time are treated as already done.
// Safe to call from any goroutine.
func (s *Scheduler) JoinAll(ids []int64) {
	if len(ids) == 0 {
		return
	}
	done := make(chan struct{})
	s.spawnInternal("join-all", func(ctx *Ctx) error {
		for _, id := range ids {
			ctx.WaitFlow(id)
		}
		close(done)
		return nil
	})
	<-done
}

// Shutdown requests the dispatch loop exit at its next iteration
// boundary and blocks until it has, then tears down every flow still
// parked at that point so none of their goroutines are left blocked
// forever on a channel nobody will read again.
func (s *Scheduler) Shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
	<-s.stopped
	s.killRemaining()
	s.poll.close()
}

// killRemaining closes killCh for every flow the dispatch loop still
// knew about when it stopped. Safe to run here only: loop() has
// already returned, so taskmap and exitWaiting have no other writer.
func (s *Scheduler) killRemaining() {
	for _, f := range s.taskmap {
		f.killed.Store(true)
		close(f.killCh)
	}
	for _, waiters := range s.exitWaiting {
		for _, f := range waiters {
			f.killed.Store(true)
			close(f.killCh)
		}
	}
}

// ---- dispatch loop ----

func (s *Scheduler) loop() {
	defer close(s.stopped)
	var local []*Flow
	for {
		if len(local) == 0 {
			select {
			case <-s.done:
				return
			case <-s.ready.notify:
			}
			local = s.ready.drain()
			continue
		}

		select {
		case <-s.done:
			return
		default:
		}

		f := local[0]
		local = local[1:]
		s.dispatchOne(f)
	}
}

// dispatchOne resumes f exactly once and handles whatever it yields.
// A freshly spawned flow is inserted into taskmap and started here,
// never before — this keeps taskmap single-writer even though Spawn is
// called from arbitrary goroutines.
func (s *Scheduler) dispatchOne(f *Flow) {
	if f.killed.Load() {
		// A stale ready-queue entry for a flow KillTask already tore
		// down synchronously (see handleKillTask): its goroutine has
		// already unwound via killCh, so there is nothing left to
		// resume and sending on resumeCh would block forever.
		return
	}

	f.loc = locNone
	if f.fresh.CompareAndSwap(true, false) {
		s.taskmap[f.id] = f
		// A freshly started goroutine runs until its first suspension
		// point on its own; unlike a resumed flow, there is no prior
		// Yield() call blocked waiting to receive a value, so we must
		// not send on resumeCh here (nothing would read it before the
		// flow's first yield, and if it never yields, the send would
		// never be consumed at all — a deadlock). This is the one
		// place the Go goroutine translation of corun.py's
		// target.send(sendval) priming necessarily differs from the
		// source.
		f.start()
	} else {
		f.resumeCh <- f.pendingSend
	}

	msg := <-f.yieldCh
	switch msg.kind {
	case yieldRequest:
		msg.request.apply(s, f)
	case yieldAgain:
		s.wake(f, f.pendingSend)
	case yieldDone:
		s.completeFlow(f, msg.err)
	}
}

// wake re-queues f, delivering value as its next resume value.
func (s *Scheduler) wake(f *Flow, value any) {
	f.pendingSend = value
	f.loc = locReady
	s.ready.push(f)
}

// ---- request handlers ----

func (s *Scheduler) handleWaitForTime(f *Flow, d time.Duration) {
	expiry := time.Now().Add(d)
	f.loc = locTimer
	s.timers.push(expiry, f)
}

func (s *Scheduler) handleWaitForIO(f *Flow, fd int, dir direction) {
	if err := s.io.park(f, fd, dir); err != nil {
		s.logger().Error().Err(err).Int("fd", fd).Int64("flow", f.id).Msg("corun: duplicate waiter on fd")
		// Programming error: deliver failure rather than silently
		// overwrite the earlier waiter.
		s.wake(f, false)
	}
}

func (s *Scheduler) handleWaitForTask(f *Flow, targetID int64) {
	if _, ok := s.taskmap[targetID]; !ok {
		s.wake(f, false)
		return
	}
	delete(s.taskmap, f.id)
	f.loc = locExitWait
	f.waitTarget = targetID
	s.exitWaiting[targetID] = append(s.exitWaiting[targetID], f)
}

func (s *Scheduler) handleKillTask(caller *Flow, targetID int64) {
	target, ok := s.taskmap[targetID]
	if !ok {
		s.wake(caller, false)
		return
	}

	s.removeFromWaitStructure(target)
	delete(s.taskmap, targetID)
	s.fanOutExit(targetID, false)

	target.killed.Store(true)
	close(target.killCh)

	s.wake(caller, true)
}

// removeFromWaitStructure undoes whatever wait-structure membership f
// currently holds, used when killing a parked flow. A flow already
// sitting on the ready queue (woken, not yet dispatched) is not
// represented here at all — dispatchOne's f.killed guard is what
// catches that case when the stale entry is eventually popped, since
// the ready queue holds direct *Flow references rather than taskmap
// lookups.
func (s *Scheduler) removeFromWaitStructure(f *Flow) {
	switch f.loc {
	case locIOWait:
		s.io.remove(f.waitFD, f.waitDir)
	case locTimer:
		for _, e := range s.timers {
			if e.flow == f {
				s.timers.remove(e)
				break
			}
		}
	case locExitWait:
		waiters := s.exitWaiting[f.waitTarget]
		for i, w := range waiters {
			if w == f {
				s.exitWaiting[f.waitTarget] = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
	}
	f.loc = locNone
}

// ---- completion & exit-join fan-out ----

func (s *Scheduler) completeFlow(f *Flow, err error) {
	delete(s.taskmap, f.id)
	if err != nil {
		s.logFailure(f, err)
	}
	s.fanOutExit(f.id, err == nil)
}

func (s *Scheduler) fanOutExit(targetID int64, result bool) {
	waiters, ok := s.exitWaiting[targetID]
	if !ok {
		return
	}
	delete(s.exitWaiting, targetID)
	for _, w := range waiters {
		s.taskmap[w.id] = w
		s.wake(w, result)
	}
}

func (s *Scheduler) logFailure(f *Flow, err error) {
	wrapped := errors.WithStack(err)
	s.logger().Error().
		Int64("flow", f.id).
		Str("name", f.name).
		Stack().
		Err(wrapped).
		Msg("corun: uncaught failure in flow")
}

func (s *Scheduler) logger() *zerolog.Logger { return &s.cfg.logger }
