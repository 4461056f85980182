package corun

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// direction distinguishes the two I/O readiness maps.
type direction int

const (
	dirRead direction = iota
	dirWrite
)

// location records which wait structure currently holds a parked flow,
// so KillTask can remove it from exactly the right place. A flow is in
// at most one wait structure at a time.
type location int

const (
	locNone location = iota
	locReady
	locIOWait
	locTimer
	locExitWait
)

// yieldKind tags what a flow goroutine sent back across its yield
// channel on a given handoff.
type yieldKind int

const (
	yieldRequest yieldKind = iota // flow yielded a Request: suspend
	yieldAgain                    // flow yielded a plain value: re-queue, keep send value
	yieldDone                     // flow's function returned: completion
)

type yieldMsg struct {
	kind    yieldKind
	request Request
	err     error
}

var flowIDCounter int64

// FlowFunc is the computation a flow runs. It receives a Ctx used to
// yield suspension requests and returns an error on completion (nil
// for a normal finish). A non-nil return or a panic inside FlowFunc is
// treated as an uncaught failure: logged, and the flow's exit-waiters
// are woken with false.
type FlowFunc func(ctx *Ctx) error

// Flow is the scheduler's handle on a resumable computation. Its id is
// stable for its whole lifetime and is the key used in the taskmap and
// exit-join table.
type Flow struct {
	id   int64
	name string
	fn   FlowFunc

	resumeCh chan any
	yieldCh  chan yieldMsg
	killCh   chan struct{}
	killed   atomic.Bool

	fresh atomic.Bool // true until the dispatcher has inserted it into taskmap once

	// bookkeeping maintained exclusively by the dispatch-loop goroutine;
	// never touched concurrently.
	loc        location
	waitFD     int
	waitDir    direction
	waitTarget int64 // valid when loc == locExitWait: the id this flow is parked waiting on
	pendingSend any  // value delivered on the next resume
}

// ID returns the flow's stable identifier.
func (f *Flow) ID() int64 { return f.id }

// Name returns the flow's diagnostic label, which may be empty.
func (f *Flow) Name() string { return f.name }

func newFlow(name string, fn FlowFunc) *Flow {
	f := &Flow{
		id:       atomic.AddInt64(&flowIDCounter, 1),
		name:     name,
		fn:       fn,
		resumeCh: make(chan any),
		yieldCh:  make(chan yieldMsg),
		killCh:   make(chan struct{}),
	}
	f.fresh.Store(true)
	return f
}

// start launches the flow's backing goroutine. It must only be called
// once, by the dispatch loop, the first time the flow is popped off the
// ready queue.
func (f *Flow) start() {
	go f.run()
}

func (f *Flow) run() {
	defer func() {
		if f.killed.Load() {
			// Torn down synchronously by handleKillTask; the scheduler
			// already fanned out our exit-waiters and removed us from
			// taskmap, so we simply vanish without reporting back.
			return
		}
		if r := recover(); r != nil {
			f.yieldCh <- yieldMsg{kind: yieldDone, err: panicError{value: r}}
			return
		}
	}()

	ctx := &Ctx{flow: f}
	err := f.fn(ctx)
	f.yieldCh <- yieldMsg{kind: yieldDone, err: err}
}

// panicError wraps a recovered panic value so it satisfies error.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	if err, ok := p.value.(error); ok {
		return "panic: " + err.Error()
	}
	return fmt.Sprintf("panic: %v", p.value)
}

// Ctx is handed to a running FlowFunc and is the only way user code may
// suspend. Each method performs the resumeCh/yieldCh handoff and
// returns the request-specific result, already type asserted.
type Ctx struct {
	flow *Flow
}

// ID returns the id of the flow this Ctx belongs to.
func (c *Ctx) ID() int64 { return c.flow.id }

// Yield suspends the flow with an arbitrary Request and returns the
// value the scheduler resumes it with. This is the low-level primitive;
// Sleep/ReadReady/WriteReady/WaitFlow/Kill are convenience wrappers.
func (c *Ctx) Yield(req Request) any {
	c.flow.yieldCh <- yieldMsg{kind: yieldRequest, request: req}
	select {
	case v := <-c.flow.resumeCh:
		return v
	case <-c.flow.killCh:
		// Run any pending defers in the caller's stack, then vanish.
		// The deferred block in run() detects f.killed and stays
		// silent.
		runtime.Goexit()
		return nil
	}
}

// Relinquish yields a plain value: the flow stays runnable and is
// re-queued immediately with the same pending send value. It is the Go
// analogue of a bare `yield` with no system call attached — a
// cooperative "run again soon" without suspending on anything.
func (c *Ctx) Relinquish() {
	c.flow.yieldCh <- yieldMsg{kind: yieldAgain}
	select {
	case <-c.flow.resumeCh:
	case <-c.flow.killCh:
		runtime.Goexit()
	}
}

// Sleep suspends the flow for d.
func (c *Ctx) Sleep(d time.Duration) {
	c.Yield(WaitForTime(d))
}

// ReadReady suspends the flow until fd is readable. Returns false on
// hangup/error.
func (c *Ctx) ReadReady(fd int) bool {
	v, _ := c.Yield(WaitForRead(fd)).(bool)
	return v
}

// WriteReady suspends the flow until fd is writable. Returns false on
// hangup/error.
func (c *Ctx) WriteReady(fd int) bool {
	v, _ := c.Yield(WaitForWrite(fd)).(bool)
	return v
}

// WaitFlow suspends the flow until targetID terminates. Returns false
// immediately if targetID does not currently exist.
func (c *Ctx) WaitFlow(targetID int64) bool {
	v, _ := c.Yield(WaitForTask(targetID)).(bool)
	return v
}

// Kill terminates the flow identified by targetID. Returns false if
// targetID does not currently exist.
func (c *Ctx) Kill(targetID int64) bool {
	v, _ := c.Yield(KillTask(targetID)).(bool)
	return v
}
