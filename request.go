package corun

import "time"

// Request is a suspension request: a value-typed description of why a
// flow is yielding, dispatched by the scheduler to the matching
// transition handler. The interface is sealed to this package — user
// code never implements Request directly, it obtains one from
// WaitForTime, WaitForRead, WaitForWrite, WaitForTask or KillTask (or,
// more commonly, via the convenience methods on Ctx).
//
// This mirrors original_source/corun.py's SystemCall/handle(scheduler,
// task) pair: each case carries exactly the parameters its handler
// needs and nothing else.
type Request interface {
	apply(s *Scheduler, f *Flow)
}

type waitForTimeReq struct {
	delay time.Duration
}

// WaitForTime builds a Request that parks the yielding flow until d has
// elapsed. The delivered result value is unspecified; callers should
// not depend on it.
func WaitForTime(d time.Duration) Request {
	if d < 0 {
		d = 0
	}
	return waitForTimeReq{delay: d}
}

func (r waitForTimeReq) apply(s *Scheduler, f *Flow) {
	s.handleWaitForTime(f, r.delay)
}

type waitForReadReq struct {
	fd int
}

// WaitForRead builds a Request that parks the yielding flow until fd is
// readable (or hung up/errored). Result: true if readable, false on
// hangup/error.
func WaitForRead(fd int) Request {
	return waitForReadReq{fd: fd}
}

func (r waitForReadReq) apply(s *Scheduler, f *Flow) {
	s.handleWaitForIO(f, r.fd, dirRead)
}

type waitForWriteReq struct {
	fd int
}

// WaitForWrite builds a Request that parks the yielding flow until fd
// is writable (or hung up/errored). Result: true if writable, false on
// hangup/error.
func WaitForWrite(fd int) Request {
	return waitForWriteReq{fd: fd}
}

func (r waitForWriteReq) apply(s *Scheduler, f *Flow) {
	s.handleWaitForIO(f, r.fd, dirWrite)
}

type waitForTaskReq struct {
	targetID int64
}

// WaitForTask builds a Request that parks the yielding flow until the
// flow identified by targetID terminates (by completion, kill, or
// failure). Result: true if the target completed normally; false if
// it was killed or failed while the caller waited, or if targetID was
// already gone (or never existed) at the time of the check.
func WaitForTask(targetID int64) Request {
	return waitForTaskReq{targetID: targetID}
}

func (r waitForTaskReq) apply(s *Scheduler, f *Flow) {
	s.handleWaitForTask(f, r.targetID)
}

type killTaskReq struct {
	targetID int64
}

// KillTask builds a Request that terminates the flow identified by
// targetID at its current suspension point, running any pending Go
// defers along the way. Result: true if a target was found and killed,
// false if targetID was already gone (or never existed).
func KillTask(targetID int64) Request {
	return killTaskReq{targetID: targetID}
}

func (r killTaskReq) apply(s *Scheduler, f *Flow) {
	s.handleKillTask(f, r.targetID)
}
