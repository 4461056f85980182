package corun

import "time"

// eventMask is the set of readiness conditions registered for an fd.
type eventMask uint8

const (
	maskRead eventMask = 1 << iota
	maskWrite
)

// pollEvent is one readiness notification returned from a poller's
// wait call.
type pollEvent struct {
	fd       int
	readable bool
	writable bool
	hungup   bool // hangup or error: treated uniformly as wake-with-failure
}

// poller is the kernel readiness multiplexer interface the scheduler
// depends on. watch re-registers fd with exactly mask (the union of
// read/write interest currently held for that fd); a mask of 0
// unregisters the fd entirely. wait blocks for
// up to timeout (0 = non-blocking poll, <0 = block indefinitely) and
// returns whatever events are ready.
//
// Grounded on gaio's pfd *poller / openPoll() abstraction in
// watcher.go; implemented per-platform in poller_linux.go (epoll) and
// poller_bsd.go (kqueue), following the golang.org/x/sys/unix wiring
// style of joeycumines-go-utilpkg/eventloop's poller_linux.go /
// poller_darwin.go.
type poller interface {
	watch(fd int, mask eventMask) error
	wait(timeout time.Duration) ([]pollEvent, error)
	close() error
}
