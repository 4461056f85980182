// Package netfd extracts raw, non-blocking file descriptors from the
// standard library's net types so they can be registered directly with
// a corun.Scheduler's kernel poller instead of being driven by the
// runtime's own netpoller.
package netfd

import (
	"net"
	"syscall"

	"github.com/pkg/errors"
)

// ErrNoSyscallConn is returned when a net.Conn/net.Listener does not
// expose a raw connection (SyscallConn), the case gaio's dupconn
// guards against in its fork's aio_generic.go.
var ErrNoSyscallConn = errors.New("netfd: type does not implement SyscallConn")

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// Dup returns an independent, non-blocking duplicate of v's underlying
// file descriptor. v may be any net.Conn or net.Listener. The caller
// owns the returned fd and must close it directly; closing the
// original v is unaffected and does not invalidate the dup.
//
// Grounded on the RTradeLtd-gaio fork's dupconn in aio_generic.go,
// which duplicates under RawConn.Control to keep the descriptor's
// reference count correct even if the caller later closes v.
func Dup(v any) (int, error) {
	sc, ok := v.(syscallConner)
	if !ok {
		return -1, ErrNoSyscallConn
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, errors.Wrap(err, "netfd: syscallconn")
	}

	var newfd int
	var dupErr error
	ctrlErr := rc.Control(func(fd uintptr) {
		newfd, dupErr = syscall.Dup(int(fd))
	})
	if ctrlErr != nil {
		return -1, errors.Wrap(ctrlErr, "netfd: control")
	}
	if dupErr != nil {
		return -1, errors.Wrap(dupErr, "netfd: dup")
	}
	if err := syscall.SetNonblock(newfd, true); err != nil {
		syscall.Close(newfd)
		return -1, errors.Wrap(err, "netfd: set nonblock")
	}
	return newfd, nil
}

// ListenerFD duplicates ln's listening socket for raw use. ln itself is
// closed; only the duplicate continues serving.
func ListenerFD(ln net.Listener) (int, error) {
	fd, err := Dup(ln)
	if err != nil {
		return -1, err
	}
	_ = ln.Close()
	return fd, nil
}
