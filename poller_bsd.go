//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package corun

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller wraps a BSD/Darwin kqueue instance. kqueue has no notion
// of "the current mask for an fd" the way epoll does — each direction
// is its own independent filter — so watch() diffs against the
// previously-registered mask and issues EV_ADD/EV_DELETE per filter
// that changed, following the same register/modify/unregister shape
// gaio and corun.py's epoll-only original use, generalized to kqueue's
// per-filter model per joeycumines-go-utilpkg/eventloop's
// poller_darwin.go wiring style.
type kqueuePoller struct {
	kq int

	mu    sync.Mutex
	masks map[int]eventMask
	buf   []unix.Kevent_t
}

func openPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, wrapErr("kqueue", err)
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{
		kq:    kq,
		masks: make(map[int]eventMask),
		buf:   make([]unix.Kevent_t, 128),
	}, nil
}

func (p *kqueuePoller) watch(fd int, mask eventMask) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.masks[fd]
	var changes []unix.Kevent_t

	wantRead := mask&maskRead != 0
	hadRead := cur&maskRead != 0
	if wantRead != hadRead {
		flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
		if !wantRead {
			flags = unix.EV_DELETE
		}
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}

	wantWrite := mask&maskWrite != 0
	hadWrite := cur&maskWrite != 0
	if wantWrite != hadWrite {
		flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
		if !wantWrite {
			flags = unix.EV_DELETE
		}
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}

	if mask == 0 {
		delete(p.masks, fd)
	} else {
		p.masks[fd] = mask
	}

	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) wait(timeout time.Duration) ([]pollEvent, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, p.buf, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, wrapErr("kevent", err)
	}

	events := make([]pollEvent, 0, n)
	for i := 0; i < n; i++ {
		raw := p.buf[i]
		ev := pollEvent{fd: int(raw.Ident)}
		if raw.Flags&unix.EV_ERROR != 0 || raw.Flags&unix.EV_EOF != 0 {
			ev.hungup = true
		} else {
			switch raw.Filter {
			case unix.EVFILT_READ:
				ev.readable = true
			case unix.EVFILT_WRITE:
				ev.writable = true
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}
