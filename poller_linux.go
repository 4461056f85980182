//go:build linux

package corun

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller wraps a Linux epoll instance, one registration per fd,
// tracking the currently-registered mask so watch() can decide between
// EPOLL_CTL_ADD/MOD/DEL. Modeled after gaio's dupconn/openPoll split
// (here simplified to a single map since user code, not the poller,
// owns fd lifetime) and the unix.EpollCreate1/EpollCtl/
// EpollWait wiring style of joeycumines-go-utilpkg/eventloop's
// poller_linux.go.
type epollPoller struct {
	epfd int

	mu        sync.Mutex
	masks     map[int]eventMask
	eventBuf  []unix.EpollEvent
}

func openPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, wrapErr("epoll_create1", err)
	}
	return &epollPoller{
		epfd:     epfd,
		masks:    make(map[int]eventMask),
		eventBuf: make([]unix.EpollEvent, 128),
	}, nil
}

func toEpollEvents(mask eventMask) uint32 {
	var ev uint32
	if mask&maskRead != 0 {
		ev |= unix.EPOLLIN
	}
	if mask&maskWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) watch(fd int, mask eventMask) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, registered := p.masks[fd]
	switch {
	case mask == 0:
		if !registered {
			return nil
		}
		delete(p.masks, fd)
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	case !registered:
		p.masks[fd] = mask
		ev := &unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	case cur != mask:
		p.masks[fd] = mask
		ev := &unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
	default:
		return nil
	}
}

func (p *epollPoller) wait(timeout time.Duration) ([]pollEvent, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, wrapErr("epoll_wait", err)
	}

	events := make([]pollEvent, 0, n)
	for i := 0; i < n; i++ {
		raw := p.eventBuf[i]
		ev := pollEvent{fd: int(raw.Fd)}
		if raw.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ev.hungup = true
		} else {
			ev.readable = raw.Events&unix.EPOLLIN != 0
			ev.writable = raw.Events&unix.EPOLLOUT != 0
		}
		events = append(events, ev)
	}
	return events, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
