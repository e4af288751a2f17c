//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// epollPoller wraps a single epoll instance. Register/Modify/Unregister may
// be called from any goroutine (epoll_ctl is thread-safe); Wait is intended
// for a single dedicated goroutine, matching spec section 4.1's single
// blocking-point design.
type epollPoller struct {
	fd int
}

// New creates an epoll-backed Poller.
func New() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{fd: fd}, nil
}

func mask(readable, writable, oneShot, edgeTriggered bool) uint32 {
	var m uint32 = unix.EPOLLRDHUP
	if readable {
		m |= unix.EPOLLIN
	}
	if writable {
		m |= unix.EPOLLOUT
	}
	if oneShot {
		m |= unix.EPOLLONESHOT
	}
	if edgeTriggered {
		m |= unix.EPOLLET
	}
	return m
}

func (p *epollPoller) Register(fd int, readable, writable, oneShot, edgeTriggered bool) error {
	ev := unix.EpollEvent{Events: mask(readable, writable, oneShot, edgeTriggered), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) Modify(fd int, readable, writable, oneShot, edgeTriggered bool) error {
	ev := unix.EpollEvent{Events: mask(readable, writable, oneShot, edgeTriggered), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) Unregister(fd int) error {
	// Linux < 2.6.9 requires a non-nil event pointer even though it's ignored
	// for EPOLL_CTL_DEL; pass one for portability across old kernels.
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
}

func (p *epollPoller) Wait(timeoutMS int) ([]Event, error) {
	raw := make([]unix.EpollEvent, 128)
	for {
		n, err := unix.EpollWait(p.fd, raw, timeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, err
		}
		out := make([]Event, 0, n)
		for i := 0; i < n; i++ {
			e := raw[i]
			out = append(out, Event{
				FD:             int(e.Fd),
				Readable:       e.Events&unix.EPOLLIN != 0,
				Writable:       e.Events&unix.EPOLLOUT != 0,
				PeerHalfClosed: e.Events&unix.EPOLLRDHUP != 0,
				Hangup:         e.Events&unix.EPOLLHUP != 0,
				Error:          e.Events&unix.EPOLLERR != 0,
			})
		}
		return out, nil
	}
}

func (p *epollPoller) Close() error {
	return unix.Close(p.fd)
}
