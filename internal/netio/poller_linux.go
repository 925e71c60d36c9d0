//go:build linux

package netio

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const maxEvents = 256

type epollPoller struct {
	fd     int
	events []unix.EpollEvent
}

// NewPoller returns an epoll-backed, level-triggered poller.
func NewPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epollPoller{fd: fd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

func epollMask(in Interest) uint32 {
	var mask uint32
	if in&InterestRead != 0 {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in&InterestWrite != 0 {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (p *epollPoller) Register(fd int, in Interest) error {
	ev := unix.EpollEvent{Events: epollMask(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll add fd=%d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Modify(fd int, in Interest) error {
	ev := unix.EpollEvent{Events: epollMask(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll mod fd=%d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Deregister(fd int) error {
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{}); err != nil {
		return fmt.Errorf("epoll del fd=%d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Wait(timeout time.Duration) ([]Event, error) {
	n, err := unix.EpollWait(p.fd, p.events, timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, os.NewSyscallError("epoll_wait", err)
	}
	out := make([]Event, 0, n)
	for _, ev := range p.events[:n] {
		hup := ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0
		out = append(out, Event{
			Fd:       int(ev.Fd),
			Readable: hup || ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			Writable: hup || ev.Events&unix.EPOLLOUT != 0,
		})
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.fd)
}
