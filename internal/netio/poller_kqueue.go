//go:build darwin || freebsd || netbsd || openbsd

package netio

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const maxEvents = 256

type kqueuePoller struct {
	fd        int
	events    []unix.Kevent_t
	interests map[int]Interest
}

// NewPoller returns a kqueue-backed poller.
func NewPoller() (Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(fd)
	return &kqueuePoller{
		fd:        fd,
		events:    make([]unix.Kevent_t, maxEvents),
		interests: make(map[int]Interest),
	}, nil
}

func (p *kqueuePoller) apply(fd int, from, to Interest) error {
	changes := make([]unix.Kevent_t, 0, 2)
	for _, f := range []struct {
		in     Interest
		filter int
	}{
		{InterestRead, unix.EVFILT_READ},
		{InterestWrite, unix.EVFILT_WRITE},
	} {
		had, want := from&f.in != 0, to&f.in != 0
		if had == want {
			continue
		}
		var ev unix.Kevent_t
		if want {
			unix.SetKevent(&ev, fd, f.filter, unix.EV_ADD|unix.EV_ENABLE)
		} else {
			unix.SetKevent(&ev, fd, f.filter, unix.EV_DELETE)
		}
		changes = append(changes, ev)
	}
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.fd, changes, nil, nil); err != nil {
		return err
	}
	return nil
}

func (p *kqueuePoller) Register(fd int, in Interest) error {
	if _, ok := p.interests[fd]; ok {
		return fmt.Errorf("kqueue add fd=%d: %w", fd, unix.EEXIST)
	}
	if err := p.apply(fd, 0, in); err != nil {
		return fmt.Errorf("kqueue add fd=%d: %w", fd, err)
	}
	p.interests[fd] = in
	return nil
}

func (p *kqueuePoller) Modify(fd int, in Interest) error {
	prev, ok := p.interests[fd]
	if !ok {
		return fmt.Errorf("kqueue mod fd=%d: %w", fd, unix.ENOENT)
	}
	if err := p.apply(fd, prev, in); err != nil {
		return fmt.Errorf("kqueue mod fd=%d: %w", fd, err)
	}
	p.interests[fd] = in
	return nil
}

func (p *kqueuePoller) Deregister(fd int) error {
	prev, ok := p.interests[fd]
	if !ok {
		return fmt.Errorf("kqueue del fd=%d: %w", fd, unix.ENOENT)
	}
	delete(p.interests, fd)
	if err := p.apply(fd, prev, 0); err != nil {
		return fmt.Errorf("kqueue del fd=%d: %w", fd, err)
	}
	return nil
}

func (p *kqueuePoller) Wait(timeout time.Duration) ([]Event, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	n, err := unix.Kevent(p.fd, nil, p.events, ts)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, os.NewSyscallError("kevent", err)
	}
	// Read and write filters arrive as separate kevents; merge them per fd
	// keeping first-seen order.
	out := make([]Event, 0, n)
	index := make(map[int]int, n)
	for _, ev := range p.events[:n] {
		fd := int(ev.Ident)
		i, ok := index[fd]
		if !ok {
			i = len(out)
			index[fd] = i
			out = append(out, Event{Fd: fd})
		}
		eof := ev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0
		switch int(ev.Filter) {
		case unix.EVFILT_READ:
			out[i].Readable = true
		case unix.EVFILT_WRITE:
			out[i].Writable = true
		}
		if eof {
			out[i].Readable = true
		}
	}
	return out, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.fd)
}
