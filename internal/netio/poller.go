// Package netio wraps the raw non-blocking socket and readiness primitives the
// server loop runs on: listener, accepted sockets, and an epoll/kqueue poller.
package netio

import (
	"fmt"
	"time"
)

// Interest is the readiness a registered descriptor wants to hear about.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

func (i Interest) String() string {
	switch i {
	case InterestRead:
		return "read"
	case InterestWrite:
		return "write"
	case InterestRead | InterestWrite:
		return "read|write"
	case 0:
		return "none"
	default:
		return fmt.Sprintf("interest(%d)", uint8(i))
	}
}

// Event reports which directions of one descriptor are ready.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
}

// Poller is a readiness registry plus the blocking wait over it.
type Poller interface {
	Register(fd int, in Interest) error
	Modify(fd int, in Interest) error
	Deregister(fd int) error
	// Wait blocks until at least one descriptor is ready or timeout elapses.
	// An interrupted wait returns no events and no error.
	Wait(timeout time.Duration) ([]Event, error)
	Close() error
}

func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		ms = 1
	}
	return int(ms)
}
