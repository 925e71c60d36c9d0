//go:build linux || darwin || freebsd || netbsd || openbsd

package netio

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/danmuck/replinet/internal/protocol"
	"golang.org/x/sys/unix"
)

// Listener is a non-blocking TCP listening socket owned by the caller's
// poller rather than the Go runtime's.
type Listener struct {
	fd   int
	addr net.Addr

	closeOnce sync.Once
	closeErr  error
}

// Listen binds addr with the standard resolver, then detaches a duplicate of
// the descriptor so the server loop can poll it directly.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	defer ln.Close()

	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return nil, fmt.Errorf("listen %s: unexpected listener %T", addr, ln)
	}
	raw, err := tl.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	fd := -1
	var dupErr error
	if err := raw.Control(func(s uintptr) {
		fd, dupErr = unix.Dup(int(s))
	}); err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if dupErr != nil {
		return nil, fmt.Errorf("listen %s: dup: %w", addr, dupErr)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s: set nonblock: %w", addr, err)
	}
	return &Listener{fd: fd, addr: ln.Addr()}, nil
}

func (l *Listener) Fd() int {
	return l.fd
}

func (l *Listener) Addr() net.Addr {
	return l.addr
}

// Accept returns the next pending connection, or protocol.ErrWouldBlock when
// the backlog is empty.
func (l *Listener) Accept() (*Socket, error) {
	for {
		nfd, sa, err := unix.Accept(l.fd)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
				return nil, protocol.ErrWouldBlock
			default:
				return nil, fmt.Errorf("%w: accept: %v", protocol.ErrTransport, err)
			}
		}
		unix.CloseOnExec(nfd)
		if err := unix.SetNonblock(nfd, true); err != nil {
			_ = unix.Close(nfd)
			return nil, fmt.Errorf("%w: set nonblock: %v", protocol.ErrTransport, err)
		}
		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		return newSocket(nfd, sa), nil
	}
}

func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = unix.Close(l.fd)
	})
	return l.closeErr
}
