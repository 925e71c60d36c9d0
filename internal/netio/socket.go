//go:build linux || darwin || freebsd || netbsd || openbsd

package netio

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync"

	"github.com/danmuck/replinet/internal/protocol"
	"golang.org/x/sys/unix"
)

// Socket is one accepted, non-blocking stream socket. Read and Write never
// wait: when the kernel has nothing to give or no room to take they return
// protocol.ErrWouldBlock.
type Socket struct {
	fd   int
	peer string

	closeOnce sync.Once
	closeErr  error
}

func newSocket(fd int, sa unix.Sockaddr) *Socket {
	return &Socket{fd: fd, peer: SockaddrString(sa)}
}

func (s *Socket) Fd() int {
	return s.fd
}

func (s *Socket) Peer() string {
	return s.peer
}

func (s *Socket) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == nil && n == 0 && len(p) > 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
			return 0, protocol.ErrWouldBlock
		default:
			return 0, fmt.Errorf("%w: read fd=%d: %v", protocol.ErrTransport, s.fd, err)
		}
	}
}

func (s *Socket) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
			return 0, protocol.ErrWouldBlock
		default:
			return 0, fmt.Errorf("%w: write fd=%d: %v", protocol.ErrTransport, s.fd, err)
		}
	}
}

// Close releases the descriptor exactly once; later calls return the first
// result.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = unix.Close(s.fd)
	})
	return s.closeErr
}

// SockaddrString renders a peer address as host:port.
func SockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrUnix:
		return a.Name
	case nil:
		return ""
	default:
		return fmt.Sprintf("%T", sa)
	}
}
