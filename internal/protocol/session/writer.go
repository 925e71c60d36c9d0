package session

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/replinet/internal/protocol"
)

var ErrWriterBusy = errors.New("session: previous message not drained")

// Writer drains one encoded message across as many writes as it takes.
type Writer struct {
	buf []byte
	off int
}

func NewWriter() *Writer {
	return &Writer{}
}

// SetBuffer installs the next message. The previous one must be drained.
func (w *Writer) SetBuffer(b []byte) error {
	if w.Pending() > 0 {
		return fmt.Errorf("%w: %d bytes pending", ErrWriterBusy, w.Pending())
	}
	w.buf = b
	w.off = 0
	return nil
}

// Pending is the number of bytes not yet accepted by the socket.
func (w *Writer) Pending() int {
	return len(w.buf) - w.off
}

// Written is the number of bytes of the current message already sent.
func (w *Writer) Written() int {
	return w.off
}

// Write sends as much as dst accepts without blocking and reports whether
// the message is fully drained.
func (w *Writer) Write(dst io.Writer) (bool, error) {
	for w.Pending() > 0 {
		n, err := dst.Write(w.buf[w.off:])
		if n > 0 {
			w.off += n
		}
		if err != nil {
			if errors.Is(err, protocol.ErrWouldBlock) {
				return false, nil
			}
			if errors.Is(err, protocol.ErrTransport) {
				return false, err
			}
			return false, fmt.Errorf("%w: write: %v", protocol.ErrTransport, err)
		}
		if n == 0 {
			return false, nil
		}
	}
	w.buf = nil
	w.off = 0
	return true, nil
}
