package session

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/replinet/internal/protocol"
	"github.com/danmuck/replinet/internal/protocol/frame"
)

// ReaderState is the Reader's position within the current frame.
type ReaderState uint8

const (
	AwaitingLengthPrefix ReaderState = iota
	AwaitingHeader
	AwaitingPayload
	Complete
)

func (s ReaderState) String() string {
	switch s {
	case AwaitingLengthPrefix:
		return "awaiting_length_prefix"
	case AwaitingHeader:
		return "awaiting_header"
	case AwaitingPayload:
		return "awaiting_payload"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("reader_state(%d)", uint8(s))
	}
}

// Reader assembles one frame at a time from chunks of any size.
type Reader struct {
	limits  frame.Limits
	scratch []byte

	buf       []byte
	state     ReaderState
	headerLen int
	header    frame.Header
	consumed  int
	err       error
}

func NewReader(cfg Config) *Reader {
	cfg = cfg.WithDefaults()
	return &Reader{
		limits:  cfg.Limits,
		scratch: make([]byte, cfg.ReadChunkBytes),
	}
}

func (r *Reader) State() ReaderState {
	return r.state
}

// Buffered reports bytes held beyond the frame being assembled.
func (r *Reader) Buffered() int {
	if r.state == Complete {
		return len(r.buf) - r.consumed
	}
	return len(r.buf)
}

// Feed appends chunk and advances as far as the buffered bytes allow.
// A header failure is sticky: the stream has no boundary to resync on.
func (r *Reader) Feed(chunk []byte) error {
	if r.err != nil {
		return r.err
	}
	r.buf = append(r.buf, chunk...)
	if err := r.advance(); err != nil {
		r.err = err
		return err
	}
	return nil
}

// Fill performs one read from src and feeds whatever arrived.
func (r *Reader) Fill(src io.Reader) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := src.Read(r.scratch)
	if n > 0 {
		if ferr := r.Feed(r.scratch[:n]); ferr != nil {
			return n, ferr
		}
	}
	switch {
	case err == nil && n == 0:
		return 0, protocol.ErrPeerClosed
	case err == nil:
		return n, nil
	case errors.Is(err, protocol.ErrWouldBlock):
		return n, nil
	case errors.Is(err, io.EOF):
		return n, protocol.ErrPeerClosed
	case errors.Is(err, protocol.ErrTransport):
		return n, err
	default:
		return n, fmt.Errorf("%w: read: %v", protocol.ErrTransport, err)
	}
}

// TakeMessage hands out the completed frame and rearms for the next one.
// Bytes past the frame stay buffered for Advance or the next Feed.
func (r *Reader) TakeMessage() (frame.Message, bool) {
	if r.state != Complete {
		return frame.Message{}, false
	}
	start := frame.PrefixLen + r.headerLen
	payload := make([]byte, r.header.ContentLength)
	copy(payload, r.buf[start:r.consumed])
	msg := frame.Message{Header: r.header, Payload: payload}

	rest := copy(r.buf, r.buf[r.consumed:])
	r.buf = r.buf[:rest]
	r.rearm()
	return msg, true
}

// Advance re-examines bytes retained by TakeMessage, completing the next frame
// when it is already buffered.
func (r *Reader) Advance() error {
	if r.err != nil {
		return r.err
	}
	if err := r.advance(); err != nil {
		r.err = err
		return err
	}
	return nil
}

// Reset discards partial state and every buffered byte.
func (r *Reader) Reset() {
	r.buf = r.buf[:0]
	r.err = nil
	r.rearm()
}

func (r *Reader) rearm() {
	r.state = AwaitingLengthPrefix
	r.headerLen = 0
	r.header = frame.Header{}
	r.consumed = 0
}

func (r *Reader) advance() error {
	for {
		switch r.state {
		case AwaitingLengthPrefix:
			if len(r.buf) < frame.PrefixLen {
				return nil
			}
			hl := frame.ParseLengthPrefix(r.buf)
			if err := r.limits.CheckHeaderLen(hl); err != nil {
				return err
			}
			r.headerLen = hl
			r.state = AwaitingHeader
		case AwaitingHeader:
			end := frame.PrefixLen + r.headerLen
			if len(r.buf) < end {
				return nil
			}
			h, err := frame.DecodeHeader(r.buf[frame.PrefixLen:end])
			if err != nil {
				return err
			}
			if err := r.limits.CheckPayloadLen(h.ContentLength); err != nil {
				return err
			}
			r.header = h
			r.state = AwaitingPayload
		case AwaitingPayload:
			end := frame.PrefixLen + r.headerLen + r.header.ContentLength
			if len(r.buf) < end {
				return nil
			}
			r.consumed = end
			r.state = Complete
		default:
			return nil
		}
	}
}
