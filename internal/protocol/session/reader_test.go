package session

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/replinet/internal/protocol"
	"github.com/danmuck/replinet/internal/protocol/frame"
	"github.com/danmuck/replinet/internal/testutil/testlog"
)

func encodeAction(t *testing.T, payload string) []byte {
	t.Helper()
	wire, err := frame.Encode(frame.ContentTypeJSON, "utf-8", []byte(payload))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return wire
}

func TestReaderFragmentationInvariance(t *testing.T) {
	testlog.Start(t)
	wire := encodeAction(t, `{"action":"move","value":[1,2]}`)

	whole := NewReader(DefaultConfig())
	if err := whole.Feed(wire); err != nil {
		t.Fatalf("feed whole: %v", err)
	}
	want, ok := whole.TakeMessage()
	if !ok {
		t.Fatalf("expected message from whole feed")
	}

	for size := 1; size <= len(wire); size++ {
		r := NewReader(DefaultConfig())
		count := 0
		for off := 0; off < len(wire); off += size {
			end := min(off+size, len(wire))
			if err := r.Feed(wire[off:end]); err != nil {
				t.Fatalf("size=%d feed: %v", size, err)
			}
			if msg, ok := r.TakeMessage(); ok {
				count++
				if msg.Header != want.Header || !bytes.Equal(msg.Payload, want.Payload) {
					t.Fatalf("size=%d mismatch: got=%+v want=%+v", size, msg, want)
				}
			}
		}
		if count != 1 {
			t.Fatalf("size=%d: expected exactly one message, got %d", size, count)
		}
	}
}

func TestReaderThreeFeeds(t *testing.T) {
	testlog.Start(t)
	payload := `{"action":"x"}`
	wire := encodeAction(t, payload)
	hl := frame.ParseLengthPrefix(wire)

	r := NewReader(DefaultConfig())
	parts := [][]byte{
		wire[:frame.PrefixLen],
		wire[frame.PrefixLen : frame.PrefixLen+hl],
		wire[frame.PrefixLen+hl:],
	}
	wantStates := []ReaderState{AwaitingHeader, AwaitingPayload, Complete}
	completed := 0
	for i, part := range parts {
		if err := r.Feed(part); err != nil {
			t.Fatalf("feed %d: %v", i, err)
		}
		if r.State() != wantStates[i] {
			t.Fatalf("feed %d: state=%s want=%s", i, r.State(), wantStates[i])
		}
		if i < len(parts)-1 {
			if _, ok := r.TakeMessage(); ok {
				t.Fatalf("feed %d: message produced early", i)
			}
		}
	}
	msg, ok := r.TakeMessage()
	if ok {
		completed++
	}
	if _, ok := r.TakeMessage(); ok {
		completed++
	}
	if completed != 1 {
		t.Fatalf("expected exactly one completed message, got %d", completed)
	}
	if string(msg.Payload) != payload {
		t.Fatalf("payload mismatch: %q", msg.Payload)
	}
	if r.State() != AwaitingLengthPrefix {
		t.Fatalf("take must rearm reader, state=%s", r.State())
	}
}

func TestReaderRetainsBytesBeyondFrame(t *testing.T) {
	testlog.Start(t)
	first := encodeAction(t, `{"action":"a"}`)
	second := encodeAction(t, `{"action":"b"}`)

	r := NewReader(DefaultConfig())
	if err := r.Feed(append(append([]byte{}, first...), second[:3]...)); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if r.Buffered() != 3 {
		t.Fatalf("expected 3 surplus bytes, got %d", r.Buffered())
	}
	if _, ok := r.TakeMessage(); !ok {
		t.Fatalf("expected first message")
	}
	if err := r.Feed(second[3:]); err != nil {
		t.Fatalf("feed rest: %v", err)
	}
	msg, ok := r.TakeMessage()
	if !ok || string(msg.Payload) != `{"action":"b"}` {
		t.Fatalf("expected second message, got ok=%v %q", ok, msg.Payload)
	}
}

func TestReaderAdvanceCompletesBufferedFrame(t *testing.T) {
	testlog.Start(t)
	first := encodeAction(t, `{"action":"a"}`)
	second := encodeAction(t, `{"action":"b"}`)

	r := NewReader(DefaultConfig())
	if err := r.Feed(append(append([]byte{}, first...), second...)); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if _, ok := r.TakeMessage(); !ok {
		t.Fatalf("expected first message")
	}
	if _, ok := r.TakeMessage(); ok {
		t.Fatalf("second frame taken before advance")
	}
	if err := r.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if r.State() != Complete {
		t.Fatalf("expected complete, state=%s", r.State())
	}
	msg, ok := r.TakeMessage()
	if !ok || string(msg.Payload) != `{"action":"b"}` {
		t.Fatalf("expected second message, got ok=%v %q", ok, msg.Payload)
	}
	if err := r.Advance(); err != nil || r.State() != AwaitingLengthPrefix || r.Buffered() != 0 {
		t.Fatalf("empty advance: err=%v state=%s buffered=%d", err, r.State(), r.Buffered())
	}
}

func TestReaderAdvanceReportsBufferedHeaderError(t *testing.T) {
	testlog.Start(t)
	r := NewReader(DefaultConfig())
	if err := r.Feed(append(encodeAction(t, `{}`), 0, 0)); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if _, ok := r.TakeMessage(); !ok {
		t.Fatalf("expected first message")
	}
	if err := r.Advance(); !errors.Is(err, protocol.ErrMalformedHeader) {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
	if err := r.Feed([]byte{1}); !errors.Is(err, protocol.ErrMalformedHeader) {
		t.Fatalf("header error should stick, got %v", err)
	}
}

func TestReaderResetDiscardsPartialState(t *testing.T) {
	testlog.Start(t)
	wire := encodeAction(t, `{"action":"x"}`)
	r := NewReader(DefaultConfig())
	if err := r.Feed(wire[:5]); err != nil {
		t.Fatalf("feed: %v", err)
	}
	r.Reset()
	if r.State() != AwaitingLengthPrefix || r.Buffered() != 0 {
		t.Fatalf("reset left state=%s buffered=%d", r.State(), r.Buffered())
	}
	if err := r.Feed(wire); err != nil {
		t.Fatalf("feed after reset: %v", err)
	}
	if _, ok := r.TakeMessage(); !ok {
		t.Fatalf("expected message after reset")
	}
}

func TestReaderMalformedHeaderIsSticky(t *testing.T) {
	testlog.Start(t)
	bad := []byte{0, 4, 'n', 'o', 'p', 'e'}
	r := NewReader(DefaultConfig())
	if err := r.Feed(bad); !errors.Is(err, protocol.ErrMalformedHeader) {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
	if err := r.Feed(encodeAction(t, `{}`)); !errors.Is(err, protocol.ErrMalformedHeader) {
		t.Fatalf("expected sticky ErrMalformedHeader, got %v", err)
	}
}

func TestReaderZeroLengthPrefix(t *testing.T) {
	testlog.Start(t)
	r := NewReader(DefaultConfig())
	if err := r.Feed([]byte{0, 0}); !errors.Is(err, protocol.ErrMalformedHeader) {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
}

type scriptedSource struct {
	reads []func(p []byte) (int, error)
}

func (s *scriptedSource) Read(p []byte) (int, error) {
	if len(s.reads) == 0 {
		return 0, io.EOF
	}
	next := s.reads[0]
	s.reads = s.reads[1:]
	return next(p)
}

func TestReaderFillClassifiesReads(t *testing.T) {
	testlog.Start(t)
	wire := encodeAction(t, `{"action":"x"}`)
	src := &scriptedSource{reads: []func(p []byte) (int, error){
		func(p []byte) (int, error) { return copy(p, wire[:4]), nil },
		func(p []byte) (int, error) { return 0, protocol.ErrWouldBlock },
		func(p []byte) (int, error) { return copy(p, wire[4:]), nil },
		func(p []byte) (int, error) { return 0, nil },
	}}

	r := NewReader(DefaultConfig())
	if n, err := r.Fill(src); err != nil || n != 4 {
		t.Fatalf("fill 1: n=%d err=%v", n, err)
	}
	if n, err := r.Fill(src); err != nil || n != 0 {
		t.Fatalf("would-block fill: n=%d err=%v", n, err)
	}
	if _, err := r.Fill(src); err != nil {
		t.Fatalf("fill 3: %v", err)
	}
	if _, ok := r.TakeMessage(); !ok {
		t.Fatalf("expected message")
	}
	if _, err := r.Fill(src); !errors.Is(err, protocol.ErrPeerClosed) {
		t.Fatalf("expected ErrPeerClosed on zero read, got %v", err)
	}
	if _, err := r.Fill(src); !errors.Is(err, protocol.ErrPeerClosed) {
		t.Fatalf("expected ErrPeerClosed on EOF, got %v", err)
	}
}

func TestReaderFillWrapsTransportErrors(t *testing.T) {
	testlog.Start(t)
	src := &scriptedSource{reads: []func(p []byte) (int, error){
		func(p []byte) (int, error) { return 0, errors.New("connection reset by peer") },
	}}
	r := NewReader(DefaultConfig())
	if _, err := r.Fill(src); !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}
