package client

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/danmuck/replinet/internal/protocol"
	"github.com/danmuck/replinet/internal/protocol/frame"
	"github.com/danmuck/replinet/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := NextBackoffDelay(cfg, i+1, nil); got != w {
			t.Fatalf("attempt%d got=%v want=%v", i+1, got, w)
		}
	}
	if got := NextBackoffDelay(BackoffConfig{}, 3, nil); got != 0 {
		t.Fatalf("zero config got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		got := NextBackoffDelay(cfg, 1, rng)
		if got < 125*time.Millisecond || got > 375*time.Millisecond {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
}

// serveFrames answers each request frame with handle until the peer leaves.
func serveFrames(t *testing.T, handle func(frame.Message) []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				for {
					msg, err := frame.ReadFrame(conn, frame.DefaultLimits())
					if err != nil {
						return
					}
					if out := handle(msg); out != nil {
						if _, err := conn.Write(out); err != nil {
							return
						}
					}
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func TestDoJSONRoundTrip(t *testing.T) {
	testlog.Start(t)
	addr := serveFrames(t, func(msg frame.Message) []byte {
		text, err := frame.DecodeText(msg.Header, msg.Payload)
		if err != nil {
			return nil
		}
		wire, _ := frame.EncodeJSON(map[string]any{"result": string(text)}, msg.Header.ContentEncoding)
		return wire
	})

	cfg := DefaultConfig()
	cfg.Encoding = "utf-16le"
	conn, err := Dial(context.Background(), addr, cfg)
	require.NoError(t, err)
	defer conn.Close()

	for _, action := range []string{"ping", "echo"} {
		res, err := conn.DoJSON(context.Background(), map[string]string{"action": action})
		require.NoError(t, err)
		require.Equal(t, `{"action":"`+action+`"}`, res.Get("result").String())
	}
}

func TestDoJSONSendsEncodedFrameVerbatim(t *testing.T) {
	testlog.Start(t)
	req := map[string]any{"action": "echo", "value": "café"}
	want, err := frame.EncodeJSON(req, "utf-16le")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, len(want))
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		got <- buf
		resp, _ := frame.Encode(frame.ContentTypeBinary, "binary", []byte{1})
		_, _ = conn.Write(resp)
	}()

	cfg := DefaultConfig()
	cfg.Encoding = "utf-16le"
	conn, err := Dial(context.Background(), ln.Addr().String(), cfg)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.DoJSON(context.Background(), req)
	require.ErrorIs(t, err, protocol.ErrMalformedPayload)
	require.Equal(t, want, <-got)
}

func TestDoCancelledClosesConn(t *testing.T) {
	testlog.Start(t)
	addr := serveFrames(t, func(frame.Message) []byte { return nil })
	conn, err := Dial(context.Background(), addr, DefaultConfig())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err = conn.Do(ctx, frame.Message{Header: frame.Header{ContentType: frame.ContentTypeBinary}, Payload: []byte{1}})
	require.ErrorIs(t, err, context.Canceled)

	_, err = conn.Do(context.Background(), frame.Message{Header: frame.Header{ContentType: frame.ContentTypeBinary}})
	require.ErrorIs(t, err, ErrConnClosed)
	require.NoError(t, conn.Close())
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := DefaultConfig()
	cfg.MaxConnectAttempts = 3
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2}
	_, err = Dial(context.Background(), addr, cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 3 attempts")

	_, err = Dial(context.Background(), " ", cfg)
	require.True(t, errors.Is(err, ErrAddressRequired))
}

func TestDialStopsOnContextCancel(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := DefaultConfig()
	cfg.MaxConnectAttempts = 100
	cfg.Backoff = BackoffConfig{InitialDelay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = Dial(ctx, addr, cfg)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
