// Package client is a blocking client for the framed request/response
// protocol. One Conn carries one request at a time.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/replinet/internal/logging"
	"github.com/danmuck/replinet/internal/protocol"
	"github.com/danmuck/replinet/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var (
	ErrAddressRequired = errors.New("client: address required")
	ErrConnClosed      = errors.New("client: connection closed")
)

type Config struct {
	ConnectTimeout     time.Duration
	RequestTimeout     time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
	Encoding           string
	Limits             frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     3 * time.Second,
		RequestTimeout:     10 * time.Second,
		MaxConnectAttempts: 5,
		Backoff:            DefaultBackoffConfig(),
		Encoding:           frame.EncodingUTF8,
		Limits:             frame.DefaultLimits(),
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = d.MaxConnectAttempts
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = d.Backoff
	}
	if strings.TrimSpace(c.Encoding) == "" {
		c.Encoding = d.Encoding
	}
	c.Limits = c.Limits.WithDefaults()
	return c
}

// Conn is one client connection. Requests on a Conn are serialized.
type Conn struct {
	cfg  Config
	addr string
	log  zerolog.Logger

	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	closed bool
}

// Dial connects to addr, retrying with backoff up to MaxConnectAttempts.
func Dial(ctx context.Context, addr string, cfg Config) (*Conn, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.WithDefaults()
	logger := logging.Component("client").With().Str("addr", addr).Logger()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var attempt int
	for {
		attempt++
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			logger.Debug().Int("attempt", attempt).Msg("connected")
			return &Conn{
				cfg:  cfg,
				addr: addr,
				log:  logger,
				conn: conn,
				r:    bufio.NewReader(conn),
			}, nil
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("dial failed")
		if attempt >= cfg.MaxConnectAttempts {
			return nil, fmt.Errorf("client: dial %s after %d attempts: %w", addr, attempt, err)
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func sleepBackoff(ctx context.Context, cfg BackoffConfig, attempt int, rng *rand.Rand) error {
	timer := time.NewTimer(NextBackoffDelay(cfg, attempt, rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Do sends msg and waits for the single response frame. Any failure leaves
// the stream in an unknown position, so the connection is closed.
func (c *Conn) Do(ctx context.Context, msg frame.Message) (frame.Message, error) {
	wire, err := frame.EncodeMessage(msg)
	if err != nil {
		return frame.Message{}, err
	}
	return c.roundTrip(ctx, wire)
}

// DoJSON sends v as a text/json request and parses the JSON response.
func (c *Conn) DoJSON(ctx context.Context, v any) (gjson.Result, error) {
	wire, err := frame.EncodeJSON(v, c.cfg.Encoding)
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := c.roundTrip(ctx, wire)
	if err != nil {
		return gjson.Result{}, err
	}
	if !resp.Header.IsJSON() {
		return gjson.Result{}, fmt.Errorf("%w: response content-type %q", protocol.ErrMalformedPayload, resp.Header.ContentType)
	}
	text, err := frame.DecodeText(resp.Header, resp.Payload)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(text), nil
}

// roundTrip writes one encoded frame and reads the response under the
// request deadline.
func (c *Conn) roundTrip(ctx context.Context, wire []byte) (frame.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return frame.Message{}, ErrConnClosed
	}

	deadline := time.Now().Add(c.cfg.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return frame.Message{}, c.fail(err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := c.conn.Write(wire); err != nil {
		return frame.Message{}, c.fail(ctxErr(ctx, err))
	}
	resp, err := frame.ReadFrame(c.r, c.cfg.Limits)
	if err != nil {
		return frame.Message{}, c.fail(ctxErr(ctx, err))
	}
	_ = c.conn.SetDeadline(time.Time{})
	return resp, nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Conn) fail(err error) error {
	c.log.Debug().Err(err).Msg("closing after failed request")
	c.closed = true
	_ = c.conn.Close()
	return err
}

func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w: %v", cerr, err)
	}
	return err
}
