//go:build linux || darwin || freebsd || netbsd || openbsd

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/replinet/internal/logging"
	"github.com/danmuck/replinet/internal/netio"
	"github.com/danmuck/replinet/internal/observability"
	"github.com/danmuck/replinet/internal/protocol"
	"github.com/danmuck/replinet/internal/protocol/session"
	"github.com/rs/zerolog"
)

var (
	ErrNotListening   = errors.New("server: not listening")
	ErrServerClosed   = errors.New("server: closed")
	ErrAlreadyServing = errors.New("server: already serving")
)

// snapshotEvery bounds how stale Connections may get while nothing is
// accepted or closed.
const snapshotEvery = time.Second

// Config is the server loop configuration.
type Config struct {
	ListenAddr     string
	MaxConnections int
	Session        session.Config
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:     "127.0.0.1:65432",
		MaxConnections: 1024,
		Session:        session.DefaultConfig(),
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	c.Session = c.Session.WithDefaults()
	return c
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.log = logger
	}
}

// WithPoller replaces the platform poller, mainly for tests.
func WithPoller(p netio.Poller) Option {
	return func(s *Server) {
		s.poller = p
	}
}

// Server multiplexes every connection on one goroutine.
type Server struct {
	cfg     Config
	handler Handler
	log     zerolog.Logger

	ln      *netio.Listener
	poller  netio.Poller
	clients map[int]*Client
	reaper  *Reaper

	serving   atomic.Bool
	closeOnce sync.Once
	closed    atomic.Bool

	snapshot    atomic.Pointer[[]ConnInfo]
	dirty       bool
	publishedAt time.Time
}

func New(cfg Config, handler Handler, opts ...Option) *Server {
	cfg = cfg.WithDefaults()
	if handler == nil {
		handler = NewActionHandler()
	}
	s := &Server{
		cfg:     cfg,
		handler: handler,
		log:     logging.Component("server"),
		clients: make(map[int]*Client),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Session.IdleTimeout > 0 {
		s.reaper = NewReaper(cfg.Session.IdleTimeout)
	}
	empty := []ConnInfo{}
	s.snapshot.Store(&empty)
	return s
}

// Listen binds the listening socket and registers it with the poller.
func (s *Server) Listen() error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if s.ln != nil {
		return nil
	}
	if s.poller == nil {
		p, err := netio.NewPoller()
		if err != nil {
			return fmt.Errorf("server: poller: %w", err)
		}
		s.poller = p
	}
	ln, err := netio.Listen(s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	if err := s.poller.Register(ln.Fd(), netio.InterestRead); err != nil {
		_ = ln.Close()
		return fmt.Errorf("server: register listener: %w", err)
	}
	s.ln = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs the loop until ctx is cancelled, then closes everything.
// Shutdown latency is bounded by the poll interval.
func (s *Server) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}
	if err := s.Listen(); err != nil {
		return err
	}
	defer s.Close()
	for {
		if err := ctx.Err(); err != nil {
			s.log.Info().Msg("shutting down")
			return nil
		}
		if err := s.poll(); err != nil {
			return err
		}
	}
}

func (s *Server) poll() error {
	events, err := s.poller.Wait(s.cfg.Session.PollInterval)
	if err != nil {
		return fmt.Errorf("server: wait: %w", err)
	}
	acceptReady := false
	for _, ev := range events {
		if ev.Fd == s.ln.Fd() {
			acceptReady = true
			continue
		}
		c, ok := s.clients[ev.Fd]
		if !ok {
			continue
		}
		if err := c.OnReadiness(ev.Readable, ev.Writable); err != nil {
			s.drop(c, err)
		}
	}
	// Accepting last keeps a reused fd from receiving a stale event.
	if acceptReady {
		s.acceptPending()
	}
	s.reap()
	s.publish()
	return nil
}

func (s *Server) acceptPending() {
	for {
		sock, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, protocol.ErrWouldBlock) {
				s.log.Error().Err(err).Msg("accept")
			}
			return
		}
		if len(s.clients) >= s.cfg.MaxConnections {
			observability.RecordRejected()
			s.log.Warn().
				Str("peer", sock.Peer()).
				Int("max_connections", s.cfg.MaxConnections).
				Msg("connection rejected")
			_ = sock.Close()
			continue
		}
		c := NewClient(sock, s.poller, s.handler, s.cfg.Session, s.log)
		if err := c.Activate(); err != nil {
			s.log.Error().Err(err).Str("peer", sock.Peer()).Msg("activate connection")
			c.Close()
			continue
		}
		s.clients[c.Fd()] = c
		s.dirty = true
		observability.RecordAccepted(len(s.clients))
		s.log.Info().Str("conn", c.ID()).Str("peer", sock.Peer()).Msg("accepted connection")
	}
}

func (s *Server) drop(c *Client, cause error) {
	reason := closeReason(cause)
	event := s.log.Error()
	switch {
	case errors.Is(cause, protocol.ErrPeerClosed):
		event = s.log.Debug()
	case errors.Is(cause, ErrIdleTimeout):
		event = s.log.Info()
	case errors.Is(cause, protocol.ErrMalformedHeader), errors.Is(cause, protocol.ErrMalformedPayload):
		event = s.log.Warn()
	}
	event.Err(cause).Str("conn", c.ID()).Str("reason", reason).Msg("closing connection")
	c.Close()
	delete(s.clients, c.Fd())
	s.dirty = true
	observability.RecordClosed(reason, len(s.clients))
}

func (s *Server) reap() {
	if s.reaper == nil {
		return
	}
	for _, c := range s.reaper.Expired(time.Now(), s.clients) {
		s.drop(c, ErrIdleTimeout)
	}
}

func (s *Server) publish() {
	now := time.Now()
	if !s.dirty && now.Sub(s.publishedAt) < snapshotEvery {
		return
	}
	infos := make([]ConnInfo, 0, len(s.clients))
	for _, c := range s.clients {
		infos = append(infos, c.Info())
	}
	sortConnInfo(infos)
	s.snapshot.Store(&infos)
	s.dirty = false
	s.publishedAt = now
}

// Connections returns the snapshot last published by the loop. Safe from any
// goroutine.
func (s *Server) Connections() []ConnInfo {
	p := s.snapshot.Load()
	out := make([]ConnInfo, len(*p))
	copy(out, *p)
	return out
}

// Close tears down every client, the listener and the poller. Only call it
// from the loop goroutine or after Serve has returned.
func (s *Server) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		for fd, c := range s.clients {
			c.Close()
			delete(s.clients, fd)
			observability.RecordClosed("shutdown", len(s.clients))
		}
		if s.ln != nil {
			if s.poller != nil {
				if err := s.poller.Deregister(s.ln.Fd()); err != nil {
					s.log.Warn().Err(errors.Join(protocol.ErrDeregister, err)).Msg("deregister listener")
				}
			}
			if err := s.ln.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.poller != nil {
			if err := s.poller.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		empty := []ConnInfo{}
		s.snapshot.Store(&empty)
	})
	return errors.Join(errs...)
}
