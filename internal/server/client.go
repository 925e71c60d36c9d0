package server

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/replinet/internal/netio"
	"github.com/danmuck/replinet/internal/observability"
	"github.com/danmuck/replinet/internal/protocol"
	"github.com/danmuck/replinet/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Socket is the non-blocking connection a Client drives.
type Socket interface {
	io.Reader
	io.Writer
	io.Closer
	Fd() int
	Peer() string
}

// Registrar updates readiness interest for one fd.
type Registrar interface {
	Register(fd int, in netio.Interest) error
	Modify(fd int, in netio.Interest) error
	Deregister(fd int) error
}

// ConnInfo is a point-in-time view of one connection.
type ConnInfo struct {
	ID          string    `json:"id"`
	Peer        string    `json:"peer"`
	State       string    `json:"state"`
	Served      uint64    `json:"served"`
	ConnectedAt time.Time `json:"connected_at"`
	LastActive  time.Time `json:"last_active"`
}

// Client owns one accepted connection for its whole lifetime. Every method
// runs on the loop goroutine.
type Client struct {
	id      string
	sock    Socket
	fd      int
	reg     Registrar
	handler Handler
	cfg     session.Config
	log     zerolog.Logger
	now     func() time.Time

	reader *session.Reader
	writer *session.Writer
	state  State

	request       *Request
	responseBuilt bool
	requestStart  time.Time
	outcome       string

	served      uint64
	connectedAt time.Time
	lastActive  time.Time
}

func NewClient(sock Socket, reg Registrar, handler Handler, cfg session.Config, logger zerolog.Logger) *Client {
	cfg = cfg.WithDefaults()
	id := uuid.NewString()
	now := time.Now()
	return &Client{
		id:          id,
		sock:        sock,
		fd:          sock.Fd(),
		reg:         reg,
		handler:     handler,
		cfg:         cfg,
		log:         logger.With().Str("conn", id).Str("peer", sock.Peer()).Logger(),
		now:         time.Now,
		reader:      session.NewReader(cfg),
		writer:      session.NewWriter(),
		state:       StateNew,
		connectedAt: now,
		lastActive:  now,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Fd() int {
	return c.fd
}

func (c *Client) State() State {
	return c.state
}

func (c *Client) LastActive() time.Time {
	return c.lastActive
}

func (c *Client) Info() ConnInfo {
	return ConnInfo{
		ID:          c.id,
		Peer:        c.sock.Peer(),
		State:       c.state.String(),
		Served:      c.served,
		ConnectedAt: c.connectedAt,
		LastActive:  c.lastActive,
	}
}

// Activate registers read interest and starts the reading phase.
func (c *Client) Activate() error {
	if !canTransition(c.state, StateReading) {
		return transitionError(c.state, StateReading)
	}
	if err := c.reg.Register(c.fd, netio.InterestRead); err != nil {
		return fmt.Errorf("%w: register: %v", protocol.ErrTransport, err)
	}
	c.state = StateReading
	c.log.Debug().Msg("connection registered")
	return nil
}

// OnReadiness advances the connection for one readiness event. A non-nil
// error is fatal and the caller must Close the client.
func (c *Client) OnReadiness(readable, writable bool) error {
	if c.state == StateClosed {
		return nil
	}
	c.lastActive = c.now()
	if readable && c.state == StateReading {
		if err := c.onReadable(); err != nil {
			return err
		}
	}
	if writable && (c.state == StateResponding || c.state == StateDraining) {
		return c.onWritable()
	}
	return nil
}

func (c *Client) onReadable() error {
	n, err := c.reader.Fill(c.sock)
	observability.RecordBytes(observability.DirectionIn, n)
	if err != nil {
		return err
	}
	return c.takeRequest()
}

// takeRequest holds the completed frame, if any, and switches to write
// interest. Later frames stay in the reader until this one is answered.
func (c *Client) takeRequest() error {
	msg, ok := c.reader.TakeMessage()
	if !ok {
		return nil
	}
	req, err := NewRequest(msg)
	if err != nil {
		return err
	}
	c.request = &req
	c.responseBuilt = false
	c.requestStart = c.now()
	if err := c.transition(StateResponding); err != nil {
		return err
	}
	if err := c.reg.Modify(c.fd, netio.InterestWrite); err != nil {
		return fmt.Errorf("%w: modify: %v", protocol.ErrTransport, err)
	}
	c.log.Debug().
		Str("content_type", req.Header.ContentType).
		Int("content_length", req.Header.ContentLength).
		Int("buffered", c.reader.Buffered()).
		Msg("request received")
	return nil
}

func (c *Client) onWritable() error {
	if c.request == nil {
		return nil
	}
	if !c.responseBuilt {
		wire, err := c.buildResponse()
		if err != nil {
			return err
		}
		if err := c.writer.SetBuffer(wire); err != nil {
			return err
		}
		c.responseBuilt = true
		if err := c.transition(StateDraining); err != nil {
			return err
		}
	}

	pending := c.writer.Pending()
	done, err := c.writer.Write(c.sock)
	observability.RecordBytes(observability.DirectionOut, pending-c.writer.Pending())
	if err != nil {
		return err
	}
	if !done {
		return nil
	}

	c.served++
	observability.RecordRequest(c.request.Header.ContentType, c.outcome, c.now().Sub(c.requestStart))
	c.request = nil
	c.responseBuilt = false
	if err := c.transition(StateReading); err != nil {
		return err
	}
	c.log.Debug().Uint64("served", c.served).Msg("response sent")

	// A frame that arrived with the previous one is served next.
	if err := c.reader.Advance(); err != nil {
		return err
	}
	if c.reader.State() == session.Complete {
		return c.takeRequest()
	}
	if err := c.reg.Modify(c.fd, netio.InterestRead); err != nil {
		return fmt.Errorf("%w: modify: %v", protocol.ErrTransport, err)
	}
	return nil
}

// buildResponse invokes the handler exactly once for the held request.
func (c *Client) buildResponse() ([]byte, error) {
	resp, err := c.callHandler(*c.request)
	c.outcome = observability.OutcomeOK
	if err != nil {
		c.outcome = observability.OutcomeHandlerError
		c.log.Warn().Err(err).Msg("handler failed")
		resp = errorResponse(err)
	}
	wire, err := resp.Encode(c.cfg.ResponseEncoding)
	if err != nil {
		c.outcome = observability.OutcomeHandlerError
		c.log.Error().Err(err).Msg("encode response")
		return errorResponse(err).Encode(c.cfg.ResponseEncoding)
	}
	return wire, nil
}

func (c *Client) callHandler(req Request) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler.Handle(req)
}

// Close releases the connection. It is safe in every state and a second call
// only logs.
func (c *Client) Close() {
	if c.state == StateClosed {
		c.log.Debug().Msg("close on closed connection")
		return
	}
	registered := c.state != StateNew
	c.state = StateClosed
	if registered {
		if err := c.reg.Deregister(c.fd); err != nil {
			c.log.Warn().Err(errors.Join(protocol.ErrDeregister, err)).Msg("deregister")
		}
	}
	if err := c.sock.Close(); err != nil {
		c.log.Warn().Err(err).Msg("socket close")
	}
	c.request = nil
	c.reader.Reset()
	c.log.Debug().Uint64("served", c.served).Msg("connection closed")
}

func (c *Client) transition(to State) error {
	if !canTransition(c.state, to) {
		return transitionError(c.state, to)
	}
	c.state = to
	return nil
}
