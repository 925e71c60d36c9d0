package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/replinet/internal/protocol/frame"
	"github.com/tidwall/gjson"
)

var (
	ErrActionExists  = errors.New("server: action already registered")
	ErrInvalidAction = errors.New("server: invalid action name")
)

// Request is one decoded frame awaiting its response.
type Request struct {
	Header  frame.Header
	Payload []byte
	// Text is the payload as UTF-8 JSON for text/json requests.
	Text []byte
}

// NewRequest decodes the payload of msg according to its header.
func NewRequest(msg frame.Message) (Request, error) {
	if err := msg.Validate(); err != nil {
		return Request{}, err
	}
	req := Request{Header: msg.Header, Payload: msg.Payload}
	if !msg.Header.IsJSON() {
		return req, nil
	}
	text, err := frame.DecodeText(msg.Header, msg.Payload)
	if err != nil {
		return Request{}, err
	}
	req.Text = text
	return req, nil
}

func (r Request) IsJSON() bool {
	return r.Header.IsJSON()
}

// Get looks up a gjson path in a JSON request body.
func (r Request) Get(path string) gjson.Result {
	if !r.IsJSON() {
		return gjson.Result{}
	}
	return gjson.GetBytes(r.Text, path)
}

func (r Request) Action() string {
	return r.Get("action").String()
}

func (r Request) Value() gjson.Result {
	return r.Get("value")
}

// Response is what a Handler produces for one Request. When JSON is set it
// is marshaled as text/json; otherwise Payload is sent as-is.
type Response struct {
	ContentType     string
	ContentEncoding string
	Payload         []byte
	JSON            any
}

func JSON(v any) Response {
	return Response{JSON: v}
}

func Raw(contentType, contentEncoding string, payload []byte) Response {
	return Response{ContentType: contentType, ContentEncoding: contentEncoding, Payload: payload}
}

func errorResponse(err error) Response {
	return JSON(map[string]string{"error": err.Error()})
}

// Encode frames the response. defaultEncoding applies to JSON responses that
// do not name their own content-encoding.
func (r Response) Encode(defaultEncoding string) ([]byte, error) {
	if r.JSON != nil {
		enc := r.ContentEncoding
		if enc == "" {
			enc = defaultEncoding
		}
		return frame.EncodeJSON(r.JSON, enc)
	}
	ct := r.ContentType
	if ct == "" {
		ct = frame.ContentTypeBinary
	}
	return frame.Encode(ct, r.ContentEncoding, r.Payload)
}

// Handler maps one request to one response. It runs on the server loop and
// must not block.
type Handler interface {
	Handle(req Request) (Response, error)
}

type HandlerFunc func(req Request) (Response, error)

func (f HandlerFunc) Handle(req Request) (Response, error) {
	return f(req)
}

// ActionFunc computes the result for one action from the request's value.
type ActionFunc func(value gjson.Result) (any, error)

// ActionHandler routes JSON requests by their "action" field.
type ActionHandler struct {
	actions map[string]ActionFunc
}

// NewActionHandler returns a handler with the built-in echo and ping actions.
func NewActionHandler() *ActionHandler {
	h := &ActionHandler{actions: make(map[string]ActionFunc)}
	_ = h.Register("echo", func(value gjson.Result) (any, error) {
		return value.Value(), nil
	})
	_ = h.Register("ping", func(gjson.Result) (any, error) {
		return "pong", nil
	})
	return h
}

func (h *ActionHandler) Register(name string, fn ActionFunc) error {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return fmt.Errorf("%w: %q", ErrInvalidAction, name)
	}
	if _, ok := h.actions[name]; ok {
		return fmt.Errorf("%w: %q", ErrActionExists, name)
	}
	h.actions[name] = fn
	return nil
}

func (h *ActionHandler) Handle(req Request) (Response, error) {
	if !req.IsJSON() {
		first := req.Payload[:min(10, len(req.Payload))]
		body := append([]byte("First 10 bytes of request: "), first...)
		return Raw(req.Header.ContentType, "binary", body), nil
	}
	action := req.Action()
	fn, ok := h.actions[action]
	if !ok {
		return JSON(map[string]any{"result": fmt.Sprintf("unknown action %q", action)}), nil
	}
	result, err := fn(req.Value())
	if err != nil {
		return Response{}, fmt.Errorf("action %q: %w", action, err)
	}
	return JSON(map[string]any{"result": result}), nil
}
