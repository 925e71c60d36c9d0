package server

import (
	"errors"
	"testing"

	"github.com/danmuck/replinet/internal/protocol"
	"github.com/danmuck/replinet/internal/protocol/frame"
	"github.com/danmuck/replinet/internal/testutil/testlog"
	"github.com/tidwall/gjson"
)

func message(contentType, encoding, body string) frame.Message {
	return frame.Message{
		Header:  frame.Header{ContentType: contentType, ContentEncoding: encoding, ContentLength: len(body)},
		Payload: []byte(body),
	}
}

func TestActionHandlerRegister(t *testing.T) {
	testlog.Start(t)
	h := NewActionHandler()
	if err := h.Register("echo", func(gjson.Result) (any, error) { return nil, nil }); !errors.Is(err, ErrActionExists) {
		t.Fatalf("expected ErrActionExists, got %v", err)
	}
	if err := h.Register("  ", func(gjson.Result) (any, error) { return nil, nil }); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	if err := h.Register("double", func(v gjson.Result) (any, error) { return v.Int() * 2, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}

	req, err := NewRequest(message(frame.ContentTypeJSON, "utf-8", `{"action":"double","value":21}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := h.Handle(req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	wire, err := resp.Encode("utf-8")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := string(wire[len(wire)-len(`{"result":42}`):]); got != `{"result":42}` {
		t.Fatalf("unexpected payload: %s", got)
	}
}

func TestActionHandlerWrapsActionErrors(t *testing.T) {
	testlog.Start(t)
	h := NewActionHandler()
	sentinel := errors.New("no such entity")
	_ = h.Register("lookup", func(gjson.Result) (any, error) { return nil, sentinel })
	req, err := NewRequest(message(frame.ContentTypeJSON, "", `{"action":"lookup"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if _, err := h.Handle(req); !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
}

func TestRequestGetIgnoresBinaryBodies(t *testing.T) {
	testlog.Start(t)
	req, err := NewRequest(message(frame.ContentTypeBinary, "", `{"action":"ping"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if req.Action() != "" || req.Get("action").Exists() {
		t.Fatalf("binary body must not be parsed as json")
	}
}

func TestNewRequestRejectsLengthMismatch(t *testing.T) {
	testlog.Start(t)
	msg := message(frame.ContentTypeBinary, "binary", "abc")
	msg.Header.ContentLength = 5
	_, err := NewRequest(msg)
	if !errors.Is(err, frame.ErrLengthMismatch) || !errors.Is(err, protocol.ErrMalformedPayload) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestResponseEncodeUsesConnectionEncoding(t *testing.T) {
	testlog.Start(t)
	wire, err := JSON(map[string]int{"n": 1}).Encode("utf-16le")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h, err := frame.DecodeHeader(wire[frame.PrefixLen : frame.PrefixLen+frame.ParseLengthPrefix(wire)])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if h.ContentEncoding != "utf-16le" {
		t.Fatalf("content-encoding: %q", h.ContentEncoding)
	}

	wire, err = Raw("", "", []byte{1, 2}).Encode("utf-16le")
	if err != nil {
		t.Fatalf("encode raw: %v", err)
	}
	h, err = frame.DecodeHeader(wire[frame.PrefixLen : frame.PrefixLen+frame.ParseLengthPrefix(wire)])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if h.ContentType != frame.ContentTypeBinary || h.ContentLength != 2 {
		t.Fatalf("unexpected raw header: %+v", h)
	}
}
