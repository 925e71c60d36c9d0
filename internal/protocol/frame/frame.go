package frame

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/danmuck/replinet/internal/protocol"
	"github.com/tidwall/gjson"
)

const (
	// PrefixLen is the width of the big-endian header length prefix.
	PrefixLen = 2
	// MaxHeaderLen is the largest header block the prefix can describe.
	MaxHeaderLen = math.MaxUint16

	FieldContentType     = "content-type"
	FieldContentEncoding = "content-encoding"
	FieldContentLength   = "content-length"

	ContentTypeJSON   = "text/json"
	ContentTypeBinary = "binary/custom-server-binary-type"
	EncodingUTF8      = "utf-8"
)

var (
	ErrHeaderTooLarge  = fmt.Errorf("frame: header too large: %w", protocol.ErrMalformedHeader)
	ErrPayloadTooLarge = fmt.Errorf("frame: payload too large: %w", protocol.ErrMalformedHeader)
	ErrLengthMismatch  = fmt.Errorf("frame: content-length does not match payload: %w", protocol.ErrMalformedPayload)
	ErrTruncated       = fmt.Errorf("frame: truncated frame: %w", protocol.ErrTransport)
)

// Header is the decoded header block. Field order is the wire order.
type Header struct {
	ContentType     string `json:"content-type"`
	ContentEncoding string `json:"content-encoding"`
	ContentLength   int    `json:"content-length"`
}

// IsJSON reports whether the payload is JSON text.
func (h Header) IsJSON() bool {
	return h.ContentType == ContentTypeJSON
}

// Message is one complete frame: header block plus payload.
type Message struct {
	Header  Header
	Payload []byte
}

// Validate checks that the header describes the payload it travels with.
func (m Message) Validate() error {
	if m.Header.ContentLength != len(m.Payload) {
		return fmt.Errorf("%w: header=%d payload=%d", ErrLengthMismatch, m.Header.ContentLength, len(m.Payload))
	}
	return nil
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxHeaderBytes  int
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxHeaderBytes:  MaxHeaderLen,
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// WithDefaults fills unset or out-of-range limits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxHeaderBytes <= 0 || l.MaxHeaderBytes > MaxHeaderLen {
		l.MaxHeaderBytes = d.MaxHeaderBytes
	}
	if l.MaxPayloadBytes <= 0 {
		l.MaxPayloadBytes = d.MaxPayloadBytes
	}
	return l
}

// CheckHeaderLen validates a decoded length prefix.
func (l Limits) CheckHeaderLen(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: zero header length", protocol.ErrMalformedHeader)
	}
	if n > l.MaxHeaderBytes {
		return fmt.Errorf("%w: %d > %d", ErrHeaderTooLarge, n, l.MaxHeaderBytes)
	}
	return nil
}

// CheckPayloadLen validates a decoded content-length.
func (l Limits) CheckPayloadLen(n int) error {
	if n > l.MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, l.MaxPayloadBytes)
	}
	return nil
}

// Encode emits prefix, header block and payload for one message.
func Encode(contentType, contentEncoding string, payload []byte) ([]byte, error) {
	hb, err := json.Marshal(Header{
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		ContentLength:   len(payload),
	})
	if err != nil {
		return nil, err
	}
	if len(hb) > MaxHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, len(hb))
	}
	out := make([]byte, PrefixLen+len(hb)+len(payload))
	binary.BigEndian.PutUint16(out[:PrefixLen], uint16(len(hb)))
	copy(out[PrefixLen:], hb)
	copy(out[PrefixLen+len(hb):], payload)
	return out, nil
}

// EncodeMessage encodes m, deriving content-length from the payload.
func EncodeMessage(m Message) ([]byte, error) {
	return Encode(m.Header.ContentType, m.Header.ContentEncoding, m.Payload)
}

// ParseLengthPrefix decodes the header length from the first PrefixLen bytes.
func ParseLengthPrefix(b []byte) int {
	return int(binary.BigEndian.Uint16(b[:PrefixLen]))
}

// DecodeHeader parses a header block and checks the required fields.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) == 0 {
		return Header{}, fmt.Errorf("%w: empty header block", protocol.ErrMalformedHeader)
	}
	if !gjson.ValidBytes(b) {
		return Header{}, fmt.Errorf("%w: header is not valid json", protocol.ErrMalformedHeader)
	}
	if !gjson.ParseBytes(b).IsObject() {
		return Header{}, fmt.Errorf("%w: header is not an object", protocol.ErrMalformedHeader)
	}
	res := gjson.GetManyBytes(b, FieldContentType, FieldContentEncoding, FieldContentLength)
	if res[0].Type != gjson.String {
		return Header{}, fmt.Errorf("%w: missing %s", protocol.ErrMalformedHeader, FieldContentType)
	}
	if res[1].Type != gjson.String {
		return Header{}, fmt.Errorf("%w: missing %s", protocol.ErrMalformedHeader, FieldContentEncoding)
	}
	if res[2].Type != gjson.Number {
		return Header{}, fmt.Errorf("%w: missing %s", protocol.ErrMalformedHeader, FieldContentLength)
	}
	n := res[2].Float()
	if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
		return Header{}, fmt.Errorf("%w: invalid %s %s", protocol.ErrMalformedHeader, FieldContentLength, res[2].Raw)
	}
	return Header{
		ContentType:     res[0].String(),
		ContentEncoding: res[1].String(),
		ContentLength:   int(n),
	}, nil
}

// ReadFrame blocks until one complete frame has been read from r.
func ReadFrame(r io.Reader, limits Limits) (Message, error) {
	limits = limits.WithDefaults()
	var prefix [PrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, protocol.ErrPeerClosed
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, ErrTruncated
		}
		return Message{}, err
	}

	hl := ParseLengthPrefix(prefix[:])
	if err := limits.CheckHeaderLen(hl); err != nil {
		return Message{}, err
	}
	hb := make([]byte, hl)
	if _, err := io.ReadFull(r, hb); err != nil {
		return Message{}, truncated(err)
	}
	h, err := DecodeHeader(hb)
	if err != nil {
		return Message{}, err
	}
	if err := limits.CheckPayloadLen(h.ContentLength); err != nil {
		return Message{}, err
	}

	payload := make([]byte, h.ContentLength)
	if h.ContentLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, truncated(err)
		}
	}
	return Message{Header: h, Payload: payload}, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}
