package frame

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danmuck/replinet/internal/protocol"
	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

var ErrUnsupportedEncoding = fmt.Errorf("frame: unsupported content-encoding: %w", protocol.ErrMalformedPayload)

// LookupEncoding resolves a content-encoding label. Empty means utf-8.
func LookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
	}
	return enc, nil
}

// DecodeText returns the payload as UTF-8 JSON text for text/json frames and
// the payload unchanged for every other content type.
func DecodeText(h Header, payload []byte) ([]byte, error) {
	if !h.IsJSON() {
		return payload, nil
	}
	enc, err := LookupEncoding(h.ContentEncoding)
	if err != nil {
		return nil, err
	}
	text, err := enc.NewDecoder().Bytes(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", protocol.ErrMalformedPayload, h.ContentEncoding, err)
	}
	if !gjson.ValidBytes(text) {
		return nil, fmt.Errorf("%w: payload is not valid json", protocol.ErrMalformedPayload)
	}
	return text, nil
}

// EncodeJSON marshals v, transcodes it to contentEncoding and frames it as
// text/json.
func EncodeJSON(v any, contentEncoding string) ([]byte, error) {
	if strings.TrimSpace(contentEncoding) == "" {
		contentEncoding = EncodingUTF8
	}
	text, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	enc, err := LookupEncoding(contentEncoding)
	if err != nil {
		return nil, err
	}
	payload, err := enc.NewEncoder().Bytes(text)
	if err != nil {
		return nil, fmt.Errorf("frame: encode %s: %w", contentEncoding, err)
	}
	return Encode(ContentTypeJSON, contentEncoding, payload)
}
