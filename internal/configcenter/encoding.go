package configcenter

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

const DefaultEncoding = "UTF-8"

var ErrUnknownEncoding = errors.New("unknown encoding")

// codec converts between Go strings and the on-disk bytes of a config file.
type codec struct {
	name     string
	encoding encoding.Encoding
	utf8     bool
}

func newCodec(name string) (codec, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return codec{}, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	return codec{name: name, encoding: enc, utf8: enc == unicode.UTF8}, nil
}

func (c codec) encode(content string) ([]byte, error) {
	if c.utf8 {
		return []byte(content), nil
	}
	encoded, err := c.encoding.NewEncoder().String(content)
	if err != nil {
		return nil, fmt.Errorf("encode as %s: %w", c.name, err)
	}
	return []byte(encoded), nil
}

func (c codec) decode(payload []byte) (string, error) {
	if c.utf8 {
		if !utf8.Valid(payload) {
			return strings.ToValidUTF8(string(payload), "�"), nil
		}
		return string(payload), nil
	}
	decoded, err := c.encoding.NewDecoder().Bytes(payload)
	if err != nil {
		return "", fmt.Errorf("decode as %s: %w", c.name, err)
	}
	return string(decoded), nil
}
