package unirpc

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

const encodingUTF8 = "UTF-8"

// textCodec converts strings to and from the session's wire encoding.
type textCodec struct {
	name string
	enc  encoding.Encoding
}

func lookupEncoding(name string) (textCodec, error) {
	if name == "" || strings.EqualFold(name, encodingUTF8) || strings.EqualFold(name, "utf8") {
		return textCodec{name: encodingUTF8, enc: unicode.UTF8}, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return textCodec{}, fmt.Errorf("unirpc: unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return textCodec{}, fmt.Errorf("unirpc: encoding %q is not supported", name)
	}
	canonical, err := ianaindex.MIME.Name(enc)
	if err != nil {
		if canonical, err = ianaindex.IANA.Name(enc); err != nil {
			canonical = name
		}
	}
	return textCodec{name: canonical, enc: enc}, nil
}

func (c textCodec) encode(s string) ([]byte, error) {
	if c.enc == nil || c.enc == unicode.UTF8 {
		return []byte(s), nil
	}
	return c.enc.NewEncoder().Bytes([]byte(s))
}

func (c textCodec) decode(b []byte) (string, error) {
	if c.enc == nil || c.enc == unicode.UTF8 {
		return string(b), nil
	}
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
