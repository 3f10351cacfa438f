// Package codec decodes and encodes wire text using an ordered list of
// candidate encodings; the first one that succeeds wins.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// ErrNoEncoding is returned when every candidate encoding fails.
var ErrNoEncoding = errors.New("no candidate encoding succeeded")

// Codec is one named text encoding.
type Codec struct {
	name string
	enc  encoding.Encoding // nil means strict UTF-8
}

// Name returns the canonical name the codec was looked up by.
func (c Codec) Name() string { return c.name }

// Decode converts b to a string, failing on bytes the encoding cannot represent.
func (c Codec) Decode(b []byte) (string, error) {
	if c.enc == nil {
		if !utf8.Valid(b) {
			return "", fmt.Errorf("%s: invalid byte sequence", c.name)
		}
		return string(b), nil
	}
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.name, err)
	}
	return string(out), nil
}

// Encode converts s, failing on runes the encoding cannot represent.
func (c Codec) Encode(s string) ([]byte, error) {
	if c.enc == nil {
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("%s: invalid string", c.name)
		}
		return []byte(s), nil
	}
	out, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	return out, nil
}

// Lookup resolves an encoding label such as "utf-8", "cp1251" or "koi8-r".
func Lookup(name string) (Codec, error) {
	label := strings.ToLower(strings.TrimSpace(name))
	switch label {
	case "utf-8", "utf8":
		return Codec{name: "utf-8"}, nil
	case "cp1251":
		label = "windows-1251"
	case "cp866":
		label = "ibm866"
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return Codec{}, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = label
	}
	if canonical == "utf-8" {
		return Codec{name: "utf-8"}, nil
	}
	return Codec{name: canonical, enc: enc}, nil
}

// Chain is an ordered list of codecs.
type Chain []Codec

// NewChain looks up every name in order.
func NewChain(names []string) (Chain, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("empty encoding list")
	}
	chain := make(Chain, 0, len(names))
	for _, name := range names {
		c, err := Lookup(name)
		if err != nil {
			return nil, err
		}
		chain = append(chain, c)
	}
	return chain, nil
}

// Decode returns the result of the first codec that decodes b.
func (ch Chain) Decode(b []byte) (string, error) {
	var errs []error
	for _, c := range ch {
		s, err := c.Decode(b)
		if err == nil {
			return s, nil
		}
		errs = append(errs, err)
	}
	return "", fmt.Errorf("%w: %w", ErrNoEncoding, errors.Join(errs...))
}

// Encode returns the result of the first codec that encodes s.
func (ch Chain) Encode(s string) ([]byte, error) {
	var errs []error
	for _, c := range ch {
		b, err := c.Encode(s)
		if err == nil {
			return b, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoEncoding, errors.Join(errs...))
}
