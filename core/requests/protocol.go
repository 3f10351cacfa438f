// Package requests implements the song request wire protocol: a single
// length-prefixed request and a short reply per TCP connection.
//
//	request:  [1 byte len][nick][1 byte len][message]
//	reply:    up to MaxReplyBytes bytes, then the server closes
package requests

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"Boombot/core/codec"
)

// MaxReplyBytes caps the encoded reply.
const MaxReplyBytes = 128

// ErrMalformed is returned for requests that cannot be framed or decoded.
var ErrMalformed = errors.New("malformed request")

// ReadRequest reads one framed request and decodes both fields with in.
// The message is trimmed of surrounding whitespace.
func ReadRequest(r io.Reader, in codec.Chain) (nick, msg string, err error) {
	rawNick, err := readField(r)
	if err != nil {
		return "", "", fmt.Errorf("%w: nick: %v", ErrMalformed, err)
	}
	rawMsg, err := readField(r)
	if err != nil {
		return "", "", fmt.Errorf("%w: message: %v", ErrMalformed, err)
	}

	if nick, err = in.Decode(rawNick); err != nil {
		return "", "", fmt.Errorf("%w: nick: %v", ErrMalformed, err)
	}
	if msg, err = in.Decode(rawMsg); err != nil {
		return "", "", fmt.Errorf("%w: message: %v", ErrMalformed, err)
	}
	return nick, strings.TrimSpace(msg), nil
}

func readField(r io.Reader) ([]byte, error) {
	var size [1]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, err
	}
	buf := make([]byte, int(size[0]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeRequest frames already-encoded nick and message bytes.
func EncodeRequest(nick, msg []byte) ([]byte, error) {
	if len(nick) > 255 || len(msg) > 255 {
		return nil, fmt.Errorf("field too long: nick %d bytes, message %d bytes (max 255)", len(nick), len(msg))
	}
	out := make([]byte, 0, 2+len(nick)+len(msg))
	out = append(out, byte(len(nick)))
	out = append(out, nick...)
	out = append(out, byte(len(msg)))
	out = append(out, msg...)
	return out, nil
}

// EncodeReply encodes reply with the first working codec and truncates the
// result to MaxReplyBytes. If no codec can represent the reply, raw UTF-8
// is used.
func EncodeReply(reply string, out codec.Chain) []byte {
	data, err := out.Encode(reply)
	if err != nil {
		data = []byte(reply)
	}
	if len(data) > MaxReplyBytes {
		data = data[:MaxReplyBytes]
	}
	return data
}
