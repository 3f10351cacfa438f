package requests

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"Boombot/core/codec"
)

// Client sends single requests to a request server.
type Client struct {
	Addr     string
	Encoding codec.Chain // Used to encode the request and decode the reply
	Timeout  time.Duration
}

// Send submits nick and msg and returns the decoded reply.
func (c *Client) Send(ctx context.Context, nick, msg string) (string, error) {
	rawNick, err := c.Encoding.Encode(nick)
	if err != nil {
		return "", fmt.Errorf("encode nick: %w", err)
	}
	rawMsg, err := c.Encoding.Encode(msg)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	frame, err := EncodeRequest(rawNick, rawMsg)
	if err != nil {
		return "", err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", c.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(frame); err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}

	raw, err := io.ReadAll(io.LimitReader(conn, MaxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("server closed the connection without a reply")
	}

	reply, err := c.Encoding.Decode(raw)
	if err != nil {
		return string(raw), nil
	}
	return reply, nil
}
