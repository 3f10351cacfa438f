// Package icecast implements the source side of the Icecast protocol:
// an HTTP PUT handshake followed by raw audio bytes, plus metadata updates
// through the admin endpoint.
package icecast

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Failure classes reported by Open. Callers branch on them with errors.Is.
var (
	// ErrTransient means the connection attempt failed and may be retried.
	ErrTransient = errors.New("icecast: transient connect failure")
	// ErrAmbiguousState means the server answered in a way that could not be
	// interpreted. The connection is kept and usually works.
	ErrAmbiguousState = errors.New("icecast: ambiguous connect state")
	// ErrStaleHandle means the client was closed and must be recreated.
	ErrStaleHandle = errors.New("icecast: stale client handle")
	// ErrNotConnected is returned by Send before a successful Open.
	ErrNotConnected = errors.New("icecast: not connected")
)

// Config describes the mount the source client publishes to.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	Mount      string
	Format     string // Content type, e.g. "audio/mpeg"
	Name       string
	Genre      string
	URL        string
	Public     bool
	Bitrate    int // kbps, drives Sync pacing
	SampleRate int
	Channels   int

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) mount() string {
	if strings.HasPrefix(c.Mount, "/") {
		return c.Mount
	}
	return "/" + c.Mount
}

func (c Config) basicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte(c.User + ":" + c.Password))
}

// StreamClient is the contract the feeder drives. Implementations are not
// safe for concurrent use.
type StreamClient interface {
	Open(ctx context.Context) error
	Send(p []byte) error
	Sync()
	SetMetadata(ctx context.Context, title string) error
	Close() error
}

// Factory creates a fresh client, used when a handle goes stale.
type Factory func() StreamClient

// Client is a StreamClient speaking to a real Icecast server.
type Client struct {
	cfg        Config
	conn       net.Conn
	closed     bool
	httpClient *http.Client

	started time.Time
	sent    int64

	now   func() time.Time
	sleep func(time.Duration)
}

// NewClient creates an unconnected client.
func NewClient(cfg Config) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// NewFactory returns a Factory producing clients for cfg.
func NewFactory(cfg Config) Factory {
	return func() StreamClient { return NewClient(cfg) }
}

// Open dials the server and performs the source handshake.
// Calling Open on an already open client is a no-op.
func (c *Client) Open(ctx context.Context) error {
	if c.closed {
		return ErrStaleHandle
	}
	if c.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.addr())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransient, c.cfg.addr(), err)
	}

	if _, err := conn.Write([]byte(c.handshake())); err != nil {
		conn.Close()
		return fmt.Errorf("%w: write handshake: %v", ErrTransient, err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// The server accepted the socket but stayed silent. Keep it.
			conn.SetReadDeadline(time.Time{})
			c.markOpen(conn)
			return fmt.Errorf("%w: no handshake response", ErrAmbiguousState)
		}
		conn.Close()
		return fmt.Errorf("%w: read handshake: %v", ErrTransient, err)
	}

	code, ok := parseStatus(line)
	switch {
	case !ok:
		conn.SetReadDeadline(time.Time{})
		c.markOpen(conn)
		return fmt.Errorf("%w: unexpected response %q", ErrAmbiguousState, strings.TrimSpace(line))
	case code == http.StatusContinue || code == http.StatusOK:
		if code == http.StatusOK {
			drainHeaders(reader)
		}
		conn.SetReadDeadline(time.Time{})
		c.markOpen(conn)
		return nil
	case code >= 400:
		conn.Close()
		return fmt.Errorf("%w: server replied %d", ErrTransient, code)
	default:
		conn.SetReadDeadline(time.Time{})
		c.markOpen(conn)
		return fmt.Errorf("%w: server replied %d", ErrAmbiguousState, code)
	}
}

func (c *Client) markOpen(conn net.Conn) {
	c.conn = conn
	c.started = c.now()
	c.sent = 0
}

func (c *Client) handshake() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PUT %s HTTP/1.1\r\n", c.cfg.mount())
	fmt.Fprintf(&b, "Host: %s\r\n", c.cfg.addr())
	fmt.Fprintf(&b, "Authorization: Basic %s\r\n", c.cfg.basicAuth())
	b.WriteString("User-Agent: Boombot\r\n")
	fmt.Fprintf(&b, "Content-Type: %s\r\n", c.cfg.Format)
	if c.cfg.Name != "" {
		fmt.Fprintf(&b, "ice-name: %s\r\n", c.cfg.Name)
	}
	if c.cfg.Genre != "" {
		fmt.Fprintf(&b, "ice-genre: %s\r\n", c.cfg.Genre)
	}
	if c.cfg.URL != "" {
		fmt.Fprintf(&b, "ice-url: %s\r\n", c.cfg.URL)
	}
	public := 0
	if c.cfg.Public {
		public = 1
	}
	fmt.Fprintf(&b, "ice-public: %d\r\n", public)
	fmt.Fprintf(&b, "ice-audio-info: bitrate=%d;samplerate=%d;channels=%d\r\n",
		c.cfg.Bitrate, c.cfg.SampleRate, c.cfg.Channels)
	b.WriteString("Expect: 100-continue\r\n\r\n")
	return b.String()
}

// parseStatus extracts the code from "HTTP/1.x NNN Reason".
func parseStatus(line string) (int, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0, false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || code < 100 || code > 599 {
		return 0, false
	}
	return code, true
}

func drainHeaders(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if err != nil || strings.TrimSpace(line) == "" {
			return
		}
	}
}

// Send writes one chunk of audio.
func (c *Client) Send(p []byte) error {
	if c.closed {
		return ErrStaleHandle
	}
	if c.conn == nil {
		return ErrNotConnected
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	n, err := c.conn.Write(p)
	c.sent += int64(n)
	if err != nil {
		return fmt.Errorf("icecast: send: %w", err)
	}
	return nil
}

// Sync sleeps until the bytes sent so far would have been played at the
// configured bitrate. After a long stall the clock is rebased instead of
// bursting to catch up.
func (c *Client) Sync() {
	if c.conn == nil || c.cfg.Bitrate <= 0 {
		return
	}

	bytesPerSec := float64(c.cfg.Bitrate) * 1000 / 8
	expected := time.Duration(float64(c.sent) / bytesPerSec * float64(time.Second))
	elapsed := c.now().Sub(c.started)

	switch {
	case expected > elapsed:
		c.sleep(expected - elapsed)
	case elapsed-expected > time.Second:
		c.started = c.now().Add(-expected)
	}
}

// SetMetadata updates the song title shown to listeners.
func (c *Client) SetMetadata(ctx context.Context, title string) error {
	q := url.Values{}
	q.Set("mode", "updinfo")
	q.Set("mount", c.cfg.mount())
	q.Set("song", title)
	q.Set("charset", "UTF-8")

	u := url.URL{
		Scheme:   "http",
		Host:     c.cfg.addr(),
		Path:     "/admin/metadata",
		RawQuery: q.Encode(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("icecast: build metadata request: %w", err)
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	req.Header.Set("User-Agent", "Boombot")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("icecast: metadata request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("icecast: metadata update returned %d", resp.StatusCode)
	}
	return nil
}

// Close releases the connection. A closed client cannot be reopened.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
