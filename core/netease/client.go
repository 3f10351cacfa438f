// Package netease is a small client for NetEase-compatible music APIs
// (e.g. NeteaseCloudMusicApi deployments).
package netease

import (
	"net/http"
	"strings"
	"time"
)

// OuterURLFormat is the public redirect that resolves a song id to its mp3.
const OuterURLFormat = "https://music.163.com/song/media/outer/url?id=%d.mp3"

// Client NetEase API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

// SetBaseURL overrides the API base URL.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

// SetTimeout sets the per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}
