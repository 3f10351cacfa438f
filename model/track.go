package model

import (
	"fmt"
	"net/url"
	"path"
)

// Track represents a candidate or queued track.
type Track struct {
	Artist      string `json:"artist"`
	Title       string `json:"title"`
	Length      string `json:"length"`      // Human-readable length, e.g. "3:45"
	DownloadURL string `json:"downloadUrl"` // Source the payload is fetched from
	Source      string `json:"source"`      // Provider that produced the track
	Requester   string `json:"requester,omitempty"`

	// Payload holds the already-buffered audio bytes, if any.
	Payload []byte `json:"-"`
}

// Display returns "artist - title".
func (t *Track) Display() string {
	return fmt.Sprintf("%s - %s", t.Artist, t.Title)
}

// Filename returns the base name of the download URL path.
func (t *Track) Filename() string {
	return FilenameFromURL(t.DownloadURL)
}

// FilenameFromURL unescapes rawURL and returns the base name of its path.
// Tracks fetched from the same URL map to the same file name, which is what
// the payload store de-duplicates on.
func FilenameFromURL(rawURL string) string {
	normalized, err := url.PathUnescape(rawURL)
	if err != nil {
		normalized = rawURL
	}

	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}

	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// Provider names used in Track.Source.
const (
	SourceNetease = "netease"
	SourceLibrary = "library"
)
