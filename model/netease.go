package model

import "strings"

// NeteaseAlbum album info returned by the NetEase API.
type NeteaseAlbum struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	PicURL string `json:"picUrl"`
}

// NeteaseArtist artist info returned by the NetEase API.
type NeteaseArtist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NeteaseSong song info returned by the NetEase API.
type NeteaseSong struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Artists  []NeteaseArtist `json:"artists"`
	Album    NeteaseAlbum    `json:"album"`
	Duration int             `json:"duration"` // Milliseconds
	URL      string          `json:"url"`      // Download URL
}

// ArtistNames joins all artist names with ", ".
func (s NeteaseSong) ArtistNames() string {
	names := make([]string, len(s.Artists))
	for i, a := range s.Artists {
		names[i] = a.Name
	}
	return strings.Join(names, ", ")
}

// NeteaseSearchResult search result page.
type NeteaseSearchResult struct {
	Songs []NeteaseSong `json:"songs"`
	Total int           `json:"total"`
}
