package netease

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"Boombot/model"
)

// searchResponse mirrors the /search payload.
type searchResponse struct {
	Result struct {
		Songs []struct {
			ID      int64  `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				ID   int64  `json:"id"`
				Name string `json:"name"`
			} `json:"artists"`
			Album struct {
				ID     int64  `json:"id"`
				Name   string `json:"name"`
				PicURL string `json:"picUrl"`
			} `json:"album"`
			Duration int `json:"duration"`
		} `json:"songs"`
		Total int `json:"songCount"`
	} `json:"result"`
	Code int `json:"code"`
}

// SearchSongs queries the API for songs matching keyword.
func (c *Client) SearchSongs(ctx context.Context, keyword string, limit int) (*model.NeteaseSearchResult, error) {
	params := url.Values{}
	params.Set("keywords", keyword)
	params.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api returned status %d", resp.StatusCode)
	}

	var raw searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if raw.Code != 0 && raw.Code != http.StatusOK {
		return nil, fmt.Errorf("api returned code %d", raw.Code)
	}

	result := &model.NeteaseSearchResult{
		Total: raw.Result.Total,
		Songs: make([]model.NeteaseSong, len(raw.Result.Songs)),
	}
	for i, song := range raw.Result.Songs {
		artists := make([]model.NeteaseArtist, len(song.Artists))
		for j, artist := range song.Artists {
			artists[j] = model.NeteaseArtist{ID: artist.ID, Name: artist.Name}
		}
		result.Songs[i] = model.NeteaseSong{
			ID:      song.ID,
			Name:    song.Name,
			Artists: artists,
			Album: model.NeteaseAlbum{
				ID:     song.Album.ID,
				Name:   song.Album.Name,
				PicURL: song.Album.PicURL,
			},
			Duration: song.Duration,
			URL:      SongURL(song.ID),
		}
	}
	return result, nil
}

// SongURL returns the download URL for a song id.
func SongURL(id int64) string {
	return fmt.Sprintf(OuterURLFormat, id)
}
