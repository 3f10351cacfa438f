package search

import (
	"sort"
	"strings"

	"Boombot/model"

	"github.com/agnivade/levenshtein"
)

// Distance is the edit distance between "artist title" and query, both
// lower-cased.
func Distance(query string, t model.Track) int {
	return levenshtein.ComputeDistance(
		strings.ToLower(t.Artist+" "+t.Title),
		strings.ToLower(query))
}

// Rank sorts tracks by ascending Distance. Equal distances keep their input
// order. The input slice is not modified.
func Rank(query string, tracks []model.Track) []model.Track {
	type scored struct {
		track model.Track
		dist  int
	}

	items := make([]scored, len(tracks))
	for i, t := range tracks {
		items[i] = scored{track: t, dist: Distance(query, t)}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].dist < items[j].dist
	})

	out := make([]model.Track, len(items))
	for i, it := range items {
		out[i] = it.track
	}
	return out
}
