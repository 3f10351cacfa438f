package model

import "sync/atomic"

// SkipCommand is the reserved message that skips the current track.
const SkipCommand = "!skip"

const (
	requestPending int32 = iota
	requestCommitted
	requestAbandoned
)

// SongRequest is a command emitted by the request server for the dispatcher.
// Exactly one of Skip or Query is meaningful. Skip commands carry no reply channel.
type SongRequest struct {
	ID         string
	Requester  string
	Query      string
	RemoteAddr string
	Skip       bool

	// Reply receives exactly one reply string. It is buffered so the
	// dispatcher never blocks on a handler that has gone away.
	Reply chan string

	// state is shared by every copy of the request. Commit and Abandon race
	// for it; the first to move it out of pending wins.
	state *atomic.Int32
}

// NewSearchRequest creates a search command with a fresh single-use reply channel.
func NewSearchRequest(id, requester, query, remoteAddr string) SongRequest {
	return SongRequest{
		ID:         id,
		Requester:  requester,
		Query:      query,
		RemoteAddr: remoteAddr,
		Reply:      make(chan string, 1),
		state:      new(atomic.Int32),
	}
}

// NewSkipRequest creates a skip command.
func NewSkipRequest(id, requester, remoteAddr string) SongRequest {
	return SongRequest{
		ID:         id,
		Requester:  requester,
		Query:      SkipCommand,
		RemoteAddr: remoteAddr,
		Skip:       true,
	}
}

// Commit marks the request as acted upon. It returns false when the
// requester already gave up. Requests without a lifecycle always commit.
func (r SongRequest) Commit() bool {
	if r.state == nil {
		return true
	}
	return r.state.CompareAndSwap(requestPending, requestCommitted) || r.state.Load() == requestCommitted
}

// Abandon marks the request as given up. It returns false when the
// dispatcher committed first, in which case a reply is on its way.
func (r SongRequest) Abandon() bool {
	if r.state == nil {
		return true
	}
	return r.state.CompareAndSwap(requestPending, requestAbandoned) || r.state.Load() == requestAbandoned
}

// Abandoned reports whether the requester gave up.
func (r SongRequest) Abandoned() bool {
	return r.state != nil && r.state.Load() == requestAbandoned
}
