package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Boombot/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(New(fakeStatus{}, hub, nil, Options{Logger: zap.NewNop()}).Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/nowplaying"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNowPlaying(t *testing.T, conn *websocket.Conn) model.NowPlaying {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var np model.NowPlaying
	if err := json.Unmarshal(data, &np); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return np
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)

	// Delivered either by fan-out or as the latest state on registration.
	hub.OnNowPlaying(model.NowPlaying{Title: "first"})
	if np := readNowPlaying(t, conn); np.Title != "first" {
		t.Errorf("expected first, got %q", np.Title)
	}

	hub.OnNowPlaying(model.NowPlaying{Title: "second", QueueDepth: 2})
	np := readNowPlaying(t, conn)
	if np.Title != "second" || np.QueueDepth != 2 {
		t.Errorf("unexpected update %+v", np)
	}
}

func TestHub_LateJoinerGetsLatest(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	first := dialHub(t, hub)
	hub.OnNowPlaying(model.NowPlaying{Title: "Idle", Idle: true})
	readNowPlaying(t, first)

	late := dialHub(t, hub)
	if np := readNowPlaying(t, late); np.Title != "Idle" || !np.Idle {
		t.Errorf("unexpected snapshot %+v", np)
	}
}

func TestHub_OnNowPlayingNeverBlocks(t *testing.T) {
	hub := NewHub(zap.NewNop()) // Run not started

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.OnNowPlaying(model.NowPlaying{Title: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnNowPlaying blocked")
	}
}

func TestHub_StopClosesListeners(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	hub.OnNowPlaying(model.NowPlaying{Title: "x"})
	readNowPlaying(t, conn)

	cancel()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure) {
		t.Errorf("expected close frame, got %v", err)
	}
}
