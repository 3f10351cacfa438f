package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"Boombot/model"
)

func track(title string) *model.Track {
	return &model.Track{Artist: "artist", Title: title}
}

func TestNew(t *testing.T) {
	q := New()
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop on empty queue should fail")
	}
}

func TestPushPop_FIFO(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		q.Push(track(fmt.Sprintf("t%d", i)))
	}

	if q.Len() != 5 {
		t.Fatalf("expected 5 items, got %d", q.Len())
	}

	for i := 0; i < 5; i++ {
		got, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop failed: %v", err)
		}
		if want := fmt.Sprintf("t%d", i); got.Title != want {
			t.Errorf("pop %d: expected %s, got %s", i, want, got.Title)
		}
	}
}

func TestPop_BlocksUntilPush(t *testing.T) {
	q := New()

	done := make(chan *model.Track)
	go func() {
		got, _ := q.Pop(context.Background())
		done <- got
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push(track("late"))

	select {
	case got := <-done:
		if got.Title != "late" {
			t.Errorf("expected late, got %s", got.Title)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after Push")
	}
}

func TestPop_ContextCancel(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPush_ConcurrentProducers(t *testing.T) {
	q := New()

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Push(track(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	if q.Len() != 400 {
		t.Fatalf("expected 400 items, got %d", q.Len())
	}

	// Each producer's own items must stay in its push order.
	last := make(map[int]int)
	for q.Len() > 0 {
		got, _ := q.TryPop()
		var p, i int
		fmt.Sscanf(got.Title, "%d-%d", &p, &i)
		if prev, ok := last[p]; ok && i <= prev {
			t.Fatalf("producer %d out of order: %d after %d", p, i, prev)
		}
		last[p] = i
	}
}

func TestSnapshot_DropsPayload(t *testing.T) {
	q := New()
	q.Push(&model.Track{Title: "a", Payload: []byte("audio")})

	snap := q.Snapshot()
	if len(snap) != 1 || snap[0].Title != "a" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap[0].Payload != nil {
		t.Error("snapshot should not carry payload bytes")
	}
	if q.Len() != 1 {
		t.Error("snapshot must not consume the queue")
	}
}
