package activity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dyluth/gitswarm/internal/domain"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewWriter(rdb, zerolog.Nop())
}

func echoPersist(ctx context.Context, e domain.ActivityEvent) (domain.ActivityEvent, error) {
	e.ID = "event-1"
	e.Sequence = 1
	return e, nil
}

func TestAppend_DispatchesToMatchingSubscriber(t *testing.T) {
	w := newTestWriter(t)
	received := make(chan domain.ActivityEvent, 1)
	w.Subscribe(nil, func(e domain.ActivityEvent) { received <- e })

	w.Append(context.Background(), echoPersist, domain.ActivityEvent{EventType: "stream_created"})

	select {
	case e := <-received:
		if e.EventType != "stream_created" {
			t.Fatalf("got %+v", e)
		}
	default:
		t.Fatal("expected synchronous dispatch to deliver the event")
	}
}

func TestAppend_FilterExcludesNonMatchingEvents(t *testing.T) {
	w := newTestWriter(t)
	received := make(chan domain.ActivityEvent, 1)
	w.Subscribe(func(e domain.ActivityEvent) bool { return e.EventType == "wanted" }, func(e domain.ActivityEvent) {
		received <- e
	})

	w.Append(context.Background(), echoPersist, domain.ActivityEvent{EventType: "unwanted"})

	select {
	case e := <-received:
		t.Fatalf("did not expect a dispatch, got %+v", e)
	default:
	}
}

func TestAppend_PersistFailureSkipsFanOutWithoutPanicking(t *testing.T) {
	w := newTestWriter(t)
	called := false
	w.Subscribe(nil, func(e domain.ActivityEvent) { called = true })

	failingPersist := func(ctx context.Context, e domain.ActivityEvent) (domain.ActivityEvent, error) {
		return domain.ActivityEvent{}, context.DeadlineExceeded
	}
	w.Append(context.Background(), failingPersist, domain.ActivityEvent{EventType: "x"})

	if called {
		t.Fatal("fan-out must not run when persistence failed")
	}
}

func TestUnsubscribe_StopsFurtherDispatch(t *testing.T) {
	w := newTestWriter(t)
	count := 0
	unsub := w.Subscribe(nil, func(e domain.ActivityEvent) { count++ })

	w.Append(context.Background(), echoPersist, domain.ActivityEvent{EventType: "a"})
	unsub()
	w.Append(context.Background(), echoPersist, domain.ActivityEvent{EventType: "b"})

	if count != 1 {
		t.Fatalf("got %d dispatches, want 1", count)
	}
}

func TestSubscribeRemote_DeliversPublishedEvent(t *testing.T) {
	w := newTestWriter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := w.SubscribeRemote(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Close()

	w.Append(ctx, echoPersist, domain.ActivityEvent{EventType: "stream_created", RepoID: "repo-1"})

	select {
	case e := <-sub.Events():
		if e.EventType != "stream_created" || e.RepoID != "repo-1" {
			t.Fatalf("got %+v", e)
		}
	case err := <-sub.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}
