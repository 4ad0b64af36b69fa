// Package activity is the append-only event log of spec.md §4.K: every
// governance action writes one ActivityEvent, in-process subscribers are
// dispatched synchronously, and cross-process subscribers receive the same
// event over Redis Pub/Sub. Grounded directly on
// dyluth-holt/pkg/blackboard.Client's SubscribeArtefactEvents /
// SubscribeClaimEvents shape (buffered channel, context-cancellable
// goroutine, JSON over a Pub/Sub channel) generalised from one event type
// per channel to a single typed ActivityEvent channel.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dyluth/gitswarm/internal/domain"
)

const channelName = "gitswarm:activity_events"

// Writer appends events, fans them out to in-process subscribers
// synchronously, and publishes to Redis for cross-process subscribers.
// Append failures are logged and do not abort the caller, per spec.md
// §4.K's "non-blocking on failure" requirement.
type Writer struct {
	rdb *redis.Client
	log zerolog.Logger

	mu          sync.RWMutex
	subscribers []subscriberHandle
	nextID      int
}

type subscriberHandle struct {
	id      int
	filter  func(domain.ActivityEvent) bool
	handler func(domain.ActivityEvent)
}

// Persister is the narrow store dependency Writer needs: insert one event
// row and return it with its assigned sequence number.
type Persister func(ctx context.Context, e domain.ActivityEvent) (domain.ActivityEvent, error)

func NewWriter(rdb *redis.Client, log zerolog.Logger) *Writer {
	return &Writer{rdb: rdb, log: log}
}

// Append persists e via persist, then fans it out. Fan-out failures never
// propagate to the caller — they are logged only, since the log is a
// side-channel to the operation that triggered it, never its gatekeeper.
func (w *Writer) Append(ctx context.Context, persist Persister, e domain.ActivityEvent) {
	saved, err := persist(ctx, e)
	if err != nil {
		w.log.Error().Err(err).Str("event_type", string(e.EventType)).Msg("activity log append failed")
		return
	}

	w.mu.RLock()
	subs := append([]subscriberHandle(nil), w.subscribers...)
	w.mu.RUnlock()
	for _, s := range subs {
		if s.filter == nil || s.filter(saved) {
			s.handler(saved)
		}
	}

	if w.rdb == nil {
		return
	}
	payload, err := json.Marshal(saved)
	if err != nil {
		w.log.Error().Err(err).Msg("activity log marshal for publish failed")
		return
	}
	if err := w.rdb.Publish(ctx, channelName, payload).Err(); err != nil {
		w.log.Error().Err(err).Msg("activity log publish failed")
	}
}

// Unsubscribe detaches a previously registered in-process subscriber.
type Unsubscribe func()

// Subscribe registers an in-process handler invoked synchronously by
// Append, for every event matching filter (nil filter matches everything).
func (w *Writer) Subscribe(filter func(domain.ActivityEvent) bool, handler func(domain.ActivityEvent)) Unsubscribe {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.subscribers = append(w.subscribers, subscriberHandle{id: id, filter: filter, handler: handler})
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, s := range w.subscribers {
			if s.id == id {
				w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Subscription delivers cross-process ActivityEvents over Redis Pub/Sub,
// the same shape as dyluth-holt/pkg/blackboard.Subscription.
type Subscription struct {
	events chan *domain.ActivityEvent
	errors chan error
	cancel context.CancelFunc
}

func (s *Subscription) Events() <-chan *domain.ActivityEvent { return s.events }
func (s *Subscription) Errors() <-chan error                 { return s.errors }
func (s *Subscription) Close()                               { s.cancel() }

// SubscribeRemote subscribes to the cross-process activity channel. Events
// may be dropped under Pub/Sub backpressure (at-most-once delivery) — the
// durable record remains the activity_events table, which SubscribeRemote
// does not replace.
func (w *Writer) SubscribeRemote(ctx context.Context) (*Subscription, error) {
	if w.rdb == nil {
		return nil, fmt.Errorf("activity: no redis client configured")
	}
	pubsub := w.rdb.Subscribe(ctx, channelName)

	eventsChan := make(chan *domain.ActivityEvent, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var e domain.ActivityEvent
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					select {
					case errorsChan <- fmt.Errorf("unmarshal activity event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}
				select {
				case eventsChan <- &e:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{events: eventsChan, errors: errorsChan, cancel: cancel}, nil
}
