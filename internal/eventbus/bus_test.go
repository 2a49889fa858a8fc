package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublish_RoutesByTypeAndWildcard(t *testing.T) {
	b := NewWithConfig(2, 10)

	var (
		mu        sync.Mutex
		completed []any
		all       []EventType
	)
	var wg sync.WaitGroup
	wg.Add(3)

	b.Subscribe(EventTypeActionCompleted, func(e Event) {
		mu.Lock()
		completed = append(completed, e.Payload)
		mu.Unlock()
		wg.Done()
	})
	b.SubscribeAll(func(e Event) {
		mu.Lock()
		all = append(all, e.Type)
		mu.Unlock()
		wg.Done()
	})

	b.Publish(Event{Type: EventTypeActionCompleted, Payload: "borrow"})
	b.Publish(Event{Type: EventTypeRefreshed})

	wg.Wait()
	b.Close(context.Background())

	assert.Equal(t, []any{"borrow"}, completed)
	assert.ElementsMatch(t, []EventType{EventTypeActionCompleted, EventTypeRefreshed}, all)
}

func TestPublish_HandlerPanicDoesNotKillWorker(t *testing.T) {
	b := NewWithConfig(1, 10)
	done := make(chan struct{})

	b.Subscribe(EventTypeActionFailed, func(Event) { panic("boom") })
	b.Subscribe(EventTypeRefreshed, func(Event) { close(done) })

	b.Publish(Event{Type: EventTypeActionFailed})
	b.Publish(Event{Type: EventTypeRefreshed})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive handler panic")
	}
	b.Close(context.Background())
}

func TestPublish_DropsWhenQueueFull(t *testing.T) {
	b := NewWithConfig(1, 1)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var mu sync.Mutex
	handled := 0

	b.Subscribe(EventTypeRefreshed, func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		mu.Lock()
		handled++
		mu.Unlock()
	})

	b.Publish(Event{Type: EventTypeRefreshed})
	<-started
	b.Publish(Event{Type: EventTypeRefreshed}) // queued
	b.Publish(Event{Type: EventTypeRefreshed}) // dropped

	close(release)
	b.Close(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, handled)
}

func TestClose_IsIdempotentAndStopsPublishing(t *testing.T) {
	b := New()
	b.Close(context.Background())
	b.Close(context.Background())
	b.Publish(Event{Type: EventTypeRefreshed})
}
