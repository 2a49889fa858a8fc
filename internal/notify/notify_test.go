package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/borrowd/internal/domain"
	"github.com/dokzlo13/borrowd/internal/eventbus"
)

func TestNew(t *testing.T) {
	ok := New(eventbus.EventTypeActionCompleted)
	failed := New(eventbus.EventTypeActionFailed)

	assert.True(t, ok.OK)
	assert.False(t, failed.OK)
	assert.NotEqual(t, ok.ID, failed.ID)
	assert.Len(t, ok.ID, 36)
	assert.False(t, ok.Time.IsZero())
}

func TestNotification_Marshal(t *testing.T) {
	n := New(eventbus.EventTypeActionFailed)
	n.Action = "BORROW"
	n.Resource = &domain.Ref{Kind: domain.KindKey, ID: 4}
	n.ErrorKind = "conflict"
	n.Message = "Key is already borrowed"

	b, err := n.Marshal()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, "action_failed", doc["event"])
	assert.Equal(t, false, doc["ok"])
	assert.Equal(t, "conflict", doc["errorKind"])
	assert.Equal(t, map[string]any{"kind": "KEY", "id": float64(4)}, doc["resource"])
	assert.NotContains(t, doc, "requestId")
}

type recordingSink struct {
	mu   sync.Mutex
	got  []Notification
	err  error
	done chan struct{}
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, n Notification) error {
	s.mu.Lock()
	s.got = append(s.got, n)
	s.mu.Unlock()
	s.done <- struct{}{}
	return s.err
}

func (s *recordingSink) Close() error { return nil }

func TestAttach_DeliversNotificationsOnly(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 10)
	ok := &recordingSink{done: make(chan struct{}, 10)}
	failing := &recordingSink{done: make(chan struct{}, 10), err: errors.New("broker down")}
	Attach(bus, time.Second, ok, failing)

	bus.Publish(eventbus.Event{Type: eventbus.EventTypeRefreshed, Payload: "not a notification"})
	n := New(eventbus.EventTypeActionCompleted)
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeActionCompleted, Payload: n})

	for _, s := range []*recordingSink{ok, failing} {
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			t.Fatal("notification not delivered")
		}
	}
	bus.Close(context.Background())

	require.Len(t, ok.got, 1)
	assert.Equal(t, n.ID, ok.got[0].ID)
	require.Len(t, failing.got, 1, "a failing sink does not block others")
}

func TestHub_StreamsNotifications(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.Equal(t, `data: {"event":"connected"}`, nextData(t, lines))

	n := New(eventbus.EventTypeActionCompleted)
	n.Action = "RETURN"
	require.NoError(t, hub.Publish(context.Background(), n))

	line := nextData(t, lines)
	var got Notification
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &got))
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, "RETURN", got.Action)
	assert.Equal(t, 1, hub.Clients())
}

func TestHub_PublishAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// Fill the buffer so the next publish must observe the stop.
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.broadcast <- nil
	}
	assert.Error(t, hub.Publish(context.Background(), New(eventbus.EventTypeRefreshed)))
}

func nextData(t *testing.T, s *bufio.Scanner) string {
	t.Helper()
	for s.Scan() {
		if line := s.Text(); strings.HasPrefix(line, "data: ") {
			return line
		}
	}
	t.Fatalf("stream ended: %v", s.Err())
	return ""
}

func TestMQTTSink_Topic(t *testing.T) {
	s := &MQTTSink{prefix: DefaultTopicPrefix}
	assert.Equal(t, "borrowd/notifications/action_failed", s.Topic(New(eventbus.EventTypeActionFailed)))
}

func TestLogSink(t *testing.T) {
	n := New(eventbus.EventTypeActionFailed)
	n.Resource = &domain.Ref{Kind: domain.KindBicycle, ID: 2}
	assert.NoError(t, LogSink{}.Publish(context.Background(), n))
}
