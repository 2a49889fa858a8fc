package notify

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const keepAliveInterval = 15 * time.Second

// Hub fans notifications out to Server-Sent Events clients.
type Hub struct {
	register   chan chan []byte
	unregister chan chan []byte
	broadcast  chan []byte

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	done    chan struct{}
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan chan []byte),
		unregister: make(chan chan []byte),
		broadcast:  make(chan []byte, 100),
		clients:    make(map[chan []byte]struct{}),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for ch := range h.clients {
				delete(h.clients, ch)
				close(ch)
			}
			h.mu.Unlock()
			return
		case ch := <-h.register:
			h.mu.Lock()
			h.clients[ch] = struct{}{}
			h.mu.Unlock()
		case ch := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for ch := range h.clients {
				select {
				case ch <- msg:
				default:
					// Slow client, drop.
				}
			}
			h.mu.Unlock()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Name() string { return "sse" }

// Publish queues n for every connected client.
func (h *Hub) Publish(ctx context.Context, n Notification) error {
	b, err := n.Marshal()
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- b:
		return nil
	case <-h.done:
		return fmt.Errorf("sse hub stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Close() error { return nil }

// ServeHTTP streams notifications to one client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	client := make(chan []byte, 25)
	select {
	case h.register <- client:
	case <-h.done:
		http.Error(w, "event stream closed", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	bw := bufio.NewWriter(w)
	writeEvent(bw, []byte(`{"event":"connected"}`))
	_ = bw.Flush()
	flusher.Flush()

	log.Debug().Str("remote", r.RemoteAddr).Msg("SSE client connected")

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			_, _ = bw.WriteString(": keep-alive\n\n")
		case msg, ok := <-client:
			if !ok {
				return
			}
			writeEvent(bw, msg)
		}
		_ = bw.Flush()
		flusher.Flush()
	}
}

func writeEvent(w *bufio.Writer, data []byte) {
	_, _ = fmt.Fprintf(w, "data: %s\n\n", bytes.ReplaceAll(data, []byte("\n"), nil))
}
