// Package stream broadcasts committed lending events to websocket
// subscribers. Every message carries a sequence number; a reconnecting client
// passes the last one it saw as ?cursor= to replay what it missed.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"marginchain/core/events"
	"marginchain/native/lending"
	"marginchain/observability"
)

const (
	defaultHistory = 2048
	subscriberBuf  = 32
	wsWriteTimeout = 10 * time.Second
)

var errDropped = errors.New("stream: subscriber buffer full")

// Message is one event as delivered to subscribers.
type Message struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

func (m Message) clone() Message {
	out := m
	out.Attributes = make(map[string]string, len(m.Attributes))
	for k, v := range m.Attributes {
		out.Attributes[k] = v
	}
	return out
}

// Hub is an events.Emitter fanning events out to subscribers. Slow
// subscribers drop messages instead of blocking the engine.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	limit   int
	history []Message
	subs    map[uint64]chan Message
	now     func() time.Time
}

// NewHub keeps the last history messages for replay. Zero selects the
// default.
func NewHub(history int) *Hub {
	if history <= 0 {
		history = defaultHistory
	}
	return &Hub{limit: history, subs: make(map[uint64]chan Message), now: time.Now}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	payload, ok := lending.Payload(evt)
	if !ok {
		return
	}
	h.mu.Lock()
	h.seq++
	msg := Message{
		Sequence:   h.seq,
		Cursor:     strconv.FormatUint(h.seq, 10),
		Type:       payload.Type,
		Attributes: payload.Clone().Attributes,
		Timestamp:  h.now().Unix(),
	}
	h.history = append(h.history, msg)
	if len(h.history) > h.limit {
		excess := len(h.history) - h.limit
		trimmed := make([]Message, h.limit)
		copy(trimmed, h.history[excess:])
		h.history = trimmed
	}
	subscribers := make([]chan Message, 0, len(h.subs))
	for _, ch := range h.subs {
		subscribers = append(subscribers, ch)
	}
	h.mu.Unlock()

	for _, ch := range subscribers {
		var err error
		select {
		case ch <- msg.clone():
		default:
			err = errDropped
		}
		observability.Events().RecordDelivery("stream", msg.Type, err)
	}
}

// Subscribe registers a subscriber and returns the retained messages after
// cursor. The channel is closed by cancel or when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, cursor string) (<-chan Message, func(), []Message) {
	updates := make(chan Message, subscriberBuf)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = updates
	backlog := make([]Message, 0, len(h.history))
	for _, msg := range h.history {
		if msg.Sequence > since {
			backlog = append(backlog, msg.clone())
		}
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a websocket and streams messages whose
// type starts with the optional ?type= prefix.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	prefix := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, cursor, prefix); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, cursor, prefix string) error {
	updates, cancel, backlog := h.Subscribe(ctx, cursor)
	defer cancel()

	for _, msg := range backlog {
		if !strings.HasPrefix(msg.Type, prefix) {
			continue
		}
		if err := writeMessage(ctx, conn, msg); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-updates:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(msg.Type, prefix) {
				continue
			}
			if err := writeMessage(ctx, conn, msg); err != nil {
				return err
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
