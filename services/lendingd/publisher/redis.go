// Package publisher forwards committed lending events to redis: a pub/sub
// channel for live consumers and, when configured, a capped stream for
// consumers that need to catch up.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"marginchain/core/events"
	"marginchain/native/lending"
	"marginchain/observability"
)

const (
	queueSize    = 1024
	maxBatch     = 64
	flushTimeout = 5 * time.Second
)

// Config names the redis destinations. An empty Stream disables XADD.
type Config struct {
	Channel   string
	Stream    string
	StreamLen int64
}

type message struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

// Publisher is an events.Emitter backed by redis. Emit never blocks; Run
// publishes queued events in pipelined batches.
type Publisher struct {
	client redis.UniversalClient
	cfg    Config
	logger *slog.Logger
	queue  chan message
	now    func() time.Time

	mu     sync.Mutex
	closed bool
}

// New wraps client.
func New(client redis.UniversalClient, cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "publisher"),
		queue:  make(chan message, queueSize),
		now:    time.Now,
	}
}

// Emit implements events.Emitter.
func (p *Publisher) Emit(evt events.Event) {
	payload, ok := lending.Payload(evt)
	if !ok {
		return
	}
	msg := message{Type: payload.Type, Attributes: payload.Clone().Attributes, Timestamp: p.now().Unix()}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- msg:
	default:
		observability.Events().RecordDelivery("redis", msg.Type, errors.New("queue full"))
		p.logger.Warn("publisher queue full, event dropped", slog.String("type", msg.Type))
	}
}

// Run publishes until ctx ends or Close is called.
func (p *Publisher) Run(ctx context.Context) {
	batch := make([]message, 0, maxBatch)
	for {
		select {
		case <-ctx.Done():
			p.drain(batch)
			return
		case msg, ok := <-p.queue:
			if !ok {
				p.flush(context.Background(), batch)
				return
			}
			batch = append(batch, msg)
		fill:
			for len(batch) < maxBatch {
				select {
				case next, ok := <-p.queue:
					if !ok {
						p.flush(context.Background(), batch)
						return
					}
					batch = append(batch, next)
				default:
					break fill
				}
			}
			p.flush(ctx, batch)
			batch = batch[:0]
		}
	}
}

func (p *Publisher) drain(batch []message) {
	for {
		select {
		case msg, ok := <-p.queue:
			if !ok {
				p.flush(context.Background(), batch)
				return
			}
			batch = append(batch, msg)
		default:
			p.flush(context.Background(), batch)
			return
		}
	}
}

// Close stops accepting events. Run returns after publishing the backlog.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

func (p *Publisher) flush(ctx context.Context, batch []message) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	start := time.Now()
	pipe := p.client.Pipeline()
	for _, msg := range batch {
		data, err := json.Marshal(msg)
		if err != nil {
			observability.Events().RecordDelivery("redis", msg.Type, err)
			continue
		}
		pipe.Publish(ctx, p.cfg.Channel, data)
		if p.cfg.Stream != "" {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: p.cfg.Stream,
				MaxLen: p.cfg.StreamLen,
				Approx: true,
				Values: map[string]any{"type": msg.Type, "payload": string(data)},
			})
		}
	}
	_, err := pipe.Exec(ctx)
	for _, msg := range batch {
		observability.Events().RecordDelivery("redis", msg.Type, err)
	}
	if err != nil {
		p.logger.Error("publish batch",
			slog.Int("batch_size", len(batch)),
			slog.Duration("latency", time.Since(start)),
			slog.Any("error", err),
		)
		return
	}
	p.logger.Debug("published batch", slog.Int("batch_size", len(batch)), slog.Duration("latency", time.Since(start)))
}
