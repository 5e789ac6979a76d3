package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/storage"
)

// Notifier is the LISTEN/NOTIFY surface of the Postgres store.
type Notifier interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (channel, payload string, err error)
	NotifyShipmentEvent(ctx context.Context, ev model.ShipmentEvent) error
}

// Broker fans shipment change events out to SSE subscribers.
//
// With a Notifier, events travel through Postgres NOTIFY so every replica
// sees every mutation; Start runs the LISTEN loop. Without one, events are
// broadcast in process.
type Broker struct {
	notifier Notifier
	logger   *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates a broker. notifier may be nil.
func NewBroker(notifier Notifier, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		notifier:    notifier,
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Mode reports how events are distributed, for health output.
func (b *Broker) Mode() string {
	if b.notifier != nil {
		return "postgres"
	}
	return "local"
}

// Start listens on the shipments channel until ctx is cancelled. It blocks,
// so call it in a goroutine. It returns at once for an in-process broker.
func (b *Broker) Start(ctx context.Context) {
	if b.notifier == nil {
		return
	}
	if err := b.notifier.Listen(ctx, storage.ChannelShipments); err != nil {
		b.logger.Error("broker: listen shipments", "error", err)
		return
	}

	b.logger.Info("broker: listening for notifications", "channel", storage.ChannelShipments)

	for {
		channel, payload, err := b.notifier.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("broker: notification error, retrying", "error", err)
			continue
		}
		b.broadcast(formatSSE(channel, payload))
	}
}

// PublishShipmentEvent sends ev to every subscriber, through Postgres when
// configured.
func (b *Broker) PublishShipmentEvent(ctx context.Context, ev model.ShipmentEvent) error {
	if b.notifier != nil {
		return b.notifier.NotifyShipmentEvent(ctx, ev)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("broker: marshal shipment event: %w", err)
	}
	b.broadcast(formatSSE(storage.ChannelShipments, string(payload)))
	return nil
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	_, ok := b.subscribers[ch]
	delete(b.subscribers, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Subscribers returns the number of connected change feed clients.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// broadcast sends an event to all subscribers. A subscriber whose buffer is
// full misses the event rather than stalling the others.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Debug("broker: subscriber buffer full, dropping event")
		}
	}
}

// formatSSE formats a notification as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
