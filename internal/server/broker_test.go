package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/storage"
	"github.com/ashita-ai/kaiun/internal/testutil"
)

func recv(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker(nil, testutil.TestLogger())

	ch1 := broker.Subscribe()
	ch2 := broker.Subscribe()
	assert.Equal(t, 2, broker.Subscribers())

	event := formatSSE(storage.ChannelShipments, `{"shipment_id":"job-1"}`)
	broker.broadcast(event)
	assert.Equal(t, event, recv(t, ch1))
	assert.Equal(t, event, recv(t, ch2))

	// Only remaining subscribers see later events.
	broker.Unsubscribe(ch1)
	event2 := formatSSE(storage.ChannelShipments, `{"shipment_id":"job-2"}`)
	broker.broadcast(event2)
	assert.Equal(t, event2, recv(t, ch2))

	broker.Unsubscribe(ch2)
	broker.Unsubscribe(ch2)
	assert.Equal(t, 0, broker.Subscribers())
}

func TestFormatSSE(t *testing.T) {
	got := string(formatSSE("kaiun_shipments", `{"id":"123"}`))
	assert.Equal(t, "event: kaiun_shipments\ndata: {\"id\":\"123\"}\n\n", got)
}

func TestBrokerSlowSubscriber(t *testing.T) {
	broker := NewBroker(nil, testutil.TestLogger())
	slow := broker.Subscribe()
	fast := broker.Subscribe()

	// Overfill the slow buffer; broadcast must never block.
	done := make(chan struct{})
	go func() {
		for range cap(slow) + 10 {
			broker.broadcast([]byte("x"))
			<-fast
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a full subscriber")
	}
	assert.Len(t, slow, cap(slow))
}

func TestBrokerPublish_Local(t *testing.T) {
	broker := NewBroker(nil, testutil.TestLogger())
	assert.Equal(t, "local", broker.Mode())
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	newETA := "2026-05-01T00:00:00Z"
	require.NoError(t, broker.PublishShipmentEvent(context.Background(), model.ShipmentEvent{
		ShipmentID: "job-1", Action: model.AuditUpdateETA, Field: "eta", NewValue: &newETA,
	}))

	got := string(recv(t, ch))
	assert.Contains(t, got, "event: kaiun_shipments\n")
	assert.Contains(t, got, `"shipment_id":"job-1"`)
}

// fakeNotifier loops NOTIFY back to WaitForNotification like Postgres does.
type fakeNotifier struct {
	listened chan string
	queue    chan string
	failOnce bool
}

func (f *fakeNotifier) Listen(_ context.Context, channel string) error {
	f.listened <- channel
	return nil
}

func (f *fakeNotifier) WaitForNotification(ctx context.Context) (string, string, error) {
	if f.failOnce {
		f.failOnce = false
		return "", "", errors.New("connection reset")
	}
	select {
	case p := <-f.queue:
		return storage.ChannelShipments, p, nil
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

func (f *fakeNotifier) NotifyShipmentEvent(_ context.Context, ev model.ShipmentEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	f.queue <- string(b)
	return nil
}

func TestBrokerPublish_ThroughNotifier(t *testing.T) {
	n := &fakeNotifier{listened: make(chan string, 1), queue: make(chan string, 4), failOnce: true}
	broker := NewBroker(n, testutil.TestLogger())
	assert.Equal(t, "postgres", broker.Mode())
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		broker.Start(ctx)
		close(stopped)
	}()
	assert.Equal(t, storage.ChannelShipments, <-n.listened)

	require.NoError(t, broker.PublishShipmentEvent(ctx, model.ShipmentEvent{ShipmentID: "job-3", Field: "risk_flag"}))
	assert.Contains(t, string(recv(t, ch)), `"shipment_id":"job-3"`)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
