package stream

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSubscriber records payloads and can be scripted to fail or die.
type fakeSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
	sendErr  error
	dead     bool
	closed   bool
}

func (f *fakeSubscriber) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSubscriber) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead
}

func (f *fakeSubscriber) events(t *testing.T) []Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, 0, len(f.payloads))
	for _, p := range f.payloads {
		var e Event
		require.NoError(t, json.Unmarshal(p, &e))
		out = append(out, e)
	}
	return out
}

func TestEmitReachesAllSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a, b := &fakeSubscriber{}, &fakeSubscriber{}
	hub.Attach("o1", a)
	hub.Attach("o1", b)

	hub.Emit("o1", "routing", nil)

	for _, sub := range []*fakeSubscriber{a, b} {
		events := sub.events(t)
		require.Len(t, events, 1)
		assert.Equal(t, "o1", events[0].OrderID)
		assert.Equal(t, "routing", events[0].Status)
		assert.NotZero(t, events[0].Timestamp)
	}
}

func TestEmitScopedToOrder(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a, b := &fakeSubscriber{}, &fakeSubscriber{}
	hub.Attach("o1", a)
	hub.Attach("o2", b)

	hub.Emit("o1", "confirmed", map[string]interface{}{"txHash": "sig"})

	assert.Len(t, a.events(t), 1)
	assert.Empty(t, b.events(t))
}

func TestEmitCarriesData(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a := &fakeSubscriber{}
	hub.Attach("o1", a)

	hub.Emit("o1", "building", map[string]interface{}{
		"routingDecision": map[string]interface{}{
			"selectedVenue": "orca",
			"venueAPrice":   "0.9975",
			"venueBPrice":   "1.00798",
		},
	})

	events := a.events(t)
	require.Len(t, events, 1)
	decision, ok := events[0].Data["routingDecision"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "orca", decision["selectedVenue"])
}

func TestDetachStopsDelivery(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a := &fakeSubscriber{}
	hub.Attach("o1", a)
	hub.Detach("o1", a)

	hub.Emit("o1", "routing", nil)
	assert.Empty(t, a.events(t))
	assert.True(t, a.closed)
	assert.Zero(t, hub.SubscriberCount("o1"))
}

func TestEmitPrunesFailingSubscriber(t *testing.T) {
	hub := NewHub(zap.NewNop())
	bad := &fakeSubscriber{sendErr: assert.AnError}
	good := &fakeSubscriber{}
	hub.Attach("o1", bad)
	hub.Attach("o1", good)

	hub.Emit("o1", "routing", nil)
	assert.Equal(t, 1, hub.SubscriberCount("o1"))
	assert.True(t, bad.closed)

	hub.Emit("o1", "building", nil)
	assert.Len(t, good.events(t), 2)
}

func TestEmitPrunesDeadSubscriber(t *testing.T) {
	hub := NewHub(zap.NewNop())
	gone := &fakeSubscriber{dead: true}
	hub.Attach("o1", gone)

	hub.Emit("o1", "routing", nil)
	assert.Empty(t, gone.events(t))
	assert.Zero(t, hub.SubscriberCount("o1"))
}

func TestDetachAll(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a, b := &fakeSubscriber{}, &fakeSubscriber{}
	hub.Attach("o1", a)
	hub.Attach("o1", b)

	hub.DetachAll("o1")
	assert.Zero(t, hub.SubscriberCount("o1"))
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestCloseAll(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a, b := &fakeSubscriber{}, &fakeSubscriber{}
	hub.Attach("o1", a)
	hub.Attach("o2", b)

	hub.CloseAll()
	assert.Zero(t, hub.TotalSubscribers())
	assert.True(t, a.closed)
	assert.True(t, b.closed)

	// Attach after shutdown closes the subscriber immediately.
	late := &fakeSubscriber{}
	hub.Attach("o3", late)
	assert.True(t, late.closed)
	assert.Zero(t, hub.TotalSubscribers())
}

func TestConcurrentEmitAndDetach(t *testing.T) {
	hub := NewHub(zap.NewNop())
	subs := make([]*fakeSubscriber, 16)
	for i := range subs {
		subs[i] = &fakeSubscriber{}
		hub.Attach("o1", subs[i])
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			hub.Emit("o1", "routing", nil)
		}
	}()
	go func() {
		defer wg.Done()
		for _, sub := range subs {
			hub.Detach("o1", sub)
		}
	}()
	wg.Wait()
	assert.Zero(t, hub.SubscriberCount("o1"))
}
