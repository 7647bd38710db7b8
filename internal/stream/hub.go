// Package stream fans order status transitions out to subscribed clients.
package stream

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexadex/swapflow/pkg/metrics"
)

// Subscriber is one delivery target for status events. Implementations
// must tolerate Send after Close (returning an error is enough).
type Subscriber interface {
	Send(payload []byte) error
	Close() error
	Alive() bool
}

// Event is the wire shape of one status emission.
type Event struct {
	OrderID   string                 `json:"orderId"`
	Status    string                 `json:"status"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Hub maps order ids to subscriber sets and serializes fan-out per order.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[Subscriber]struct{}
	closed bool
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[Subscriber]struct{}),
		logger: logger,
	}
}

// Attach registers sub for orderID events.
func (h *Hub) Attach(orderID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = sub.Close()
		return
	}
	set, ok := h.subs[orderID]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.subs[orderID] = set
	}
	set[sub] = struct{}{}
	metrics.StreamSubscribers.Inc()
	h.logger.Debug("subscriber attached", zap.String("orderId", orderID))
}

// Detach removes sub and closes it best-effort. Removing the last
// subscriber removes the order's mapping.
func (h *Hub) Detach(orderID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(orderID, sub)
}

func (h *Hub) removeLocked(orderID string, sub Subscriber) {
	set, ok := h.subs[orderID]
	if !ok {
		return
	}
	if _, present := set[sub]; !present {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, orderID)
	}
	metrics.StreamSubscribers.Dec()
	_ = sub.Close()
}

// Emit serializes the event once and sends it to every subscriber of
// orderID, pruning those whose send fails or whose connection is gone.
func (h *Hub) Emit(orderID, status string, data map[string]interface{}) {
	event := Event{
		OrderID:   orderID,
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encoding status event", zap.String("orderId", orderID), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[orderID]
	if !ok {
		return
	}
	var dead []Subscriber
	for sub := range set {
		if !sub.Alive() {
			dead = append(dead, sub)
			continue
		}
		if err := sub.Send(payload); err != nil {
			h.logger.Debug("pruning subscriber after failed send",
				zap.String("orderId", orderID), zap.Error(err))
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		h.removeLocked(orderID, sub)
	}
}

// DetachAll removes and closes every subscriber of orderID. Errors are
// swallowed; the order is finished with.
func (h *Hub) DetachAll(orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[orderID] {
		h.removeLocked(orderID, sub)
	}
}

// CloseAll closes every subscriber of every order. Used at shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for orderID, set := range h.subs {
		for sub := range set {
			metrics.StreamSubscribers.Dec()
			_ = sub.Close()
		}
		delete(h.subs, orderID)
	}
	h.closed = true
}

// SubscriberCount reports the number of live subscribers for orderID.
func (h *Hub) SubscriberCount(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[orderID])
}

// TotalSubscribers reports the number of live subscribers across orders.
func (h *Hub) TotalSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
