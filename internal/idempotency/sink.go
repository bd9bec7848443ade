package idempotency

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/bus"
	"github.com/ismaiel54/table-order-gateway/internal/engine"
	"github.com/ismaiel54/table-order-gateway/internal/msg"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"go.uber.org/zap"
)

// Sink copies order and trade events from the bus into the outbox. The bus
// handler only queues; Run performs the database writes.
type Sink struct {
	store  *Store
	logger *zap.Logger

	mu      sync.Mutex
	pending []bus.Event
	signal  chan struct{}
}

// NewSink creates a sink writing into store
func NewSink(store *Store, logger *zap.Logger) *Sink {
	return &Sink{
		store:  store,
		logger: logger,
		signal: make(chan struct{}, 1),
	}
}

// Subscribe registers the sink on the order and trade topics
func (s *Sink) Subscribe(b *bus.Bus) {
	b.Subscribe(bus.TopicOrder, "outbox", s.HandleEvent)
	b.Subscribe(bus.TopicTrade, "outbox", s.HandleEvent)
}

// HandleEvent queues ev without blocking the dispatch loop
func (s *Sink) HandleEvent(ev bus.Event) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Run writes queued events until ctx is cancelled, then drains once more
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Flush(context.Background())
			return
		case <-s.signal:
			s.Flush(ctx)
		}
	}
}

// Flush writes every queued event and returns how many were enqueued
func (s *Sink) Flush(ctx context.Context) int {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	written := 0
	for _, ev := range batch {
		topic, key, payload, ok := outboxMessage(ev)
		if !ok {
			continue
		}
		added, err := s.store.EnqueueEvent(ctx, ev.ID, topic, key, payload)
		if err != nil {
			s.logger.Error("failed to enqueue outbox event",
				zap.String("event_id", ev.ID),
				zap.String("topic", ev.Topic),
				zap.Error(err),
			)
			continue
		}
		if added {
			written++
		}
	}
	return written
}

// outboxMessage maps a bus event onto its Kafka topic and message
func outboxMessage(ev bus.Event) (topic, key string, payload any, ok bool) {
	ts := ev.Time.UnixMilli()
	if ev.Time.IsZero() {
		ts = time.Now().UnixMilli()
	}

	switch p := ev.Payload.(type) {
	case order.Order:
		return msg.TopicOrders, p.Account, msg.OrderEventMsg{
			EventID:        ev.ID,
			ClientID:       p.ClientID,
			CancelClientID: p.CancelClientID,
			OrderNo:        p.OrderNo,
			Account:        p.Account,
			Symbol:         p.Symbol,
			Side:           string(p.Side),
			Qty:            p.Qty,
			FilledQty:      p.FilledQty,
			AvgPrice:       p.AvgPrice.String(),
			State:          p.State.String(),
			Reason:         p.ErrMsg,
			TsUnixMillis:   ts,
		}, true
	case engine.Trade:
		return msg.TopicTrades, strconv.FormatInt(p.ClientID, 10), msg.TradeMsg{
			EventID:      ev.ID,
			ClientID:     p.ClientID,
			OrderNo:      p.OrderNo,
			Account:      p.Account,
			Symbol:       p.Symbol,
			Side:         string(p.Side),
			Qty:          p.Qty,
			Price:        p.Price.String(),
			Notional:     p.Notional.String(),
			TsUnixMillis: ts,
		}, true
	default:
		return "", "", nil, false
	}
}
