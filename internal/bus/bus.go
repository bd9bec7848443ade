package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic names published by the ledger
const (
	TopicTimer      = "timer"
	TopicTradeBatch = "trade.batch"
	TopicOrder      = "order.updated"
	TopicTrade      = "trade"
	TopicLog        = "log"
	TopicAccount    = "account.updated"
	TopicPosition   = "position.updated"
	TopicQuote      = "market.quote"
)

// DefaultTimerInterval is the period of the timer topic
const DefaultTimerInterval = time.Second

// Event is the unit delivered to handlers
type Event struct {
	ID      string
	Topic   string
	Payload any
	Time    time.Time
}

// LogMessage is published on the log topic for every reported failure
type LogMessage struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Handler receives events on the dispatch loop
type Handler func(Event)

// Publisher is the publishing side of the bus
type Publisher interface {
	Publish(topic string, payload any)
}

type subscription struct {
	name string
	fn   Handler
}

// Bus is an in-process publish/subscribe dispatcher with one dispatch loop.
// Publish never blocks; handlers run sequentially on the dispatch loop.
type Bus struct {
	logger   *zap.Logger
	interval time.Duration

	qmu    sync.Mutex
	queue  []Event
	signal chan struct{}

	smu  sync.RWMutex
	subs map[string][]subscription
	all  []subscription

	lmu     sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a bus; a non-positive interval selects DefaultTimerInterval
func New(logger *zap.Logger, timerInterval time.Duration) *Bus {
	if timerInterval <= 0 {
		timerInterval = DefaultTimerInterval
	}
	return &Bus{
		logger:   logger,
		interval: timerInterval,
		signal:   make(chan struct{}, 1),
		subs:     make(map[string][]subscription),
	}
}

// Publish enqueues an event for asynchronous delivery
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{
		ID:      uuid.NewString(),
		Topic:   topic,
		Payload: payload,
		Time:    time.Now(),
	}

	b.qmu.Lock()
	b.queue = append(b.queue, ev)
	b.qmu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Subscribe registers fn under name for topic. A second subscription with
// the same name on the same topic is a no-op.
func (b *Bus) Subscribe(topic, name string, fn Handler) {
	b.smu.Lock()
	defer b.smu.Unlock()

	for _, s := range b.subs[topic] {
		if s.name == name {
			return
		}
	}
	b.subs[topic] = append(b.subs[topic], subscription{name: name, fn: fn})
}

// Unsubscribe removes the named handler from topic
func (b *Bus) Unsubscribe(topic, name string) {
	b.smu.Lock()
	defer b.smu.Unlock()

	b.subs[topic] = remove(b.subs[topic], name)
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// SubscribeAll registers a catch-all handler that receives every topic
func (b *Bus) SubscribeAll(name string, fn Handler) {
	b.smu.Lock()
	defer b.smu.Unlock()

	for _, s := range b.all {
		if s.name == name {
			return
		}
	}
	b.all = append(b.all, subscription{name: name, fn: fn})
}

// UnsubscribeAll removes a catch-all handler
func (b *Bus) UnsubscribeAll(name string) {
	b.smu.Lock()
	defer b.smu.Unlock()
	b.all = remove(b.all, name)
}

// Start launches the dispatch and timer loops. Calling Start on a running
// bus does nothing.
func (b *Bus) Start(ctx context.Context) {
	b.lmu.Lock()
	defer b.lmu.Unlock()
	if b.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true

	b.wg.Add(2)
	go b.dispatchLoop(ctx)
	go b.timerLoop(ctx)

	b.logger.Info("event bus started", zap.Duration("timer_interval", b.interval))
}

// Stop cancels both loops and waits for them to exit
func (b *Bus) Stop() {
	b.lmu.Lock()
	if !b.running {
		b.lmu.Unlock()
		return
	}
	b.running = false
	b.cancel()
	b.lmu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus stopped")
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.signal:
		}

		for {
			if ctx.Err() != nil {
				return
			}
			ev, ok := b.pop()
			if !ok {
				break
			}
			b.dispatch(ev)
		}
	}
}

func (b *Bus) timerLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			b.Publish(TopicTimer, t)
		}
	}
}

func (b *Bus) pop() (Event, bool) {
	b.qmu.Lock()
	defer b.qmu.Unlock()

	if len(b.queue) == 0 {
		return Event{}, false
	}
	ev := b.queue[0]
	b.queue[0] = Event{}
	b.queue = b.queue[1:]
	return ev, true
}

func (b *Bus) dispatch(ev Event) {
	b.smu.RLock()
	handlers := make([]subscription, 0, len(b.subs[ev.Topic])+len(b.all))
	handlers = append(handlers, b.subs[ev.Topic]...)
	handlers = append(handlers, b.all...)
	b.smu.RUnlock()

	for _, s := range handlers {
		b.invoke(s, ev)
	}
}

// invoke runs one handler; a panic is logged and the event counts as delivered
func (b *Bus) invoke(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("handler", s.name),
				zap.String("topic", ev.Topic),
				zap.String("event_id", ev.ID),
				zap.Any("panic", r),
			)
		}
	}()
	s.fn(ev)
}

func remove(subs []subscription, name string) []subscription {
	out := subs[:0]
	for _, s := range subs {
		if s.name != name {
			out = append(out, s)
		}
	}
	return out
}
