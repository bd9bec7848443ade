package market

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/bus"
	"github.com/ismaiel54/table-order-gateway/internal/chaos"
	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"go.uber.org/zap"
)

// TargetFeed is the chaos target name of the feed file
const TargetFeed = "feed"

// PriceSink receives every parsed quote for position marking
type PriceSink interface {
	UpdatePrices(ctx context.Context, quotes []domain.Quote) (int, error)
}

// Poller periodically re-reads the market feed file, forwards prices to the
// ledger and publishes quotes of subscribed symbols
type Poller struct {
	path     string
	interval time.Duration
	sink     PriceSink
	pub      bus.Publisher
	chaos    *chaos.Chaos
	logger   *zap.Logger

	mu         sync.Mutex
	subscribed map[string]struct{}
	lastTime   time.Time
}

// NewPoller creates a poller for the feed at path; a nil chaos disables
// fault injection
func NewPoller(path string, interval time.Duration, sink PriceSink, pub bus.Publisher, c *chaos.Chaos, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		path:       path,
		interval:   interval,
		sink:       sink,
		pub:        pub,
		chaos:      c,
		logger:     logger,
		subscribed: make(map[string]struct{}),
	}
}

// Subscribe adds symbols to the set whose quotes are published
func (p *Poller) Subscribe(symbols ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range symbols {
		if s == "" {
			continue
		}
		if _, ok := p.subscribed[s]; !ok {
			p.logger.Debug("quote subscribed", zap.String("symbol", s))
		}
		p.subscribed[s] = struct{}{}
	}
}

// Subscribed returns the subscribed symbols in order
func (p *Poller) Subscribed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.subscribed))
	for s := range p.subscribed {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// HandleOrder subscribes the symbol of every order seen on the bus
func (p *Poller) HandleOrder(ev bus.Event) {
	if o, ok := ev.Payload.(order.Order); ok {
		p.Subscribe(o.Symbol)
	}
}

// Poll reads the feed once and returns the number of quotes published
func (p *Poller) Poll(ctx context.Context) (int, error) {
	if err := p.chaos.MaybeDelay(ctx, TargetFeed, "read"); err != nil {
		return 0, domain.Transient("read feed", err)
	}
	if p.chaos.MaybeDrop(TargetFeed, "read") {
		return 0, domain.Transient("read feed", fmt.Errorf("injected feed failure"))
	}

	f, err := os.Open(p.path)
	if err != nil {
		return 0, domain.Transient("open feed", err)
	}
	snap, err := ParseFeed(f)
	f.Close()
	if err != nil {
		return 0, err
	}
	if snap.Skipped > 0 {
		p.logger.Warn("market feed lines skipped", zap.Int("skipped", snap.Skipped))
	}

	p.mu.Lock()
	stale := !snap.Time.IsZero() && !snap.Time.After(p.lastTime)
	p.mu.Unlock()
	if stale {
		return 0, nil
	}

	quotes := make([]domain.Quote, 0, len(snap.Quotes))
	for _, q := range snap.Quotes {
		quotes = append(quotes, q)
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Symbol < quotes[j].Symbol })

	if _, err := p.sink.UpdatePrices(ctx, quotes); err != nil {
		return 0, fmt.Errorf("failed to forward prices: %w", err)
	}

	published := 0
	p.mu.Lock()
	defer p.mu.Unlock()
	// a snapshot counts as seen only once its prices reached the ledger
	if snap.Time.After(p.lastTime) {
		p.lastTime = snap.Time
	}
	for _, q := range quotes {
		if _, ok := p.subscribed[q.Symbol]; ok {
			p.pub.Publish(bus.TopicQuote, q)
			published++
		}
	}
	return published, nil
}

// report logs a failed poll and publishes it on the log topic
func (p *Poller) report(err error) {
	level := "error"
	if domain.IsTransient(err) {
		level = "warn"
		p.logger.Warn("market feed poll failed", zap.Error(err))
	} else {
		p.logger.Error("market feed poll failed", zap.Error(err))
	}
	p.pub.Publish(bus.TopicLog, bus.LogMessage{
		Level:   level,
		Message: "market feed poll failed",
		Error:   err.Error(),
		Time:    time.Now(),
	})
}

// Run polls on every interval until ctx is cancelled
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("market feed poller started",
		zap.String("path", p.path),
		zap.Duration("interval", p.interval),
	)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("market feed poller stopped")
			return
		case <-ticker.C:
			n, err := p.Poll(ctx)
			if err != nil {
				p.report(err)
				continue
			}
			if n > 0 {
				p.logger.Debug("quotes published", zap.Int("count", n))
			}
		}
	}
}
