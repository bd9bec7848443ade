package market

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/bus"
	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sinkFunc func(ctx context.Context, quotes []domain.Quote) (int, error)

func (f sinkFunc) UpdatePrices(ctx context.Context, quotes []domain.Quote) (int, error) {
	return f(ctx, quotes)
}

type quoteRecorder struct {
	mu     sync.Mutex
	quotes []domain.Quote
	logs   []bus.LogMessage
}

func (r *quoteRecorder) Publish(topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := payload.(domain.Quote); ok && topic == bus.TopicQuote {
		r.quotes = append(r.quotes, q)
	}
	if m, ok := payload.(bus.LogMessage); ok && topic == bus.TopicLog {
		r.logs = append(r.logs, m)
	}
}

func (r *quoteRecorder) logCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.logs)
}

func writeFeed(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPoller_PublishesSubscribedQuotes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.txt")
	writeFeed(t, path, sampleFeed)

	var forwarded []domain.Quote
	sink := sinkFunc(func(_ context.Context, quotes []domain.Quote) (int, error) {
		forwarded = append(forwarded, quotes...)
		return len(quotes), nil
	})
	pub := &quoteRecorder{}
	p := NewPoller(path, 0, sink, pub, nil, zap.NewNop())

	p.Subscribe("511990")
	p.HandleOrder(bus.Event{Topic: bus.TopicOrder, Payload: order.Order{Symbol: "600000"}})
	assert.Equal(t, []string{"511990", "600000"}, p.Subscribed())

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, forwarded, 3, "every quote marks positions")
	require.Len(t, pub.quotes, 2)
	assert.Equal(t, "511990", pub.quotes[0].Symbol)

	n, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "unchanged feed is not republished")
	assert.Len(t, forwarded, 3)
}

func TestPoller_MissingFileIsTransient(t *testing.T) {
	p := NewPoller(filepath.Join(t.TempDir(), "absent"), 0, sinkFunc(func(context.Context, []domain.Quote) (int, error) {
		return 0, nil
	}), &quoteRecorder{}, nil, zap.NewNop())

	_, err := p.Poll(context.Background())
	require.ErrorIs(t, err, domain.ErrTransientIO)
}

func TestPoller_FailedForwardIsRetriedOnSameSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.txt")
	writeFeed(t, path, sampleFeed)

	fail := true
	var forwarded int
	sink := sinkFunc(func(_ context.Context, quotes []domain.Quote) (int, error) {
		if fail {
			return 0, domain.ErrEngineStopped
		}
		forwarded += len(quotes)
		return len(quotes), nil
	})
	pub := &quoteRecorder{}
	p := NewPoller(path, 0, sink, pub, nil, zap.NewNop())
	p.Subscribe("600000")

	_, err := p.Poll(context.Background())
	require.ErrorIs(t, err, domain.ErrEngineStopped)
	assert.Empty(t, pub.quotes)

	fail = false
	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the unchanged snapshot is forwarded once the ledger accepts it")
	assert.Equal(t, 3, forwarded)

	n, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPoller_RunPublishesFailuresOnLogTopic(t *testing.T) {
	pub := &quoteRecorder{}
	p := NewPoller(filepath.Join(t.TempDir(), "absent"), 5*time.Millisecond, sinkFunc(func(context.Context, []domain.Quote) (int, error) {
		return 0, nil
	}), pub, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return pub.logCount() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, "warn", pub.logs[0].Level)
	assert.Equal(t, "market feed poll failed", pub.logs[0].Message)
	assert.Contains(t, pub.logs[0].Error, "open feed")
}
