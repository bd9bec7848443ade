package idempotency

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProducer struct {
	sent   []string
	failAt int
}

func (f *fakeProducer) ProduceRaw(_ context.Context, topic, key string, value []byte) error {
	if f.failAt > 0 && len(f.sent)+1 == f.failAt {
		f.failAt = 0
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, topic+"/"+key)
	return nil
}

func TestPublisher_StopsAtFirstFailureAndResumes(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := store.EnqueueEvent(ctx, fmt.Sprintf("e%d", i), "tablegw.orders", fmt.Sprintf("k%d", i), map[string]int{"n": i})
		require.NoError(t, err)
	}

	prod := &fakeProducer{failAt: 2}
	pub := NewPublisher(store, prod, zap.NewNop())

	n, err := pub.PublishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"tablegw.orders/k1"}, prod.sent)

	n, err = pub.PublishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"tablegw.orders/k1", "tablegw.orders/k2", "tablegw.orders/k3"}, prod.sent)

	n, err = pub.PublishBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
