package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ismaiel54/table-order-gateway/internal/bus"
	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/engine"
	"github.com/ismaiel54/table-order-gateway/internal/msg"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSink_FlushWritesOrderAndTradeEvents(t *testing.T) {
	store := openStore(t)
	sink := NewSink(store, zap.NewNop())
	ctx := context.Background()

	orderEv := bus.Event{ID: uuid.NewString(), Topic: bus.TopicOrder, Time: time.Now(), Payload: order.Order{
		ClientID: 1000, Account: "A", Symbol: "600000", Side: domain.SideBuy, Qty: 100,
		FilledQty: 100, AvgPrice: decimal.RequireFromString("9.98"), State: domain.StateFilled,
	}}
	tradeEv := bus.Event{ID: uuid.NewString(), Topic: bus.TopicTrade, Time: time.Now(), Payload: engine.Trade{
		ClientID: 1000, Account: "A", Symbol: "600000", Side: domain.SideBuy, Qty: 100,
		Price: decimal.RequireFromString("9.98"), Notional: decimal.RequireFromString("998"),
	}}

	sink.HandleEvent(orderEv)
	sink.HandleEvent(tradeEv)
	sink.HandleEvent(bus.Event{ID: uuid.NewString(), Topic: bus.TopicLog, Payload: "ignored"})
	sink.HandleEvent(orderEv)

	assert.Equal(t, 2, sink.Flush(ctx))

	events, err := store.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, msg.TopicOrders, events[0].Topic)
	assert.Equal(t, msg.TopicTrades, events[1].Topic)
	assert.Equal(t, "1000", events[1].Key)

	var ev msg.OrderEventMsg
	require.NoError(t, json.Unmarshal([]byte(events[0].PayloadJSON), &ev))
	assert.Equal(t, "FILLED", ev.State)
	assert.Equal(t, "9.98", ev.AvgPrice)

	var tr msg.TradeMsg
	require.NoError(t, json.Unmarshal([]byte(events[1].PayloadJSON), &tr))
	assert.Equal(t, "998", tr.Notional)
}
