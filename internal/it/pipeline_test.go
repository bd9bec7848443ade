package it

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/bus"
	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/engine"
	"github.com/ismaiel54/table-order-gateway/internal/idempotency"
	"github.com/ismaiel54/table-order-gateway/internal/msg"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"github.com/ismaiel54/table-order-gateway/internal/rpc/gatewaysvc"
	"github.com/ismaiel54/table-order-gateway/internal/tables"
	"github.com/ismaiel54/table-order-gateway/internal/termsim"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const waitFor = 3 * time.Second

type pipeline struct {
	store  *tables.Store
	sim    *termsim.Sim
	eng    *engine.Engine
	client *gatewaysvc.Client
}

func startEngine(t *testing.T, store *tables.Store) *engine.Engine {
	t.Helper()
	b := bus.New(zap.NewNop(), time.Hour)
	b.Start(context.Background())
	t.Cleanup(b.Stop)

	eng := engine.New(engine.Tables{Instructions: store, Fills: store, Accounts: store}, b,
		engine.Options{ScanInterval: 20 * time.Millisecond}, zap.NewNop())
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)
	return eng
}

func dialEngine(t *testing.T, eng *engine.Engine) *gatewaysvc.Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(gatewaysvc.LoggingUnaryServerInterceptor(zap.NewNop())))
	gatewaysvc.RegisterGatewayServer(srv, gatewaysvc.NewServer(eng, zap.NewNop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := gatewaysvc.Dial(context.Background(), "bufnet", time.Second, zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func newPipeline(t *testing.T, opts termsim.Options) *pipeline {
	t.Helper()
	store, err := tables.Open(filepath.Join(t.TempDir(), "tables.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sim := termsim.New(store, opts, zap.NewNop())
	require.NoError(t, sim.Seed(context.Background(), "A", decimal.NewFromInt(10000), map[string]int64{"600000": 500}))

	eng := startEngine(t, store)
	return &pipeline{store: store, sim: sim, eng: eng, client: dialEngine(t, eng)}
}

func (p *pipeline) step(t *testing.T) {
	t.Helper()
	_, err := p.sim.Step(context.Background())
	require.NoError(t, err)
}

func (p *pipeline) order(t *testing.T, clientID int64) order.Order {
	t.Helper()
	reply, err := p.client.ListOrders(context.Background(), &gatewaysvc.OrdersRequest{ClientID: clientID})
	require.NoError(t, err)
	require.Len(t, reply.Orders, 1)
	return reply.Orders[0]
}

// lookup is safe to call from the Eventually goroutine
func (p *pipeline) lookup(clientID int64) (order.Order, bool) {
	reply, err := p.client.ListOrders(context.Background(), &gatewaysvc.OrdersRequest{ClientID: clientID})
	if err != nil || len(reply.Orders) != 1 {
		return order.Order{}, false
	}
	return reply.Orders[0], true
}

func (p *pipeline) awaitState(t *testing.T, clientID int64, state domain.OrderState) order.Order {
	t.Helper()
	require.Eventually(t, func() bool {
		o, ok := p.lookup(clientID)
		return ok && o.State == state
	}, waitFor, 10*time.Millisecond)
	return p.order(t, clientID)
}

func (p *pipeline) position(t *testing.T, symbol string) (total, closeable int64) {
	t.Helper()
	reply, err := p.client.ListPositions(context.Background(), &gatewaysvc.AccountRequest{Account: "A"})
	require.NoError(t, err)
	for _, pos := range reply.Positions {
		if pos.Symbol == symbol {
			return pos.Total, pos.Closeable
		}
	}
	return 0, 0
}

func (p *pipeline) cash(t *testing.T) decimal.Decimal {
	t.Helper()
	reply, err := p.client.GetAccount(context.Background(), &gatewaysvc.AccountRequest{Account: "A"})
	require.NoError(t, err)
	require.Len(t, reply.Accounts, 1)
	return reply.Accounts[0].Cash
}

func TestPipeline_BuyFillsThroughTerminal(t *testing.T) {
	p := newPipeline(t, termsim.Options{FillStep: 60})
	ctx := context.Background()

	reply, err := p.client.Submit(ctx, &gatewaysvc.SubmitRequest{
		Account: "A", Symbol: "600001", Side: "buy", Qty: 100, Price: "10",
	})
	require.NoError(t, err)
	id := reply.Order.ClientID
	assert.True(t, p.cash(t).Equal(decimal.NewFromInt(9000)))

	p.step(t)
	partial := p.awaitState(t, id, domain.StatePartiallyFilled)
	assert.Equal(t, int64(60), partial.FilledQty)
	assert.Equal(t, "SIM1", partial.OrderNo)

	p.step(t)
	filled := p.awaitState(t, id, domain.StateFilled)
	assert.Equal(t, int64(100), filled.FilledQty)
	assert.False(t, filled.Cancelable)

	total, closeable := p.position(t, "600001")
	assert.Equal(t, int64(100), total)
	assert.Zero(t, closeable)
	assert.True(t, p.cash(t).Equal(decimal.NewFromInt(9000)))
}

func TestPipeline_CancelRestingSellAndRestart(t *testing.T) {
	p := newPipeline(t, termsim.Options{HoldSymbols: []string{"600000"}})
	ctx := context.Background()

	reply, err := p.client.Submit(ctx, &gatewaysvc.SubmitRequest{
		Account: "A", Symbol: "600000", Side: "sell", Qty: 200, Price: "5",
	})
	require.NoError(t, err)
	id := reply.Order.ClientID
	_, closeable := p.position(t, "600000")
	assert.Equal(t, int64(300), closeable)

	p.step(t)
	require.Eventually(t, func() bool {
		o, ok := p.lookup(id)
		return ok && o.OrderNo != ""
	}, waitFor, 10*time.Millisecond)

	cancelReply, err := p.client.Cancel(ctx, &gatewaysvc.CancelRequest{Account: "A", ClientID: id})
	require.NoError(t, err)
	assert.Equal(t, id, cancelReply.Order.ClientID)
	cancelID := cancelReply.Order.CancelClientID
	assert.Equal(t, id+1, cancelID)
	_, closeable = p.position(t, "600000")
	assert.Equal(t, int64(500), closeable)

	p.step(t)
	p.awaitState(t, id, domain.StateCancelled)
	p.awaitState(t, cancelID, domain.StateFilled)

	// a fresh engine over the same tables rebuilds the same order states
	p.eng.Stop()
	restarted := &pipeline{store: p.store, sim: p.sim}
	restarted.eng = startEngine(t, p.store)
	restarted.client = dialEngine(t, restarted.eng)

	assert.Equal(t, domain.StateCancelled, restarted.order(t, id).State)
	next, err := restarted.client.Submit(ctx, &gatewaysvc.SubmitRequest{
		Account: "A", Symbol: "600000", Side: "sell", Qty: 100, Price: "5",
	})
	require.NoError(t, err)
	assert.Equal(t, cancelID+1, next.Order.ClientID)
}

func TestPipeline_RejectedOrderReleasesEscrow(t *testing.T) {
	p := newPipeline(t, termsim.Options{RejectSymbols: []string{"688001"}})

	reply, err := p.client.Submit(context.Background(), &gatewaysvc.SubmitRequest{
		Account: "A", Symbol: "688001", Side: "buy", Qty: 100, Price: "20",
	})
	require.NoError(t, err)
	assert.True(t, p.cash(t).Equal(decimal.NewFromInt(8000)))

	p.step(t)
	rejected := p.awaitState(t, reply.Order.ClientID, domain.StateRejected)
	assert.NotEmpty(t, rejected.ErrMsg)
	assert.True(t, p.cash(t).Equal(decimal.NewFromInt(10000)))
}

func TestPipeline_KafkaCommandsExecuteOnce(t *testing.T) {
	p := newPipeline(t, termsim.Options{})
	ctx := context.Background()

	outbox, err := idempotency.Open(filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { outbox.Close() })
	handler := idempotency.NewCommandHandler(outbox, p.eng, zap.NewNop())

	cmd := msg.CommandMsg{
		CommandID: "cmd-1", Kind: msg.CommandSubmit, Account: "A",
		Symbol: "600001", Side: "buy", Qty: 100, Price: "10", TsUnixMillis: 1,
	}
	value, err := json.Marshal(cmd)
	require.NoError(t, err)

	rec := msg.Record{Topic: msg.TopicCommands, Key: "A", Value: value}
	require.NoError(t, handler.Handle(ctx, rec))
	require.NoError(t, handler.Handle(ctx, rec))

	n, err := p.store.CountInstructions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, p.cash(t).Equal(decimal.NewFromInt(9000)))

	events, err := outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, msg.TopicOrders, events[0].Topic)
}
