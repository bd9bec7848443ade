package gatewaysvc

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/gateway"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"github.com/ismaiel54/table-order-gateway/internal/portfolio"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeEngine struct {
	submitted []gateway.SubmitParams
	orders    map[int64]order.Order
	nextID    int64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{orders: make(map[int64]order.Order), nextID: 1000}
}

func (f *fakeEngine) Submit(_ context.Context, p gateway.SubmitParams) (order.Order, error) {
	if p.Price.GreaterThan(decimal.NewFromInt(1000)) {
		return order.Order{}, &domain.InsufficientBalanceError{Account: p.Account, Asset: "cash"}
	}
	f.submitted = append(f.submitted, p)
	o := order.Order{
		ClientID: f.nextID, Kind: domain.KindNew, Account: p.Account, Symbol: p.Symbol,
		Side: p.Side, Qty: p.Qty, Price: p.Price, Cancelable: true, State: domain.StateWorking,
	}
	f.orders[o.ClientID] = o
	f.nextID++
	return o, nil
}

func (f *fakeEngine) Cancel(_ context.Context, account string, clientID int64) (order.Order, error) {
	o, ok := f.orders[clientID]
	if !ok || !o.Cancelable {
		return order.Order{}, fmt.Errorf("client_id=%d: %w", clientID, domain.ErrInvalidCancel)
	}
	o.Cancelable = false
	o.CancelRequested = true
	o.CancelClientID = f.nextID
	f.orders[clientID] = o
	f.orders[f.nextID] = order.Order{ClientID: f.nextID, Kind: domain.KindCancel, Account: o.Account, State: domain.StateWorking}
	f.nextID++
	return o, nil
}

func (f *fakeEngine) Accounts(_ context.Context, account string) ([]portfolio.Account, error) {
	if account != "A" {
		return nil, fmt.Errorf("account %q: %w", account, domain.ErrUnknownAccount)
	}
	return []portfolio.Account{{Account: "A", Cash: decimal.NewFromInt(2000), MarketValue: decimal.Zero, Equity: decimal.NewFromInt(2000)}}, nil
}

func (f *fakeEngine) Positions(_ context.Context, account string) ([]portfolio.Position, error) {
	return []portfolio.Position{{Account: account, Symbol: "600000", Total: 10, Closeable: 10}}, nil
}

func (f *fakeEngine) Orders(_ context.Context, account string, cancelableOnly bool) ([]order.Order, error) {
	var out []order.Order
	for _, o := range f.orders {
		if o.Account == account && (!cancelableOnly || o.Cancelable) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeEngine) Order(_ context.Context, clientID int64) (order.Order, error) {
	o, ok := f.orders[clientID]
	if !ok {
		return order.Order{}, domain.ErrUnknownOrder
	}
	return o, nil
}

func startServer(t *testing.T, eng Engine) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(LoggingUnaryServerInterceptor(zap.NewNop())))
	RegisterGatewayServer(srv, NewServer(eng, zap.NewNop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := Dial(context.Background(), "bufnet", time.Second, zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestGatewayService_SubmitAndCancel(t *testing.T) {
	eng := newFakeEngine()
	client := startServer(t, eng)
	ctx := context.Background()

	reply, err := client.Submit(ctx, &SubmitRequest{Account: "A", Symbol: "600000", Side: "buy", Qty: 100, Price: "10.00"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), reply.Order.ClientID)
	assert.Equal(t, domain.StateWorking, reply.Order.State)
	assert.Equal(t, "10", reply.Order.Price.String())
	require.Len(t, eng.submitted, 1)
	assert.Equal(t, domain.SideBuy, eng.submitted[0].Side)

	cancelled, err := client.Cancel(ctx, &CancelRequest{Account: "A", ClientID: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), cancelled.Order.ClientID, "the reply carries the target order")
	assert.True(t, cancelled.Order.CancelRequested)
	assert.Equal(t, int64(1001), cancelled.Order.CancelClientID)

	_, err = client.Cancel(ctx, &CancelRequest{Account: "A", ClientID: 1000})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	orders, err := client.ListOrders(ctx, &OrdersRequest{Account: "A"})
	require.NoError(t, err)
	assert.Len(t, orders.Orders, 2)

	instruction, err := client.ListOrders(ctx, &OrdersRequest{ClientID: cancelled.Order.CancelClientID})
	require.NoError(t, err)
	require.Len(t, instruction.Orders, 1)
	assert.Equal(t, domain.KindCancel, instruction.Orders[0].Kind)

	one, err := client.ListOrders(ctx, &OrdersRequest{ClientID: 1000})
	require.NoError(t, err)
	require.Len(t, one.Orders, 1)

	_, err = client.ListOrders(ctx, &OrdersRequest{ClientID: 5})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGatewayService_ErrorCodes(t *testing.T) {
	client := startServer(t, newFakeEngine())
	ctx := context.Background()

	_, err := client.Submit(ctx, &SubmitRequest{Account: "A", Symbol: "600000", Side: "buy", Qty: 0, Price: "10"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Submit(ctx, &SubmitRequest{Account: "A", Symbol: "600000", Side: "buy", Qty: 1, Price: "ten"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Submit(ctx, &SubmitRequest{Account: "A", Symbol: "600000", Side: "sell", Qty: 1, Price: "5000"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = client.Cancel(ctx, &CancelRequest{Account: "A"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.GetAccount(ctx, &AccountRequest{Account: "Z"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	assert.Equal(t, codes.InvalidArgument, status.Code(toStatus(fmt.Errorf("account: %w", domain.ErrInvalidRequest))))
	assert.Equal(t, codes.NotFound, status.Code(toStatus(fmt.Errorf("account: %w", domain.ErrUnknownAccount))))
}

func TestGatewayService_Queries(t *testing.T) {
	client := startServer(t, newFakeEngine())
	ctx := context.Background()

	accts, err := client.GetAccount(ctx, &AccountRequest{Account: "A"})
	require.NoError(t, err)
	require.Len(t, accts.Accounts, 1)
	assert.Equal(t, "2000", accts.Accounts[0].Cash.String())

	positions, err := client.ListPositions(ctx, &AccountRequest{Account: "A"})
	require.NoError(t, err)
	require.Len(t, positions.Positions, 1)
	assert.Equal(t, int64(10), positions.Positions[0].Closeable)
}

func TestToStatus(t *testing.T) {
	assert.Equal(t, codes.Unavailable, status.Code(toStatus(domain.Transient("read", fmt.Errorf("locked")))))
	assert.Equal(t, codes.Unavailable, status.Code(toStatus(domain.ErrEngineStopped)))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(toStatus(context.DeadlineExceeded)))
	assert.Equal(t, codes.Internal, status.Code(toStatus(fmt.Errorf("boom"))))
}
