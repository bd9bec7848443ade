package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"github.com/ismaiel54/table-order-gateway/internal/portfolio"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memWriter struct {
	rows []domain.Instruction
	err  error
}

func (m *memWriter) AppendInstruction(ctx context.Context, ins domain.Instruction) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, ins)
	return nil
}

type fixture struct {
	gw     *Gateway
	writer *memWriter
	orders *order.Ledger
	book   *portfolio.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orders := order.NewLedger()
	book := portfolio.NewLedger(portfolio.NewPrefixClassifier("511"), zap.NewNop())
	book.LoadSnapshot([]domain.AccountRow{
		{Account: "A", AssetType: domain.AssetCash, Price: decimal.RequireFromString("2000.00")},
		{Account: "A", AssetType: "S", Symbol: "X", Qty: 50, Closeable: 50, Price: decimal.RequireFromString("3")},
	})
	w := &memWriter{}
	gw := New(w, orders, book, "S0", 0, zap.NewNop())
	gw.Init(0)
	return &fixture{gw: gw, writer: w, orders: orders, book: book}
}

func buyParams() SubmitParams {
	return SubmitParams{Account: "A", Symbol: "600000", Side: domain.SideBuy, Qty: 100, Price: decimal.RequireFromString("10.00"), PriceType: "0"}
}

func TestSubmit_BuyEscrowsAndWritesOneRow(t *testing.T) {
	f := newFixture(t)

	o, err := f.gw.Submit(context.Background(), buyParams())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), o.ClientID)
	assert.Equal(t, domain.StateWorking, o.State)
	assert.True(t, o.Cancelable)

	require.Len(t, f.writer.rows, 1)
	assert.Equal(t, domain.KindNew, f.writer.rows[0].Kind)
	assert.Equal(t, "S0", f.writer.rows[0].AccountType)
	assert.Equal(t, "", f.writer.rows[0].OrderNo)

	acct, _ := f.book.Account("A")
	assert.Equal(t, "1000", acct.Cash.String())
	assert.Equal(t, int64(1001), f.gw.NextClientID())
}

func TestSubmit_RejectedRequestsWriteNothing(t *testing.T) {
	f := newFixture(t)

	p := buyParams()
	p.Qty = 1000
	_, err := f.gw.Submit(context.Background(), p)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	p = buyParams()
	p.Qty = 0
	_, err = f.gw.Submit(context.Background(), p)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	sell := SubmitParams{Account: "A", Symbol: "X", Side: domain.SideSell, Qty: 51, Price: decimal.RequireFromString("4")}
	_, err = f.gw.Submit(context.Background(), sell)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.Empty(t, f.writer.rows)
	assert.Equal(t, int64(1000), f.gw.NextClientID())
}

func TestSubmit_WriteFailureRollsBackReservation(t *testing.T) {
	f := newFixture(t)
	f.writer.err = domain.Transient("append instruction", errors.New("disk full"))

	_, err := f.gw.Submit(context.Background(), buyParams())
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))

	acct, _ := f.book.Account("A")
	assert.Equal(t, "2000", acct.Cash.String())
	assert.Equal(t, 0, f.orders.Len())
}

func TestCancel_SellBeforeFillRestoresCloseable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sell, err := f.gw.Submit(ctx, SubmitParams{Account: "A", Symbol: "X", Side: domain.SideSell, Qty: 50, Price: decimal.RequireFromString("4")})
	require.NoError(t, err)
	pos, _ := f.book.Position("A", "X")
	assert.Equal(t, int64(0), pos.Closeable)
	assert.Equal(t, int64(50), pos.Locked)

	_, err = f.gw.Cancel(ctx, "A", sell.ClientID)
	require.ErrorIs(t, err, domain.ErrInvalidCancel, "no order number yet")
	assert.Len(t, f.writer.rows, 1)

	_, err = f.orders.Apply(domain.FillRecord{ClientID: "1000", OrderNo: "X9", Account: "A", Symbol: "X", Side: domain.SideSell})
	require.NoError(t, err)

	pending, err := f.gw.Cancel(ctx, "A", sell.ClientID)
	require.NoError(t, err)
	assert.False(t, pending.Cancelable)
	assert.True(t, pending.CancelRequested)

	require.Len(t, f.writer.rows, 2)
	cancelRow := f.writer.rows[1]
	assert.Equal(t, domain.KindCancel, cancelRow.Kind)
	assert.Equal(t, int64(1001), cancelRow.ClientID)
	assert.Equal(t, "X9", cancelRow.OrderNo)
	assert.Equal(t, sell.ClientID, pending.ClientID)
	assert.Equal(t, cancelRow.ClientID, pending.CancelClientID)
	stored, _ := f.orders.Get(sell.ClientID)
	assert.Equal(t, int64(1001), stored.CancelClientID)

	pos, _ = f.book.Position("A", "X")
	assert.Equal(t, int64(50), pos.Closeable)
	assert.Equal(t, int64(0), pos.Locked)

	_, err = f.gw.Cancel(ctx, "A", sell.ClientID)
	require.ErrorIs(t, err, domain.ErrInvalidCancel)
	assert.Len(t, f.writer.rows, 2)
}

func TestCancel_UnknownOrForeignOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.gw.Cancel(context.Background(), "A", 4242)
	require.ErrorIs(t, err, domain.ErrInvalidCancel)

	o, err := f.gw.Submit(context.Background(), buyParams())
	require.NoError(t, err)
	_, err = f.gw.Cancel(context.Background(), "B", o.ClientID)
	require.ErrorIs(t, err, domain.ErrInvalidCancel)
}

func TestInit_ResumesAfterLoggedRows(t *testing.T) {
	orders := order.NewLedger()
	orders.Put(order.FromInstruction(domain.Instruction{Kind: domain.KindNew, ClientID: 1010}))
	book := portfolio.NewLedger(portfolio.NewPrefixClassifier(), zap.NewNop())

	gw := New(&memWriter{}, orders, book, "S0", 1000, zap.NewNop())
	gw.Init(3)
	assert.Equal(t, int64(1011), gw.NextClientID())

	gw = New(&memWriter{}, order.NewLedger(), book, "S0", 1000, zap.NewNop())
	gw.Init(3)
	assert.Equal(t, int64(1003), gw.NextClientID())
}
