package termsim

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/tables"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSim(t *testing.T, opts Options) (*Sim, *tables.Store) {
	t.Helper()
	store, err := tables.Open(filepath.Join(t.TempDir(), "tables.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts.Clock = func() time.Time { return time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC) }
	return New(store, opts, zap.NewNop()), store
}

func buy(clientID int64, symbol string, qty int64) domain.Instruction {
	return domain.Instruction{
		Kind: domain.KindNew, ClientID: clientID, AccountType: "S0", Account: "A",
		Symbol: symbol, Side: domain.SideBuy, Qty: qty, Price: decimal.RequireFromString("10.5"), PriceType: "0",
	}
}

func fills(t *testing.T, store *tables.Store) []domain.FillRecord {
	t.Helper()
	ctx := context.Background()
	n, err := store.CountFills(ctx)
	require.NoError(t, err)
	rows, err := store.ReadFills(ctx, 0, n)
	require.NoError(t, err)
	return rows
}

func TestSim_AcksThenFillsInSteps(t *testing.T) {
	sim, store := newSim(t, Options{FillStep: 60})
	ctx := context.Background()
	require.NoError(t, store.AppendInstruction(ctx, buy(1000, "600000", 100)))

	n, err := sim.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(1), sim.Offset())

	n, err = sim.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = sim.Step(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	rows := fills(t, store)
	require.Len(t, rows, 3)
	assert.Equal(t, "SIM1", rows[0].OrderNo)
	assert.Zero(t, rows[0].FilledQty)
	assert.Equal(t, int64(60), rows[1].FilledQty)
	assert.Equal(t, int64(100), rows[2].FilledQty)
	assert.Equal(t, "10.5", rows[2].AvgPrice.String())
	assert.Equal(t, "1000", rows[2].ClientID)
	assert.Equal(t, "09:30:00", rows[2].Time)
}

func TestSim_RejectAndCancel(t *testing.T) {
	sim, store := newSim(t, Options{RejectSymbols: []string{"000001"}, HoldSymbols: []string{"600000"}})
	ctx := context.Background()
	require.NoError(t, store.AppendInstruction(ctx, buy(1000, "000001", 100)))
	require.NoError(t, store.AppendInstruction(ctx, buy(1001, "600000", 100)))

	_, err := sim.Step(ctx)
	require.NoError(t, err)

	require.NoError(t, store.AppendInstruction(ctx, domain.Instruction{
		Kind: domain.KindCancel, ClientID: 1002, AccountType: "S0", Account: "A", OrderNo: "SIM1",
	}))
	require.NoError(t, store.AppendInstruction(ctx, domain.Instruction{
		Kind: domain.KindCancel, ClientID: 1003, AccountType: "S0", Account: "A", OrderNo: "SIM1",
	}))
	_, err = sim.Step(ctx)
	require.NoError(t, err)

	rows := fills(t, store)
	require.Len(t, rows, 4)
	assert.True(t, rows[0].HasError())
	assert.Equal(t, "1000", rows[0].ClientID)
	assert.Equal(t, "SIM1", rows[1].OrderNo)
	assert.Zero(t, rows[1].FilledQty)

	assert.Equal(t, "1002", rows[2].ClientID)
	assert.False(t, rows[2].HasError())
	assert.Equal(t, "1003", rows[3].ClientID)
	assert.True(t, rows[3].HasError())
}

func TestSim_UnpricedOrderGetsErrorRow(t *testing.T) {
	sim, store := newSim(t, Options{})
	ctx := context.Background()
	unpriced := buy(1000, "600000", 100)
	unpriced.Price = decimal.Zero
	require.NoError(t, store.AppendInstruction(ctx, unpriced))

	_, err := sim.Step(ctx)
	require.NoError(t, err)

	rows := fills(t, store)
	require.Len(t, rows, 1)
	assert.Equal(t, "invalid order price", rows[0].ErrMsg)
	assert.Zero(t, rows[0].FilledQty)
}

func TestSim_Seed(t *testing.T) {
	sim, store := newSim(t, Options{})
	ctx := context.Background()
	require.NoError(t, sim.Seed(ctx, "A", decimal.NewFromInt(5000), map[string]int64{"600000": 300}))

	rows, err := store.LoadAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	var cash, held bool
	for _, r := range rows {
		if r.IsCash() {
			cash = true
			assert.Equal(t, "5000", r.Price.String())
		} else {
			held = true
			assert.Equal(t, int64(300), r.Closeable)
		}
	}
	assert.True(t, cash)
	assert.True(t, held)
}
