package order

import (
	"testing"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cancelInstruction(id int64, orderNo string) domain.Instruction {
	return domain.Instruction{
		Kind:        domain.KindCancel,
		ClientID:    id,
		AccountType: "S0",
		Account:     "A",
		OrderNo:     orderNo,
		Price:       decimal.Zero,
	}
}

func TestLedger_CancelAckCancelsTarget(t *testing.T) {
	l := NewLedger()
	l.Put(newBuy(1000, 100, "10.00"))

	_, err := l.Apply(fill(1000, 0, "0"))
	require.NoError(t, err)

	target, err := l.RequestCancel(1000)
	require.NoError(t, err)
	assert.True(t, target.CancelRequested)

	l.Put(FromInstruction(cancelInstruction(1001, "X1")))
	row := fill(1001, 0, "0")
	transitions, err := l.Apply(row)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, OutcomeCancelAck, transitions[0].Delta.Outcome)
	assert.Equal(t, OutcomeCancelled, transitions[1].Delta.Outcome)

	got, ok := l.Get(1000)
	require.True(t, ok)
	assert.Equal(t, domain.StateCancelled, got.State)
	assert.False(t, got.Cancelable)
}

func TestLedger_UnknownAndMissingClientID(t *testing.T) {
	l := NewLedger()

	_, err := l.Apply(fill(42, 1, "1"))
	require.ErrorIs(t, err, domain.ErrUnknownOrder)

	row := fill(0, 1, "1")
	row.ClientID = "  "
	_, err = l.Apply(row)
	require.ErrorIs(t, err, domain.ErrUnknownOrder)
}

func TestLedger_RequestCancelUnknown(t *testing.T) {
	l := NewLedger()
	_, err := l.RequestCancel(7)
	require.ErrorIs(t, err, domain.ErrInvalidCancel)
}

func TestLedger_RecoverAndPendingCancels(t *testing.T) {
	l := NewLedger()
	buy := domain.Instruction{
		Kind: domain.KindNew, ClientID: 1000, AccountType: "S0", Account: "A",
		Symbol: "600000", Side: domain.SideBuy, Qty: 100, Price: decimal.RequireFromString("10"),
	}
	l.Recover([]domain.Instruction{buy, cancelInstruction(1001, "X1")})

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, int64(1001), l.MaxClientID())
	o, _ := l.Get(1000)
	assert.True(t, o.Cancelable, "target unknown until its ack is replayed")

	_, err := l.Apply(fill(1000, 0, "0"))
	require.NoError(t, err)
	assert.Equal(t, 1, l.MarkPendingCancels())

	o, _ = l.Get(1000)
	assert.False(t, o.Cancelable)
	assert.True(t, o.CancelRequested)
	assert.Equal(t, int64(1001), o.CancelClientID)
	assert.Empty(t, l.Cancelable())
	assert.Len(t, l.Working(), 1)
}

func TestLedger_SnapshotIsOrderedCopy(t *testing.T) {
	l := NewLedger()
	l.Put(newBuy(1002, 1, "1"))
	l.Put(newBuy(1000, 1, "1"))
	l.Put(newBuy(1001, 1, "1"))

	snap := l.Snapshot(nil)
	require.Len(t, snap, 3)
	assert.Equal(t, []int64{1000, 1001, 1002}, []int64{snap[0].ClientID, snap[1].ClientID, snap[2].ClientID})

	snap[0].FilledQty = 99
	o, _ := l.Get(1000)
	assert.Equal(t, int64(0), o.FilledQty)
}
