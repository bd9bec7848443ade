package order

import (
	"fmt"

	"github.com/google/btree"
	"github.com/ismaiel54/table-order-gateway/internal/domain"
)

const btreeDegree = 32

// Transition is one order change produced by applying a fill row
type Transition struct {
	Order Order
	Delta Delta
}

// Ledger holds every order of the process lifetime ordered by client id.
// It is owned by a single goroutine and is not safe for concurrent use.
type Ledger struct {
	orders *btree.BTreeG[Order]
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		orders: btree.NewG[Order](btreeDegree, func(a, b Order) bool {
			return a.ClientID < b.ClientID
		}),
	}
}

// Len returns the number of orders
func (l *Ledger) Len() int {
	return l.orders.Len()
}

// Put inserts or replaces an order
func (l *Ledger) Put(o Order) {
	l.orders.ReplaceOrInsert(o)
}

// Get returns a copy of the order with the given client id
func (l *Ledger) Get(clientID int64) (Order, bool) {
	return l.orders.Get(Order{ClientID: clientID})
}

// MaxClientID returns the highest client id seen, or 0
func (l *Ledger) MaxClientID() int64 {
	o, ok := l.orders.Max()
	if !ok {
		return 0
	}
	return o.ClientID
}

// FindCancelTarget returns the resting new order carrying orderNo
func (l *Ledger) FindCancelTarget(account, orderNo string) (Order, bool) {
	var found Order
	var ok bool
	l.orders.Ascend(func(o Order) bool {
		if o.IsNew() && !o.State.IsTerminal() && o.OrderNo == orderNo &&
			(account == "" || o.Account == account) {
			found, ok = o, true
			return false
		}
		return true
	})
	return found, ok
}

// Apply reconciles one fill row against the order it references. A
// confirmed cancel instruction also cancels its target, so up to two
// transitions are returned.
func (l *Ledger) Apply(row domain.FillRecord) ([]Transition, error) {
	id, ok := row.ClientIDValue()
	if !ok {
		return nil, fmt.Errorf("fill row without client id (ord_no=%q): %w", row.OrderNo, domain.ErrUnknownOrder)
	}

	old, ok := l.Get(id)
	if !ok {
		return nil, fmt.Errorf("client_id=%d: %w", id, domain.ErrUnknownOrder)
	}

	next, delta, err := Reconcile(old, row)
	if err != nil {
		return nil, err
	}
	l.Put(next)

	out := []Transition{{Order: next, Delta: delta}}
	if delta.Outcome != OutcomeCancelAck {
		return out, nil
	}

	target, ok := l.FindCancelTarget(next.Account, next.OrderNo)
	if !ok {
		return out, nil
	}
	cancelled, cdelta := ConfirmCancel(target)
	l.Put(cancelled)
	return append(out, Transition{Order: cancelled, Delta: cdelta}), nil
}

// RequestCancel marks the order as having a cancel in flight
func (l *Ledger) RequestCancel(clientID int64) (Order, error) {
	o, ok := l.Get(clientID)
	if !ok {
		return Order{}, fmt.Errorf("client_id=%d: %w", clientID, domain.ErrInvalidCancel)
	}
	next, err := RequestCancel(o)
	if err != nil {
		return o, err
	}
	l.Put(next)
	return next, nil
}

// Recover rebuilds the ledger from the instruction log
func (l *Ledger) Recover(rows []domain.Instruction) {
	for _, ins := range rows {
		l.Put(FromInstruction(ins))
	}
	l.MarkPendingCancels()
}

// MarkPendingCancels makes the targets of unconfirmed cancel instructions
// non-cancelable. Targets are matched by order number, which recovered
// orders only learn once their ack rows are replayed.
func (l *Ledger) MarkPendingCancels() int {
	pending := l.Snapshot(func(o Order) bool {
		return o.Kind == domain.KindCancel && o.OrderNo != "" && !o.State.IsTerminal()
	})

	marked := 0
	for _, c := range pending {
		target, ok := l.FindCancelTarget(c.Account, c.OrderNo)
		if !ok || !target.Cancelable {
			continue
		}
		target.Cancelable = false
		target.CancelRequested = true
		target.CancelClientID = c.ClientID
		l.Put(target)
		marked++
	}
	return marked
}

// Snapshot returns copies of the orders accepted by keep, in client id order.
// A nil keep returns every order.
func (l *Ledger) Snapshot(keep func(Order) bool) []Order {
	out := make([]Order, 0, l.orders.Len())
	l.orders.Ascend(func(o Order) bool {
		if keep == nil || keep(o) {
			out = append(out, o)
		}
		return true
	})
	return out
}

// Working returns the new orders that have not reached a terminal state
func (l *Ledger) Working() []Order {
	return l.Snapshot(func(o Order) bool {
		return o.IsNew() && !o.State.IsTerminal()
	})
}

// Cancelable returns the orders that may still be cancelled
func (l *Ledger) Cancelable() []Order {
	return l.Snapshot(func(o Order) bool { return o.Cancelable })
}
