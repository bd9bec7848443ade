package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/shopspring/decimal"
)

// Outcome classifies what a fill row did to an order
type Outcome int

const (
	// OutcomeNone means the row changed nothing observable
	OutcomeNone Outcome = iota
	// OutcomeAck records the external order number without a fill
	OutcomeAck
	OutcomeFill
	OutcomeRejected
	OutcomeCancelled
	// OutcomeCancelAck confirms a cancel instruction; the target is resolved
	// by the ledger
	OutcomeCancelAck
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeFill:
		return "fill"
	case OutcomeRejected:
		return "rejected"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeCancelAck:
		return "cancel_ack"
	default:
		return "none"
	}
}

// Delta is the incremental effect of one fill row
type Delta struct {
	Outcome  Outcome
	Qty      int64
	Notional decimal.Decimal
	// Completed is set when the row filled the order's full quantity
	Completed bool
}

// Price is the average price of the increment
func (d Delta) Price() decimal.Decimal {
	if d.Qty == 0 {
		return decimal.Zero
	}
	return d.Notional.Div(decimal.NewFromInt(d.Qty))
}

// Reconcile applies one cumulative fill row to an order. Quantities are
// derived as differences against the previous cumulative values so a row
// repeating an already applied filled-to-date produces no delta.
func Reconcile(old Order, row domain.FillRecord) (Order, Delta, error) {
	next := old
	if t := strings.TrimSpace(row.Time); t != "" {
		next.OrderTime = t
	}

	if row.HasError() {
		if old.State.IsTerminal() {
			return old, Delta{}, nil
		}
		next.Cancelable = false
		next.State = domain.StateRejected
		next.ErrMsg = strings.TrimSpace(row.ErrMsg)
		next.UpdatedAt = time.Now()
		return next, Delta{Outcome: OutcomeRejected, Notional: decimal.Zero}, nil
	}

	if old.Kind == domain.KindCancel {
		if old.State.IsTerminal() {
			return old, Delta{}, nil
		}
		// a confirmed cancel instruction is complete
		next.Cancelable = false
		next.State = domain.StateFilled
		next.UpdatedAt = time.Now()
		return next, Delta{Outcome: OutcomeCancelAck}, nil
	}

	delta := Delta{Notional: decimal.Zero}
	if no := strings.TrimSpace(row.OrderNo); no != "" && no != old.OrderNo {
		next.OrderNo = no
		delta.Outcome = OutcomeAck
	}

	if old.State == domain.StateFilled || old.State == domain.StateRejected {
		return next, delta, nil
	}
	if row.FilledQty > old.Qty {
		return old, Delta{}, fmt.Errorf("client_id=%d filled=%d qty=%d: %w",
			old.ClientID, row.FilledQty, old.Qty, domain.ErrFillExceedsQuantity)
	}
	if row.FilledQty <= old.FilledQty {
		if delta.Outcome != OutcomeNone {
			next.UpdatedAt = time.Now()
		}
		return next, delta, nil
	}

	if row.Malformed != "" {
		return old, Delta{}, fmt.Errorf("client_id=%d %s: %w", old.ClientID, row.Malformed, domain.ErrMalformedRow)
	}
	if !row.AvgPrice.IsPositive() {
		return old, Delta{}, fmt.Errorf("client_id=%d filled=%d avg_px=%s: %w",
			old.ClientID, row.FilledQty, row.AvgPrice, domain.ErrMalformedRow)
	}

	delta.Outcome = OutcomeFill
	delta.Qty = row.FilledQty - old.FilledQty
	delta.Notional = row.AvgPrice.Mul(decimal.NewFromInt(row.FilledQty)).Sub(old.FilledNotional())
	if delta.Notional.IsNegative() {
		return old, Delta{}, fmt.Errorf("client_id=%d filled=%d avg_px=%s notional=%s: %w",
			old.ClientID, row.FilledQty, row.AvgPrice, delta.Notional, domain.ErrMalformedRow)
	}

	next.FilledQty = row.FilledQty
	next.AvgPrice = row.AvgPrice
	next.UpdatedAt = time.Now()

	if next.FilledQty >= next.Qty {
		next.Cancelable = false
		delta.Completed = true
		if next.State != domain.StateCancelled {
			next.State = domain.StateFilled
		}
	} else if next.State == domain.StateWorking {
		next.State = domain.StatePartiallyFilled
	}

	return next, delta, nil
}

// ConfirmCancel moves a resting order to Cancelled
func ConfirmCancel(target Order) (Order, Delta) {
	if target.State.IsTerminal() {
		return target, Delta{}
	}
	target.Cancelable = false
	target.State = domain.StateCancelled
	target.UpdatedAt = time.Now()
	return target, Delta{Outcome: OutcomeCancelled, Notional: decimal.Zero}
}

// RequestCancel marks an order as no longer cancelable once a cancel
// instruction for it has been written
func RequestCancel(target Order) (Order, error) {
	if !target.IsNew() || !target.Cancelable || target.State.IsTerminal() {
		return target, fmt.Errorf("client_id=%d is not cancelable: %w", target.ClientID, domain.ErrInvalidCancel)
	}
	if target.OrderNo == "" {
		return target, fmt.Errorf("client_id=%d has no order number yet: %w", target.ClientID, domain.ErrInvalidCancel)
	}
	target.Cancelable = false
	target.CancelRequested = true
	target.UpdatedAt = time.Now()
	return target, nil
}
