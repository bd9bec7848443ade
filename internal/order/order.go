package order

import (
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/shopspring/decimal"
)

// Order is the local view of one instruction row and its outcome.
// CancelClientID names the cancel instruction written for the order, if any.
type Order struct {
	ClientID        int64                  `json:"client_id"`
	Kind            domain.InstructionKind `json:"kind"`
	AccountType     string                 `json:"account_type"`
	Account         string                 `json:"account"`
	Symbol          string                 `json:"symbol"`
	Side            domain.Side            `json:"side"`
	Qty             int64                  `json:"qty"`
	Price           decimal.Decimal        `json:"price"`
	PriceType       string                 `json:"price_type"`
	OrderNo         string                 `json:"ord_no"`
	FilledQty       int64                  `json:"filled_qty"`
	AvgPrice        decimal.Decimal        `json:"avg_price"`
	Cancelable      bool                   `json:"cancelable"`
	CancelRequested bool                   `json:"cancel_requested"`
	CancelClientID  int64                  `json:"cancel_client_id,omitempty"`
	State           domain.OrderState      `json:"state"`
	ErrMsg          string                 `json:"err_msg,omitempty"`
	OrderTime       string                 `json:"ord_time,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// FromInstruction builds the Working order registered for an instruction row.
// Only new-order instructions are cancelable.
func FromInstruction(ins domain.Instruction) Order {
	return Order{
		ClientID:    ins.ClientID,
		Kind:        ins.Kind,
		AccountType: ins.AccountType,
		Account:     ins.Account,
		Symbol:      ins.Symbol,
		Side:        ins.Side,
		Qty:         ins.Qty,
		Price:       ins.Price,
		PriceType:   ins.PriceType,
		OrderNo:     ins.OrderNo,
		AvgPrice:    decimal.Zero,
		Cancelable:  ins.Kind == domain.KindNew,
		State:       domain.StateWorking,
		UpdatedAt:   time.Now(),
	}
}

// Remaining is the quantity not yet filled
func (o Order) Remaining() int64 {
	if o.FilledQty >= o.Qty {
		return 0
	}
	return o.Qty - o.FilledQty
}

// FilledNotional is filled quantity times average fill price
func (o Order) FilledNotional() decimal.Decimal {
	return o.AvgPrice.Mul(decimal.NewFromInt(o.FilledQty))
}

// IsNew reports whether the order is a new-order instruction
func (o Order) IsNew() bool {
	return o.Kind == domain.KindNew
}
