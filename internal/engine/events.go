package engine

import (
	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"github.com/shopspring/decimal"
)

// Trade is the normalized incremental fill published on the trade topic
type Trade struct {
	ClientID int64           `json:"client_id"`
	OrderNo  string          `json:"ord_no"`
	Account  string          `json:"account"`
	Symbol   string          `json:"symbol"`
	Side     domain.Side     `json:"side"`
	Qty      int64           `json:"qty"`
	Price    decimal.Decimal `json:"price"`
	Notional decimal.Decimal `json:"notional"`
	Time     string          `json:"time"`
}

func newTrade(o order.Order, d order.Delta) Trade {
	return Trade{
		ClientID: o.ClientID,
		OrderNo:  o.OrderNo,
		Account:  o.Account,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Qty:      d.Qty,
		Price:    d.Price(),
		Notional: d.Notional,
		Time:     o.OrderTime,
	}
}

