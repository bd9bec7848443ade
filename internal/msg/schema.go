package msg

import (
	"fmt"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/gateway"
	"github.com/shopspring/decimal"
)

// Command kinds
const (
	CommandSubmit = "submit"
	CommandCancel = "cancel"
)

// Command statuses recorded for processed commands
const (
	StatusAccepted = "ACCEPTED"
	StatusRejected = "REJECTED"
)

// CommandMsg is an order command consumed from the commands topic
type CommandMsg struct {
	CommandID    string `json:"command_id"`
	Kind         string `json:"kind"` // "submit" or "cancel"
	Account      string `json:"account"`
	Symbol       string `json:"symbol,omitempty"`
	Side         string `json:"side,omitempty"`
	Qty          int64  `json:"qty,omitempty"`
	Price        string `json:"price,omitempty"`
	PriceType    string `json:"price_type,omitempty"`
	ClientID     int64  `json:"client_id,omitempty"` // cancel target
	TsUnixMillis int64  `json:"ts_unix_millis"`
}

// Validate checks the fields required by the command kind
func (c CommandMsg) Validate() error {
	if c.CommandID == "" {
		return fmt.Errorf("command_id cannot be empty: %w", domain.ErrInvalidRequest)
	}
	switch c.Kind {
	case CommandSubmit:
		_, err := c.SubmitParams()
		return err
	case CommandCancel:
		if c.Account == "" || c.ClientID <= 0 {
			return fmt.Errorf("cancel needs account and client_id: %w", domain.ErrInvalidRequest)
		}
		return nil
	default:
		return fmt.Errorf("unknown command kind %q: %w", c.Kind, domain.ErrInvalidRequest)
	}
}

// SubmitParams converts a submit command into gateway parameters
func (c CommandMsg) SubmitParams() (gateway.SubmitParams, error) {
	side, err := domain.ParseSide(c.Side)
	if err != nil {
		return gateway.SubmitParams{}, fmt.Errorf("side %q: %w", c.Side, domain.ErrInvalidRequest)
	}
	price, err := decimal.NewFromString(c.Price)
	if err != nil {
		return gateway.SubmitParams{}, fmt.Errorf("price %q: %w", c.Price, domain.ErrInvalidRequest)
	}
	p := gateway.SubmitParams{
		Account:   c.Account,
		Symbol:    c.Symbol,
		Side:      side,
		Qty:       c.Qty,
		Price:     price,
		PriceType: c.PriceType,
	}
	return p, p.Validate()
}

// OrderEventMsg is published on the orders topic for every order change and
// for every processed command. An accepted cancel reports the target order
// and the client id of the cancel instruction.
type OrderEventMsg struct {
	EventID        string `json:"event_id"`
	CommandID      string `json:"command_id,omitempty"`
	ClientID       int64  `json:"client_id"`
	CancelClientID int64  `json:"cancel_client_id,omitempty"`
	OrderNo        string `json:"ord_no,omitempty"`
	Account        string `json:"account"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Qty            int64  `json:"qty"`
	FilledQty      int64  `json:"filled_qty"`
	AvgPrice       string `json:"avg_price"`
	State          string `json:"state"`
	Reason         string `json:"reason,omitempty"`
	TsUnixMillis   int64  `json:"ts_unix_millis"`
}

// TradeMsg is published on the trades topic for every fill increment
type TradeMsg struct {
	EventID      string `json:"event_id"`
	ClientID     int64  `json:"client_id"`
	OrderNo      string `json:"ord_no"`
	Account      string `json:"account"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	Qty          int64  `json:"qty"`
	Price        string `json:"price"`
	Notional     string `json:"notional"`
	TsUnixMillis int64  `json:"ts_unix_millis"`
}
