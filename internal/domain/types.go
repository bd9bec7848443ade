package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the trade side code as written to the instruction log
type Side string

const (
	SideBuy  Side = "1"
	SideSell Side = "2"
)

// ParseSide accepts either the table code or a human readable name
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "buy", "b":
		return SideBuy, nil
	case "2", "sell", "s":
		return SideSell, nil
	case "":
		return "", ErrInvalidRequest
	default:
		// transfer kinds are passed through untouched
		return Side(strings.TrimSpace(s)), nil
	}
}

// IsTrade reports whether the side moves cash and shares
func (s Side) IsTrade() bool {
	return s == SideBuy || s == SideSell
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "other(" + string(s) + ")"
	}
}

// InstructionKind is the inst_type column of the instruction log
type InstructionKind string

const (
	KindNew    InstructionKind = "O"
	KindCancel InstructionKind = "C"
)

// OrderState is the lifecycle state of an order
type OrderState int

const (
	StateWorking OrderState = iota
	StatePartiallyFilled
	StateFilled
	StateCancelled
	StateRejected
)

func (s OrderState) String() string {
	switch s {
	case StateWorking:
		return "WORKING"
	case StatePartiallyFilled:
		return "PARTIALLY_FILLED"
	case StateFilled:
		return "FILLED"
	case StateCancelled:
		return "CANCELLED"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON and log output
func (s OrderState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText
func (s *OrderState) UnmarshalText(b []byte) error {
	for st := StateWorking; st <= StateRejected; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("order state %q: %w", b, ErrInvalidRequest)
}

// IsTerminal reports whether no further transition is expected
func (s OrderState) IsTerminal() bool {
	return s == StateFilled || s == StateCancelled || s == StateRejected
}

// Instruction is one row of the order instruction log
type Instruction struct {
	Kind        InstructionKind
	ClientID    int64
	AccountType string
	Account     string
	OrderNo     string
	Symbol      string
	Side        Side
	Qty         int64
	Price       decimal.Decimal
	PriceType   string
	// Malformed holds the parse failure of a column read as its zero value
	Malformed string
}

// FillRecord is one row of the fill/ack log. Values are cumulative per order.
type FillRecord struct {
	ClientID  string
	OrderNo   string
	Account   string
	Symbol    string
	Side      Side
	FilledQty int64
	AvgPrice  decimal.Decimal
	ErrMsg    string
	Time      string
	// Malformed holds the parse failure of a column read as its zero value
	Malformed string
}

// ClientIDValue parses the back-reference to the originating instruction
func (r FillRecord) ClientIDValue() (int64, bool) {
	s := strings.TrimSpace(r.ClientID)
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// HasError reports whether the terminal returned an error for the order
func (r FillRecord) HasError() bool {
	return strings.TrimSpace(r.ErrMsg) != ""
}

// AssetCash marks the cash row of the account snapshot table
const AssetCash = "F"

// AccountRow is one row of the account/position snapshot table
type AccountRow struct {
	Account   string
	AssetType string
	Symbol    string
	Name      string
	Qty       int64
	Closeable int64
	// Price is the cash amount for the cash row and the average cost otherwise
	Price     decimal.Decimal
	LastPrice decimal.Decimal
	// Malformed holds the parse failure of a column read as its zero value
	Malformed string
}

// IsCash reports whether the row carries the account cash balance
func (r AccountRow) IsCash() bool {
	return strings.TrimSpace(r.AssetType) == AssetCash
}

// Level is one price level of a quote
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  int64           `json:"size"`
}

// QuoteDepth is the number of book levels carried by the market feed
const QuoteDepth = 5

// Quote is a normalized market snapshot for one symbol
type Quote struct {
	Symbol      string            `json:"symbol"`
	Name        string            `json:"name"`
	Last        decimal.Decimal   `json:"last"`
	PreClose    decimal.Decimal   `json:"pre_close"`
	Open        decimal.Decimal   `json:"open"`
	High        decimal.Decimal   `json:"high"`
	Low         decimal.Decimal   `json:"low"`
	Volume      int64             `json:"volume"`
	Amount      decimal.Decimal   `json:"amount"`
	Bids        [QuoteDepth]Level `json:"bids"`
	Asks        [QuoteDepth]Level `json:"asks"`
	Phase       string            `json:"phase"`
	SessionOpen bool              `json:"session_open"`
	Time        time.Time         `json:"time"`
}
