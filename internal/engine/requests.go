package engine

import (
	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/gateway"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"github.com/ismaiel54/table-order-gateway/internal/portfolio"
)

// Request is one call handled by the engine loop
type Request interface {
	requestName() string
}

// SubmitRequest places a new order
type SubmitRequest struct {
	Params gateway.SubmitParams
}

// CancelRequest cancels a resting order by client id
type CancelRequest struct {
	Account  string
	ClientID int64
}

// QueryAccountRequest reads one account, or every account when Account is empty
type QueryAccountRequest struct {
	Account string
}

// QueryPositionsRequest reads the positions of an account, or all positions
type QueryPositionsRequest struct {
	Account string
}

// QueryOrdersRequest lists orders. A non-zero ClientID selects one order.
type QueryOrdersRequest struct {
	Account        string
	ClientID       int64
	CancelableOnly bool
}

// RefreshSnapshotRequest reloads the account snapshot table
type RefreshSnapshotRequest struct{}

// ScanRequest runs one fill scan immediately
type ScanRequest struct{}

// PriceUpdateRequest marks positions with fresh quotes
type PriceUpdateRequest struct {
	Quotes []domain.Quote
}

// publishRequest emits account and position events
type publishRequest struct{}

func (SubmitRequest) requestName() string          { return "submit" }
func (CancelRequest) requestName() string          { return "cancel" }
func (QueryAccountRequest) requestName() string    { return "query_account" }
func (QueryPositionsRequest) requestName() string  { return "query_positions" }
func (QueryOrdersRequest) requestName() string     { return "query_orders" }
func (RefreshSnapshotRequest) requestName() string { return "refresh_snapshot" }
func (ScanRequest) requestName() string            { return "scan" }
func (PriceUpdateRequest) requestName() string     { return "price_update" }
func (publishRequest) requestName() string         { return "publish" }

// Response carries the result of a Request; only the fields relevant to the
// request kind are set
type Response struct {
	Order     order.Order
	Orders    []order.Order
	Accounts  []portfolio.Account
	Positions []portfolio.Position
	Count     int
	Err       error
}

type envelope struct {
	req   Request
	reply chan Response
}
