package engine

import (
	"context"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/gateway"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"github.com/ismaiel54/table-order-gateway/internal/portfolio"
)

// Submit places a new order and returns it with its client id
func (e *Engine) Submit(ctx context.Context, p gateway.SubmitParams) (order.Order, error) {
	resp, err := e.Do(ctx, SubmitRequest{Params: p})
	return resp.Order, err
}

// Cancel requests cancellation of a resting order and returns it with
// CancelClientID set to the client id of the cancel instruction
func (e *Engine) Cancel(ctx context.Context, account string, clientID int64) (order.Order, error) {
	resp, err := e.Do(ctx, CancelRequest{Account: account, ClientID: clientID})
	return resp.Order, err
}

// Accounts returns a snapshot of one account, or of all accounts when
// account is empty
func (e *Engine) Accounts(ctx context.Context, account string) ([]portfolio.Account, error) {
	resp, err := e.Do(ctx, QueryAccountRequest{Account: account})
	return resp.Accounts, err
}

// Positions returns a snapshot of the positions of account
func (e *Engine) Positions(ctx context.Context, account string) ([]portfolio.Position, error) {
	resp, err := e.Do(ctx, QueryPositionsRequest{Account: account})
	return resp.Positions, err
}

// Orders returns a snapshot of the orders of account
func (e *Engine) Orders(ctx context.Context, account string, cancelableOnly bool) ([]order.Order, error) {
	resp, err := e.Do(ctx, QueryOrdersRequest{Account: account, CancelableOnly: cancelableOnly})
	return resp.Orders, err
}

// Order returns one order by client id
func (e *Engine) Order(ctx context.Context, clientID int64) (order.Order, error) {
	resp, err := e.Do(ctx, QueryOrdersRequest{ClientID: clientID})
	return resp.Order, err
}

// RefreshSnapshot reloads cash and positions from the account table
func (e *Engine) RefreshSnapshot(ctx context.Context) error {
	_, err := e.Do(ctx, RefreshSnapshotRequest{})
	return err
}

// Scan applies pending fill rows now and returns how many were consumed
func (e *Engine) Scan(ctx context.Context) (int, error) {
	resp, err := e.Do(ctx, ScanRequest{})
	return resp.Count, err
}

// UpdatePrices marks positions with quotes and returns how many were marked
func (e *Engine) UpdatePrices(ctx context.Context, quotes []domain.Quote) (int, error) {
	resp, err := e.Do(ctx, PriceUpdateRequest{Quotes: quotes})
	return resp.Count, err
}
