package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"github.com/ismaiel54/table-order-gateway/internal/portfolio"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultClientIDBase is the first client id of an empty instruction log
const DefaultClientIDBase = 1000

// InstructionWriter appends rows to the instruction log
type InstructionWriter interface {
	AppendInstruction(ctx context.Context, ins domain.Instruction) error
}

// SubmitParams describes a new order
type SubmitParams struct {
	Account   string
	Symbol    string
	Side      domain.Side
	Qty       int64
	Price     decimal.Decimal
	PriceType string
}

// Validate checks the parameters before any state is touched
func (p SubmitParams) Validate() error {
	switch {
	case strings.TrimSpace(p.Account) == "":
		return fmt.Errorf("account cannot be empty: %w", domain.ErrInvalidRequest)
	case strings.TrimSpace(p.Symbol) == "":
		return fmt.Errorf("symbol cannot be empty: %w", domain.ErrInvalidRequest)
	case p.Side == "":
		return fmt.Errorf("side cannot be empty: %w", domain.ErrInvalidRequest)
	case p.Qty <= 0:
		return fmt.Errorf("qty must be greater than 0: %w", domain.ErrInvalidRequest)
	case !p.Price.IsPositive():
		return fmt.Errorf("price must be greater than 0: %w", domain.ErrInvalidRequest)
	}
	return nil
}

// Gateway turns submit and cancel calls into instruction rows and keeps the
// order and portfolio ledgers in step. Every accepted call writes exactly
// one row. It must only be used from the goroutine owning the ledgers.
type Gateway struct {
	writer      InstructionWriter
	orders      *order.Ledger
	book        *portfolio.Ledger
	logger      *zap.Logger
	accountType string
	base        int64
	nextID      int64
}

// New creates a gateway; call Init before the first submit
func New(writer InstructionWriter, orders *order.Ledger, book *portfolio.Ledger, accountType string, base int64, logger *zap.Logger) *Gateway {
	if base <= 0 {
		base = DefaultClientIDBase
	}
	return &Gateway{
		writer:      writer,
		orders:      orders,
		book:        book,
		logger:      logger,
		accountType: accountType,
		base:        base,
		nextID:      base,
	}
}

// Init positions the client id allocator after the rows already logged
func (g *Gateway) Init(instructionRows int64) {
	g.nextID = max(g.base+instructionRows, g.orders.MaxClientID()+1, g.base)
	g.logger.Info("client id allocator initialised",
		zap.Int64("instruction_rows", instructionRows),
		zap.Int64("next_client_id", g.nextID),
	)
}

// NextClientID returns the id the next instruction will use
func (g *Gateway) NextClientID() int64 {
	return g.nextID
}

// Submit reserves cash or shares, appends a new-order row and registers the
// order as Working
func (g *Gateway) Submit(ctx context.Context, p SubmitParams) (order.Order, error) {
	if err := p.Validate(); err != nil {
		return order.Order{}, err
	}

	ins := domain.Instruction{
		Kind:        domain.KindNew,
		ClientID:    g.nextID,
		AccountType: g.accountType,
		Account:     strings.TrimSpace(p.Account),
		Symbol:      strings.TrimSpace(p.Symbol),
		Side:        p.Side,
		Qty:         p.Qty,
		Price:       p.Price,
		PriceType:   p.PriceType,
	}
	o := order.FromInstruction(ins)

	if err := g.book.Reserve(o); err != nil {
		return order.Order{}, fmt.Errorf("failed to reserve for client_id=%d: %w", o.ClientID, err)
	}
	if err := g.writer.AppendInstruction(ctx, ins); err != nil {
		g.book.Release(o.ClientID)
		return order.Order{}, fmt.Errorf("failed to append instruction: %w", err)
	}

	g.nextID++
	g.orders.Put(o)

	g.logger.Info("order submitted",
		zap.Int64("client_id", o.ClientID),
		zap.String("account", o.Account),
		zap.String("symbol", o.Symbol),
		zap.String("side", o.Side.String()),
		zap.Int64("qty", o.Qty),
		zap.String("price", o.Price.String()),
	)
	return o, nil
}

// Cancel appends a cancel row for a resting order that already has an
// external order number. The target stops being cancelable and its
// reservation is released immediately; confirmation arrives as a fill row.
func (g *Gateway) Cancel(ctx context.Context, account string, clientID int64) (order.Order, error) {
	target, ok := g.orders.Get(clientID)
	if !ok {
		return order.Order{}, fmt.Errorf("client_id=%d: %w", clientID, domain.ErrInvalidCancel)
	}
	if account != "" && target.Account != account {
		return target, fmt.Errorf("client_id=%d belongs to another account: %w", clientID, domain.ErrInvalidCancel)
	}

	pending, err := order.RequestCancel(target)
	if err != nil {
		return target, err
	}

	ins := domain.Instruction{
		Kind:        domain.KindCancel,
		ClientID:    g.nextID,
		AccountType: g.accountType,
		Account:     target.Account,
		OrderNo:     target.OrderNo,
		Symbol:      target.Symbol,
		Price:       decimal.Zero,
	}
	if err := g.writer.AppendInstruction(ctx, ins); err != nil {
		return target, fmt.Errorf("failed to append cancel instruction: %w", err)
	}

	g.nextID++
	pending.CancelClientID = ins.ClientID
	g.orders.Put(order.FromInstruction(ins))
	g.orders.Put(pending)
	released := g.book.Release(target.ClientID)

	g.logger.Info("cancel submitted",
		zap.Int64("client_id", ins.ClientID),
		zap.Int64("target_client_id", target.ClientID),
		zap.String("ord_no", target.OrderNo),
		zap.String("released_cash", released.Cash.String()),
		zap.Int64("released_qty", released.Qty),
	)
	return pending, nil
}
