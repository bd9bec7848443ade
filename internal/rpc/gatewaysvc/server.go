package gatewaysvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/gateway"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"github.com/ismaiel54/table-order-gateway/internal/portfolio"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Engine is the part of the engine the service drives
type Engine interface {
	Submit(ctx context.Context, p gateway.SubmitParams) (order.Order, error)
	Cancel(ctx context.Context, account string, clientID int64) (order.Order, error)
	Accounts(ctx context.Context, account string) ([]portfolio.Account, error)
	Positions(ctx context.Context, account string) ([]portfolio.Position, error)
	Orders(ctx context.Context, account string, cancelableOnly bool) ([]order.Order, error)
	Order(ctx context.Context, clientID int64) (order.Order, error)
}

// Server implements GatewayServer over the engine
type Server struct {
	engine Engine
	logger *zap.Logger
}

// NewServer creates a new gateway service server
func NewServer(engine Engine, logger *zap.Logger) *Server {
	return &Server{engine: engine, logger: logger}
}

// ParseSubmit converts a wire request into validated submit parameters
func ParseSubmit(req *SubmitRequest) (gateway.SubmitParams, error) {
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		return gateway.SubmitParams{}, fmt.Errorf("side %q: %w", req.Side, domain.ErrInvalidRequest)
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return gateway.SubmitParams{}, fmt.Errorf("price %q: %w", req.Price, domain.ErrInvalidRequest)
	}
	p := gateway.SubmitParams{
		Account:   req.Account,
		Symbol:    req.Symbol,
		Side:      side,
		Qty:       req.Qty,
		Price:     price,
		PriceType: req.PriceType,
	}
	return p, p.Validate()
}

// Submit places a new order
func (s *Server) Submit(ctx context.Context, req *SubmitRequest) (*OrderReply, error) {
	p, err := ParseSubmit(req)
	if err != nil {
		return nil, toStatus(err)
	}
	o, err := s.engine.Submit(ctx, p)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("order submitted",
		zap.Int64("client_id", o.ClientID),
		zap.String("account", o.Account),
		zap.String("symbol", o.Symbol),
		zap.String("side", o.Side.String()),
		zap.Int64("qty", o.Qty),
		zap.String("price", o.Price.String()),
	)
	return &OrderReply{Order: o}, nil
}

// Cancel requests cancellation of a resting order
func (s *Server) Cancel(ctx context.Context, req *CancelRequest) (*OrderReply, error) {
	if req.ClientID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "client_id must be positive")
	}
	o, err := s.engine.Cancel(ctx, req.Account, req.ClientID)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("cancel submitted",
		zap.Int64("client_id", o.ClientID),
		zap.Int64("cancel_client_id", o.CancelClientID),
		zap.String("ord_no", o.OrderNo),
	)
	return &OrderReply{Order: o}, nil
}

// GetAccount returns one account, or every account for an empty id
func (s *Server) GetAccount(ctx context.Context, req *AccountRequest) (*AccountReply, error) {
	accts, err := s.engine.Accounts(ctx, req.Account)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountReply{Accounts: accts}, nil
}

// ListPositions returns the positions of an account
func (s *Server) ListPositions(ctx context.Context, req *AccountRequest) (*PositionsReply, error) {
	positions, err := s.engine.Positions(ctx, req.Account)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PositionsReply{Positions: positions}, nil
}

// ListOrders returns orders of an account or a single order
func (s *Server) ListOrders(ctx context.Context, req *OrdersRequest) (*OrdersReply, error) {
	if req.ClientID != 0 {
		o, err := s.engine.Order(ctx, req.ClientID)
		if err != nil {
			return nil, toStatus(err)
		}
		return &OrdersReply{Orders: []order.Order{o}}, nil
	}
	orders, err := s.engine.Orders(ctx, req.Account, req.CancelableOnly)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrdersReply{Orders: orders}, nil
}

// toStatus maps the error taxonomy onto gRPC codes
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, domain.ErrInvalidCancel):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrUnknownOrder), errors.Is(err, domain.ErrUnknownAccount):
		code = codes.NotFound
	case errors.Is(err, domain.ErrEngineStopped), domain.IsTransient(err):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// LoggingUnaryServerInterceptor logs every call with its duration and code
func LoggingUnaryServerInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.String("status_code", code.String()),
		}
		if err != nil && code == codes.Internal {
			logger.Error("gRPC call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Info("gRPC call", fields...)
		}
		return resp, err
	}
}
