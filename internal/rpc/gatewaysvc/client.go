package gatewaysvc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Client is a gRPC client for the gateway service
type Client struct {
	cc      *grpc.ClientConn
	timeout time.Duration
}

// Dial creates a new client connection to the gateway service
func Dial(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	unaryInterceptor := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		duration := time.Since(start)

		code := status.Code(err)
		logger.Debug("gRPC call",
			zap.String("method", method),
			zap.Duration("duration", duration),
			zap.String("status_code", code.String()),
		)
		return err
	}

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(unaryInterceptor),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)

	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{cc: conn, timeout: timeout}, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.cc.Invoke(ctx, fullMethod(method), in, out)
}

// Submit places a new order
func (c *Client) Submit(ctx context.Context, req *SubmitRequest) (*OrderReply, error) {
	out := new(OrderReply)
	return out, c.invoke(ctx, "Submit", req, out)
}

// Cancel requests cancellation of a resting order
func (c *Client) Cancel(ctx context.Context, req *CancelRequest) (*OrderReply, error) {
	out := new(OrderReply)
	return out, c.invoke(ctx, "Cancel", req, out)
}

// GetAccount fetches account snapshots
func (c *Client) GetAccount(ctx context.Context, req *AccountRequest) (*AccountReply, error) {
	out := new(AccountReply)
	return out, c.invoke(ctx, "GetAccount", req, out)
}

// ListPositions fetches position snapshots
func (c *Client) ListPositions(ctx context.Context, req *AccountRequest) (*PositionsReply, error) {
	out := new(PositionsReply)
	return out, c.invoke(ctx, "ListPositions", req, out)
}

// ListOrders fetches order snapshots
func (c *Client) ListOrders(ctx context.Context, req *OrdersRequest) (*OrdersReply, error) {
	out := new(OrdersReply)
	return out, c.invoke(ctx, "ListOrders", req, out)
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.cc != nil {
		return c.cc.Close()
	}
	return nil
}
