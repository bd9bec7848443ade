package gatewaysvc

import (
	"context"

	"github.com/ismaiel54/table-order-gateway/internal/order"
	"github.com/ismaiel54/table-order-gateway/internal/portfolio"
	"google.golang.org/grpc"
)

const serviceName = "tablegw.v1.GatewayService"

// SubmitRequest places a new order
type SubmitRequest struct {
	Account   string `json:"account"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Qty       int64  `json:"qty"`
	Price     string `json:"price"`
	PriceType string `json:"price_type,omitempty"`
}

// CancelRequest cancels a resting order by client id
type CancelRequest struct {
	Account  string `json:"account"`
	ClientID int64  `json:"client_id"`
}

// OrderReply carries one order. For Cancel it is the target order, whose
// CancelClientID names the cancel instruction.
type OrderReply struct {
	Order order.Order `json:"order"`
}

// AccountRequest selects an account; empty selects all
type AccountRequest struct {
	Account string `json:"account"`
}

// AccountReply carries account snapshots
type AccountReply struct {
	Accounts []portfolio.Account `json:"accounts"`
}

// PositionsReply carries position snapshots
type PositionsReply struct {
	Positions []portfolio.Position `json:"positions"`
}

// OrdersRequest filters the order listing; a client id selects one order
type OrdersRequest struct {
	Account        string `json:"account"`
	ClientID       int64  `json:"client_id,omitempty"`
	CancelableOnly bool   `json:"cancelable_only,omitempty"`
}

// OrdersReply carries order snapshots
type OrdersReply struct {
	Orders []order.Order `json:"orders"`
}

// GatewayServer is the server API of the gateway service
type GatewayServer interface {
	Submit(context.Context, *SubmitRequest) (*OrderReply, error)
	Cancel(context.Context, *CancelRequest) (*OrderReply, error)
	GetAccount(context.Context, *AccountRequest) (*AccountReply, error)
	ListPositions(context.Context, *AccountRequest) (*PositionsReply, error)
	ListOrders(context.Context, *OrdersRequest) (*OrdersReply, error)
}

// RegisterGatewayServer registers srv with s
func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler("Submit", GatewayServer.Submit)},
		{MethodName: "Cancel", Handler: unaryHandler("Cancel", GatewayServer.Cancel)},
		{MethodName: "GetAccount", Handler: unaryHandler("GetAccount", GatewayServer.GetAccount)},
		{MethodName: "ListPositions", Handler: unaryHandler("ListPositions", GatewayServer.ListPositions)},
		{MethodName: "ListOrders", Handler: unaryHandler("ListOrders", GatewayServer.ListOrders)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tablegw/v1/gateway",
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

func unaryHandler[Req, Resp any](method string, call func(GatewayServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GatewayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GatewayServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
