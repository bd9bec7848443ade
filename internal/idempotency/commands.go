package idempotency

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/gateway"
	"github.com/ismaiel54/table-order-gateway/internal/msg"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"go.uber.org/zap"
)

// CommandEngine is the write side of the engine
type CommandEngine interface {
	Submit(ctx context.Context, p gateway.SubmitParams) (order.Order, error)
	Cancel(ctx context.Context, account string, clientID int64) (order.Order, error)
}

// CommandHandler applies Kafka order commands exactly once per command id
type CommandHandler struct {
	store  *Store
	engine CommandEngine
	logger *zap.Logger
}

// NewCommandHandler creates a handler for the commands topic
func NewCommandHandler(store *Store, engine CommandEngine, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{store: store, engine: engine, logger: logger}
}

// Handle is the consumer callback. Malformed commands are logged and
// committed; only store failures are returned for retry.
func (h *CommandHandler) Handle(ctx context.Context, rec msg.Record) error {
	var cmd msg.CommandMsg
	if err := json.Unmarshal(rec.Value, &cmd); err != nil {
		h.logger.Warn("dropping undecodable command",
			zap.String("key", rec.Key),
			zap.Int64("offset", rec.Offset),
			zap.Error(err),
		)
		return nil
	}

	res, err := h.store.ProcessCommand(ctx, cmd, h.execute)
	if err != nil {
		return err
	}
	if res.Duplicate {
		h.logger.Info("duplicate command ignored",
			zap.String("command_id", cmd.CommandID),
			zap.String("status", res.Status),
		)
		return nil
	}
	h.logger.Info("command processed",
		zap.String("command_id", cmd.CommandID),
		zap.String("kind", cmd.Kind),
		zap.String("status", res.Status),
		zap.Int64("client_id", res.ClientID),
		zap.String("reason", res.Reason),
	)
	return nil
}

// execute rejects invalid commands permanently; an unavailable engine is
// returned as an error so the command is retried
func (h *CommandHandler) execute(ctx context.Context, cmd msg.CommandMsg) (msg.OrderEventMsg, error) {
	ev := msg.OrderEventMsg{Account: cmd.Account, Symbol: cmd.Symbol, Side: cmd.Side, Qty: cmd.Qty, ClientID: cmd.ClientID}
	if err := cmd.Validate(); err != nil {
		return rejected(ev, err), nil
	}

	var o order.Order
	var err error
	switch cmd.Kind {
	case msg.CommandSubmit:
		p, _ := cmd.SubmitParams()
		o, err = h.engine.Submit(ctx, p)
	case msg.CommandCancel:
		o, err = h.engine.Cancel(ctx, cmd.Account, cmd.ClientID)
	}
	if errors.Is(err, domain.ErrEngineStopped) || ctx.Err() != nil {
		return ev, err
	}
	if err != nil {
		return rejected(ev, err), nil
	}

	ev.ClientID = o.ClientID
	ev.CancelClientID = o.CancelClientID
	ev.OrderNo = o.OrderNo
	ev.Symbol = o.Symbol
	ev.Side = string(o.Side)
	ev.Qty = o.Qty
	ev.FilledQty = o.FilledQty
	ev.AvgPrice = o.AvgPrice.String()
	ev.State = msg.StatusAccepted
	return ev, nil
}

func rejected(ev msg.OrderEventMsg, err error) msg.OrderEventMsg {
	ev.State = msg.StatusRejected
	ev.Reason = err.Error()
	return ev
}
