package tables

import (
	"context"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
)

// InstructionLog is the append-only order instruction table written by the gateway
type InstructionLog interface {
	AppendInstruction(ctx context.Context, ins domain.Instruction) error
	CountInstructions(ctx context.Context) (int64, error)
	ReadInstructions(ctx context.Context, from, to int64) ([]domain.Instruction, error)
}

// FillLog is the append-only fill/ack table written by the terminal.
// Rows are addressed by their zero-based position in append order.
type FillLog interface {
	CountFills(ctx context.Context) (int64, error)
	ReadFills(ctx context.Context, from, to int64) ([]domain.FillRecord, error)
}

// AccountTable is the account/position snapshot table written by the terminal
type AccountTable interface {
	LoadAccounts(ctx context.Context) ([]domain.AccountRow, error)
}
