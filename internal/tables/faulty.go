package tables

import (
	"context"
	"errors"

	"github.com/ismaiel54/table-order-gateway/internal/chaos"
	"github.com/ismaiel54/table-order-gateway/internal/domain"
)

// Resource names used as chaos targets
const (
	TargetFills        = "fills"
	TargetInstructions = "instructions"
	TargetAccounts     = "accounts"
)

var errInjected = errors.New("injected table failure")

// FaultyFillLog wraps a FillLog with chaos delays and transient failures
type FaultyFillLog struct {
	FillLog
	chaos *chaos.Chaos
}

// NewFaultyFillLog wraps inner; a nil chaos passes every call through
func NewFaultyFillLog(inner FillLog, c *chaos.Chaos) *FaultyFillLog {
	return &FaultyFillLog{FillLog: inner, chaos: c}
}

// CountFills implements FillLog
func (f *FaultyFillLog) CountFills(ctx context.Context) (int64, error) {
	if err := f.inject(ctx, "count"); err != nil {
		return 0, err
	}
	return f.FillLog.CountFills(ctx)
}

// ReadFills implements FillLog
func (f *FaultyFillLog) ReadFills(ctx context.Context, from, to int64) ([]domain.FillRecord, error) {
	if err := f.inject(ctx, "read"); err != nil {
		return nil, err
	}
	return f.FillLog.ReadFills(ctx, from, to)
}

func (f *FaultyFillLog) inject(ctx context.Context, op string) error {
	if err := f.chaos.MaybeDelay(ctx, TargetFills, op); err != nil {
		return domain.Transient(op+" fills", err)
	}
	if f.chaos.MaybeDrop(TargetFills, op) {
		return domain.Transient(op+" fills", errInjected)
	}
	return nil
}

// FaultyAccountTable wraps an AccountTable with chaos failures
type FaultyAccountTable struct {
	AccountTable
	chaos *chaos.Chaos
}

// NewFaultyAccountTable wraps inner; a nil chaos passes every call through
func NewFaultyAccountTable(inner AccountTable, c *chaos.Chaos) *FaultyAccountTable {
	return &FaultyAccountTable{AccountTable: inner, chaos: c}
}

// LoadAccounts implements AccountTable
func (f *FaultyAccountTable) LoadAccounts(ctx context.Context) ([]domain.AccountRow, error) {
	if err := f.chaos.MaybeDelay(ctx, TargetAccounts, "load"); err != nil {
		return nil, domain.Transient("load accounts", err)
	}
	if f.chaos.MaybeDrop(TargetAccounts, "load") {
		return nil, domain.Transient("load accounts", errInjected)
	}
	return f.AccountTable.LoadAccounts(ctx)
}
