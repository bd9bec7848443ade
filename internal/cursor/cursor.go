package cursor

import (
	"context"
	"fmt"

	"github.com/ismaiel54/table-order-gateway/internal/bus"
	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"go.uber.org/zap"
)

const defaultBatchSize = 500

// Source is the append-only fill log read by offset
type Source interface {
	CountFills(ctx context.Context) (int64, error)
	ReadFills(ctx context.Context, from, to int64) ([]domain.FillRecord, error)
}

// ApplyFunc applies one row. A transient error stops the scan before the
// row is consumed; any other error is logged and the row is consumed.
type ApplyFunc func(ctx context.Context, row domain.FillRecord, quiet bool) error

// BatchUpdate is the payload of the trade batch event
type BatchUpdate struct {
	From    int64 `json:"from"`
	To      int64 `json:"to"`
	Applied int   `json:"applied"`
	Failed  int   `json:"failed"`
}

// Cursor tracks how many fill rows have been consumed
type Cursor struct {
	src       Source
	pub       bus.Publisher
	logger    *zap.Logger
	offset    int64
	batchSize int64
}

// New creates a cursor positioned at the start of the log
func New(src Source, pub bus.Publisher, logger *zap.Logger) *Cursor {
	return &Cursor{
		src:       src,
		pub:       pub,
		logger:    logger,
		batchSize: defaultBatchSize,
	}
}

// Offset returns the number of rows consumed so far
func (c *Cursor) Offset() int64 {
	return c.offset
}

// Scan applies every row beyond the offset exactly once. A read failure
// skips the cycle and is returned so the caller can report it. Unless
// quiet, one BatchUpdate is published when at least one row was consumed.
func (c *Cursor) Scan(ctx context.Context, apply ApplyFunc, quiet bool) (int, error) {
	total, err := c.src.CountFills(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count fills: %w", err)
	}
	if total < c.offset {
		return 0, fmt.Errorf("fill log shrank from %d to %d rows: %w", c.offset, total, domain.ErrTransientIO)
	}

	start := c.offset
	update := BatchUpdate{From: start}
	defer func() {
		update.To = c.offset
		if !quiet && update.To > update.From {
			c.pub.Publish(bus.TopicTradeBatch, update)
		}
	}()

	for c.offset < total {
		end := min(c.offset+c.batchSize, total)
		rows, err := c.src.ReadFills(ctx, c.offset, end)
		if err != nil {
			return update.Applied + update.Failed, fmt.Errorf("failed to read fills [%d,%d): %w", c.offset, end, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return update.Applied + update.Failed, err
			}
			if err := apply(ctx, row, quiet); err != nil {
				if domain.IsTransient(err) {
					return update.Applied + update.Failed, fmt.Errorf("fill row %d: %w", c.offset, err)
				}
				c.logger.Warn("fill row not applied",
					zap.Int64("offset", c.offset),
					zap.String("client_id", row.ClientID),
					zap.String("ord_no", row.OrderNo),
					zap.Error(err),
				)
				update.Failed++
			} else {
				update.Applied++
			}
			c.offset++
		}
	}

	if n := c.offset - start; n > 0 {
		c.logger.Debug("fill scan complete",
			zap.Int64("from", start),
			zap.Int64("to", c.offset),
			zap.Bool("quiet", quiet),
		)
	}
	return update.Applied + update.Failed, nil
}
