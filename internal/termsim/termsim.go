package termsim

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/tables"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Table is what the simulator needs from the shared table store
type Table interface {
	tables.InstructionLog
	AppendFill(ctx context.Context, r domain.FillRecord) error
	PutAccountRow(ctx context.Context, r domain.AccountRow) error
}

// Options control how the simulated terminal answers instructions
type Options struct {
	// FillStep is the quantity filled per step; zero fills in one step
	FillStep int64
	// RejectSymbols are answered with an error row instead of an ack
	RejectSymbols []string
	// HoldSymbols are acknowledged but never filled, so they stay cancelable
	HoldSymbols []string
	Clock       func() time.Time
}

type working struct {
	ins    domain.Instruction
	ordNo  string
	filled int64
}

// Sim plays the trading terminal: it consumes the instruction log and
// appends cumulative ack and fill rows
type Sim struct {
	tbl    Table
	opts   Options
	logger *zap.Logger

	offset  int64
	nextNo  int64
	working map[string]*working
	reject  map[string]bool
	hold    map[string]bool
}

// New creates a simulator reading tbl from its first row
func New(tbl Table, opts Options, logger *zap.Logger) *Sim {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Sim{
		tbl:     tbl,
		opts:    opts,
		logger:  logger,
		working: make(map[string]*working),
		reject:  toSet(opts.RejectSymbols),
		hold:    toSet(opts.HoldSymbols),
	}
}

func toSet(symbols []string) map[string]bool {
	m := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s = strings.TrimSpace(s); s != "" {
			m[s] = true
		}
	}
	return m
}

// Offset is the number of instruction rows consumed so far
func (s *Sim) Offset() int64 {
	return s.offset
}

// Seed writes a cash row and optional holdings for account
func (s *Sim) Seed(ctx context.Context, account string, cash decimal.Decimal, holdings map[string]int64) error {
	if err := s.tbl.PutAccountRow(ctx, domain.AccountRow{
		Account:   account,
		AssetType: domain.AssetCash,
		Price:     cash,
	}); err != nil {
		return fmt.Errorf("seed cash: %w", err)
	}
	for symbol, qty := range holdings {
		if err := s.tbl.PutAccountRow(ctx, domain.AccountRow{
			Account:   account,
			AssetType: "S",
			Symbol:    symbol,
			Qty:       qty,
			Closeable: qty,
		}); err != nil {
			return fmt.Errorf("seed %s: %w", symbol, err)
		}
	}
	return nil
}

// Step answers every new instruction and advances each working order by
// one fill step. It returns the number of rows appended.
func (s *Sim) Step(ctx context.Context) (int, error) {
	total, err := s.tbl.CountInstructions(ctx)
	if err != nil {
		return 0, err
	}

	rows := 0
	if total > s.offset {
		batch, err := s.tbl.ReadInstructions(ctx, s.offset, total)
		if err != nil {
			return 0, err
		}
		for _, ins := range batch {
			n, err := s.answer(ctx, ins)
			rows += n
			if err != nil {
				return rows, err
			}
			s.offset++
		}
	}

	n, err := s.fillStep(ctx)
	return rows + n, err
}

func (s *Sim) answer(ctx context.Context, ins domain.Instruction) (int, error) {
	if ins.Kind == domain.KindCancel {
		return s.answerCancel(ctx, ins)
	}

	if s.reject[ins.Symbol] {
		return 1, s.emit(ctx, ins, "", 0, decimal.Zero, "symbol not tradable")
	}
	if ins.Malformed != "" || !ins.Price.IsPositive() {
		return 1, s.emit(ctx, ins, "", 0, decimal.Zero, "invalid order price")
	}

	s.nextNo++
	w := &working{ins: ins, ordNo: "SIM" + strconv.FormatInt(s.nextNo, 10)}
	if err := s.emit(ctx, ins, w.ordNo, 0, decimal.Zero, ""); err != nil {
		return 0, err
	}
	s.working[w.ordNo] = w
	s.logger.Debug("order acknowledged",
		zap.Int64("client_id", ins.ClientID),
		zap.String("ord_no", w.ordNo),
	)
	return 1, nil
}

func (s *Sim) answerCancel(ctx context.Context, ins domain.Instruction) (int, error) {
	w, ok := s.working[ins.OrderNo]
	if !ok || w.ins.Account != ins.Account {
		return 1, s.emit(ctx, ins, ins.OrderNo, 0, decimal.Zero, "order not cancelable")
	}
	delete(s.working, ins.OrderNo)
	s.logger.Debug("order cancelled",
		zap.Int64("client_id", w.ins.ClientID),
		zap.String("ord_no", w.ordNo),
		zap.Int64("filled", w.filled),
	)
	return 1, s.emit(ctx, ins, ins.OrderNo, 0, decimal.Zero, "")
}

func (s *Sim) fillStep(ctx context.Context) (int, error) {
	keys := make([]string, 0, len(s.working))
	for k, w := range s.working {
		if !s.hold[w.ins.Symbol] {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return s.working[keys[i]].ins.ClientID < s.working[keys[j]].ins.ClientID
	})

	rows := 0
	for _, k := range keys {
		w := s.working[k]
		step := w.ins.Qty - w.filled
		if s.opts.FillStep > 0 && step > s.opts.FillStep {
			step = s.opts.FillStep
		}
		if err := s.emit(ctx, w.ins, w.ordNo, w.filled+step, w.ins.Price, ""); err != nil {
			return rows, err
		}
		w.filled += step
		rows++
		if w.filled >= w.ins.Qty {
			delete(s.working, k)
		}
	}
	return rows, nil
}

func (s *Sim) emit(ctx context.Context, ins domain.Instruction, ordNo string, filled int64, avg decimal.Decimal, errMsg string) error {
	return s.tbl.AppendFill(ctx, domain.FillRecord{
		ClientID:  strconv.FormatInt(ins.ClientID, 10),
		OrderNo:   ordNo,
		Account:   ins.Account,
		Symbol:    ins.Symbol,
		Side:      ins.Side,
		FilledQty: filled,
		AvgPrice:  avg,
		ErrMsg:    errMsg,
		Time:      s.opts.Clock().Format("15:04:05"),
	})
}

// Run steps the simulator every interval until ctx is cancelled
func (s *Sim) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Step(ctx)
			if err != nil {
				s.logger.Warn("simulator step failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("simulator appended rows",
					zap.Int("rows", n),
					zap.Int64("instruction_offset", s.offset),
				)
			}
		}
	}
}
