package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/bus"
	"github.com/ismaiel54/table-order-gateway/internal/cursor"
	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/gateway"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"github.com/ismaiel54/table-order-gateway/internal/portfolio"
	"github.com/ismaiel54/table-order-gateway/internal/tables"
	"go.uber.org/zap"
)

// Tables are the external tables the engine reads and writes
type Tables struct {
	Instructions tables.InstructionLog
	Fills        tables.FillLog
	Accounts     tables.AccountTable
}

// Options tune the engine loop
type Options struct {
	ScanInterval    time.Duration
	SnapshotRefresh time.Duration
	// PublishEvery emits account and position events every n timer ticks
	PublishEvery int
	QueueSize    int
	AccountType  string
	ClientIDBase int64
	Classifier   portfolio.Classifier
}

func (o *Options) setDefaults() {
	if o.ScanInterval <= 0 {
		o.ScanInterval = time.Second
	}
	if o.PublishEvery <= 0 {
		o.PublishEvery = 5
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.AccountType == "" {
		o.AccountType = "S0"
	}
	if o.ClientIDBase <= 0 {
		o.ClientIDBase = gateway.DefaultClientIDBase
	}
	if o.Classifier == nil {
		o.Classifier = portfolio.NewPrefixClassifier()
	}
}

// Engine owns the order and portfolio ledgers. Every table access and every
// ledger mutation happens on its single loop; other goroutines talk to it
// through Do.
type Engine struct {
	tbl    Tables
	pub    bus.Publisher
	logger *zap.Logger
	opts   Options

	orders *order.Ledger
	book   *portfolio.Ledger
	gw     *gateway.Gateway
	cur    *cursor.Cursor

	reqs  chan envelope
	ticks atomic.Int64
	ready atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	started bool
}

// New creates an engine; Start performs recovery and launches the loop
func New(tbl Tables, pub bus.Publisher, opts Options, logger *zap.Logger) *Engine {
	opts.setDefaults()

	orders := order.NewLedger()
	book := portfolio.NewLedger(opts.Classifier, logger)

	return &Engine{
		tbl:    tbl,
		pub:    pub,
		logger: logger,
		opts:   opts,
		orders: orders,
		book:   book,
		gw:     gateway.New(tbl.Instructions, orders, book, opts.AccountType, opts.ClientIDBase, logger),
		cur:    cursor.New(tbl.Fills, pub, logger),
		reqs:   make(chan envelope, opts.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start recovers ledger state from the tables and launches the loop. It
// returns once recovery has finished.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine cannot be restarted: %w", domain.ErrEngineStopped)
	}
	e.started = true
	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	readyCh := make(chan error, 1)
	go e.run(loopCtx, readyCh)

	select {
	case err := <-readyCh:
		if err != nil {
			e.Stop()
		}
		return err
	case <-ctx.Done():
		e.Stop()
		return ctx.Err()
	}
}

// Stop cancels the loop and waits for it to exit
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	e.mu.Unlock()

	<-e.done
	e.ready.Store(false)
	e.logger.Info("engine stopped")
}

// Ready reports whether recovery finished and the loop is serving
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Do sends req to the loop and waits for its response
func (e *Engine) Do(ctx context.Context, req Request) (Response, error) {
	env := envelope{req: req, reply: make(chan Response, 1)}

	select {
	case e.reqs <- env:
	case <-e.done:
		return Response{}, domain.ErrEngineStopped
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-env.reply:
		return resp, resp.Err
	case <-e.done:
		return Response{}, domain.ErrEngineStopped
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// HandleTimer is subscribed to the bus timer topic and schedules account
// publication every PublishEvery ticks without blocking the dispatch loop
func (e *Engine) HandleTimer(bus.Event) {
	if e.ticks.Add(1)%int64(e.opts.PublishEvery) != 0 || !e.Ready() {
		return
	}
	select {
	case e.reqs <- envelope{req: publishRequest{}, reply: make(chan Response, 1)}:
	default:
	}
}

func (e *Engine) run(ctx context.Context, readyCh chan<- error) {
	defer close(e.done)

	if err := e.recover(ctx); err != nil {
		readyCh <- err
		return
	}
	e.ready.Store(true)
	readyCh <- nil

	scan := time.NewTicker(e.opts.ScanInterval)
	defer scan.Stop()

	var refresh <-chan time.Time
	if e.opts.SnapshotRefresh > 0 {
		t := time.NewTicker(e.opts.SnapshotRefresh)
		defer t.Stop()
		refresh = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-e.reqs:
			env.reply <- e.handle(ctx, env.req)
		case <-scan.C:
			e.scan(ctx)
		case <-refresh:
			if err := e.refreshSnapshot(ctx); err != nil {
				e.report("scheduled snapshot refresh failed", err)
			}
		}
	}
}

func (e *Engine) handle(ctx context.Context, req Request) Response {
	switch r := req.(type) {
	case SubmitRequest:
		o, err := e.gw.Submit(ctx, r.Params)
		if err != nil {
			e.report("submit failed", err)
			return Response{Err: err}
		}
		e.pub.Publish(bus.TopicOrder, o)
		return Response{Order: o}

	case CancelRequest:
		o, err := e.gw.Cancel(ctx, r.Account, r.ClientID)
		if err != nil {
			e.report("cancel failed", err, zap.Int64("client_id", r.ClientID))
			return Response{Err: err}
		}
		e.pub.Publish(bus.TopicOrder, o)
		return Response{Order: o}

	case QueryAccountRequest:
		if r.Account == "" {
			return Response{Accounts: e.book.Accounts()}
		}
		a, ok := e.book.Account(r.Account)
		if !ok {
			return Response{Err: fmt.Errorf("account %q: %w", r.Account, domain.ErrUnknownAccount)}
		}
		return Response{Accounts: []portfolio.Account{a}}

	case QueryPositionsRequest:
		return Response{Positions: e.book.Positions(r.Account)}

	case QueryOrdersRequest:
		if r.ClientID != 0 {
			o, ok := e.orders.Get(r.ClientID)
			if !ok {
				return Response{Err: fmt.Errorf("client_id=%d: %w", r.ClientID, domain.ErrUnknownOrder)}
			}
			return Response{Order: o, Orders: []order.Order{o}}
		}
		return Response{Orders: e.orders.Snapshot(func(o order.Order) bool {
			return (r.Account == "" || o.Account == r.Account) && (!r.CancelableOnly || o.Cancelable)
		})}

	case RefreshSnapshotRequest:
		return Response{Err: e.refreshSnapshot(ctx)}

	case ScanRequest:
		n, err := e.scan(ctx)
		return Response{Count: n, Err: err}

	case PriceUpdateRequest:
		marked := 0
		for _, q := range r.Quotes {
			marked += e.book.ApplyMarketPrice(q.Symbol, q.Name, q.Last)
		}
		return Response{Count: marked}

	case publishRequest:
		e.publishAccounts()
		return Response{}

	default:
		return Response{Err: fmt.Errorf("unsupported request %T: %w", req, domain.ErrInvalidRequest)}
	}
}

// recover loads the snapshot, rebuilds orders from the instruction log and
// replays the fill log quietly. The snapshot already reflects every replayed
// fill so the replay only advances order state; reservations of orders still
// working are then adopted without touching cash.
func (e *Engine) recover(ctx context.Context) error {
	rows, err := retry(ctx, e, "load account snapshot", func() ([]domain.AccountRow, error) {
		return e.tbl.Accounts.LoadAccounts(ctx)
	})
	if err != nil {
		return err
	}
	for _, w := range e.book.LoadSnapshot(rows) {
		e.report("snapshot warning", w)
	}

	instructions, err := retry(ctx, e, "read instruction log", func() ([]domain.Instruction, error) {
		n, err := e.tbl.Instructions.CountInstructions(ctx)
		if err != nil {
			return nil, err
		}
		return e.tbl.Instructions.ReadInstructions(ctx, 0, n)
	})
	if err != nil {
		return err
	}
	for _, ins := range instructions {
		if ins.Malformed != "" {
			e.report("instruction recovered without price",
				fmt.Errorf("client_id=%d %s: %w", ins.ClientID, ins.Malformed, domain.ErrMalformedRow))
		}
	}
	e.orders.Recover(instructions)
	e.gw.Init(int64(len(instructions)))

	if _, err := retry(ctx, e, "replay fill log", func() (int, error) {
		return e.cur.Scan(ctx, e.apply, true)
	}); err != nil {
		return err
	}

	e.orders.MarkPendingCancels()
	working := e.orders.Working()
	for _, o := range working {
		e.book.Adopt(o)
	}

	e.logger.Info("ledger recovered",
		zap.Int("instructions", len(instructions)),
		zap.Int64("fills_replayed", e.cur.Offset()),
		zap.Int("working_orders", len(working)),
		zap.Int("accounts", len(e.book.Accounts())),
		zap.Int64("next_client_id", e.gw.NextClientID()),
	)
	e.publishAccounts()
	return nil
}

// retry repeats a transient failure once per scan interval until ctx ends
func retry[T any](ctx context.Context, e *Engine, op string, fn func() (T, error)) (T, error) {
	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !domain.IsTransient(err) {
			return v, fmt.Errorf("failed to %s: %w", op, err)
		}
		e.report("retrying "+op, err, zap.Int("attempt", attempt))

		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(e.opts.ScanInterval):
		}
	}
}

// scan applies new fill rows; read failures are reported and retried next cycle
func (e *Engine) scan(ctx context.Context) (int, error) {
	n, err := e.cur.Scan(ctx, e.apply, false)
	if err != nil {
		e.report("fill scan skipped", err, zap.Int64("offset", e.cur.Offset()))
	}
	if n > 0 {
		e.publishAccounts()
	}
	return n, err
}

// apply is the cursor callback. In quiet mode only order state changes.
func (e *Engine) apply(ctx context.Context, row domain.FillRecord, quiet bool) error {
	transitions, err := e.orders.Apply(row)
	if err != nil {
		if !quiet {
			e.publishLog("warn", "fill row skipped", err)
		}
		return err
	}

	for _, tr := range transitions {
		if quiet {
			continue
		}

		switch tr.Delta.Outcome {
		case order.OutcomeFill:
			e.book.ApplyFill(tr.Order, tr.Delta)
			e.pub.Publish(bus.TopicTrade, newTrade(tr.Order, tr.Delta))
		case order.OutcomeRejected:
			e.book.Release(tr.Order.ClientID)
			e.report("order rejected", fmt.Errorf("client_id=%d: %s: %w", tr.Order.ClientID, tr.Order.ErrMsg, domain.ErrOrderRejected))
		case order.OutcomeCancelled:
			e.book.Release(tr.Order.ClientID)
		case order.OutcomeNone:
			continue
		}
		e.pub.Publish(bus.TopicOrder, tr.Order)
	}
	return nil
}

// refreshSnapshot applies pending fills first so the reloaded snapshot is
// not followed by rows it already reflects
func (e *Engine) refreshSnapshot(ctx context.Context) error {
	if _, err := e.scan(ctx); err != nil {
		return err
	}
	rows, err := e.tbl.Accounts.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load account snapshot: %w", err)
	}
	for _, w := range e.book.LoadSnapshot(rows) {
		e.report("snapshot warning", w)
	}
	for _, o := range e.orders.Working() {
		e.book.Adopt(o)
	}
	e.publishAccounts()
	return nil
}

func (e *Engine) publishAccounts() {
	for _, a := range e.book.Accounts() {
		e.pub.Publish(bus.TopicAccount, a)
	}
	for _, p := range e.book.Positions("") {
		e.pub.Publish(bus.TopicPosition, p)
	}
}

// report logs err and publishes it on the log topic
func (e *Engine) report(msg string, err error, fields ...zap.Field) {
	level := "error"
	if domain.IsTransient(err) || errors.Is(err, domain.ErrInconsistentSnapshot) || errors.Is(err, domain.ErrMalformedRow) {
		level = "warn"
		e.logger.Warn(msg, append(fields, zap.Error(err))...)
	} else {
		e.logger.Error(msg, append(fields, zap.Error(err))...)
	}
	e.publishLog(level, msg, err)
}

func (e *Engine) publishLog(level, msg string, err error) {
	m := bus.LogMessage{Level: level, Message: msg, Time: time.Now()}
	if err != nil {
		m.Error = err.Error()
	}
	e.pub.Publish(bus.TopicLog, m)
}
