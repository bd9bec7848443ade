package portfolio

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Portfolio is the cash and holdings of one account
type Portfolio struct {
	Account   string
	Cash      decimal.Decimal
	positions map[string]*Position
}

// Account is a read-only view of a portfolio
type Account struct {
	Account     string          `json:"account"`
	Cash        decimal.Decimal `json:"available_cash"`
	MarketValue decimal.Decimal `json:"market_value"`
	Equity      decimal.Decimal `json:"total_equity"`
}

// Reservation is the cash or shares held against one resting order
type Reservation struct {
	ClientID int64
	Account  string
	Symbol   string
	Side     domain.Side
	Cash     decimal.Decimal
	Qty      int64
}

// Ledger aggregates cash and positions per account from order transitions.
// It is owned by a single goroutine and is not safe for concurrent use.
type Ledger struct {
	logger       *zap.Logger
	classifier   Classifier
	portfolios   map[string]*Portfolio
	reservations map[int64]*Reservation
	loaded       bool
}

// NewLedger creates an empty ledger
func NewLedger(classifier Classifier, logger *zap.Logger) *Ledger {
	return &Ledger{
		logger:       logger,
		classifier:   classifier,
		portfolios:   make(map[string]*Portfolio),
		reservations: make(map[int64]*Reservation),
	}
}

func (l *Ledger) portfolio(account string) *Portfolio {
	p, ok := l.portfolios[account]
	if !ok {
		p = &Portfolio{
			Account:   account,
			Cash:      decimal.Zero,
			positions: make(map[string]*Position),
		}
		l.portfolios[account] = p
	}
	return p
}

func (l *Ledger) position(account, symbol string) *Position {
	p := l.portfolio(account)
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &Position{
			Account:   account,
			Symbol:    symbol,
			T0:        l.classifier.IsT0(symbol),
			LastPrice: decimal.Zero,
			AvgCost:   decimal.Zero,
		}
		p.positions[symbol] = pos
	}
	return pos
}

// LoadSnapshot overwrites cash and positions from the account table.
// Positions missing from the snapshot are kept as zero rows and all
// reservations are dropped. On a reload, holdings of symbols the ledger has
// never seen are accepted and reported as ErrInconsistentSnapshot warnings.
// Rows with an unparsable price are dropped and reported as ErrMalformedRow.
func (l *Ledger) LoadSnapshot(rows []domain.AccountRow) []error {
	var warnings []error

	known := make(map[string]bool)
	for acct, p := range l.portfolios {
		p.Cash = decimal.Zero
		for sym, pos := range p.positions {
			known[acct+"/"+sym] = true
			*pos = Position{
				Account:   pos.Account,
				Symbol:    pos.Symbol,
				Name:      pos.Name,
				T0:        pos.T0,
				LastPrice: pos.LastPrice,
				AvgCost:   decimal.Zero,
			}
		}
	}
	l.reservations = make(map[int64]*Reservation)

	for _, row := range rows {
		acct := strings.TrimSpace(row.Account)
		if row.Malformed != "" {
			warnings = append(warnings, fmt.Errorf("account=%s symbol=%s dropped, %s: %w",
				acct, strings.TrimSpace(row.Symbol), row.Malformed, domain.ErrMalformedRow))
			continue
		}
		if row.IsCash() {
			l.portfolio(acct).Cash = row.Price
			continue
		}

		sym := strings.TrimSpace(row.Symbol)
		if sym == "" {
			continue
		}
		if l.loaded && !known[acct+"/"+sym] {
			warnings = append(warnings, fmt.Errorf("account=%s symbol=%s: %w", acct, sym, domain.ErrInconsistentSnapshot))
		}

		pos := l.position(acct, sym)
		if row.Name != "" {
			pos.Name = row.Name
		}
		pos.AvgCost = row.Price
		if !row.LastPrice.IsZero() {
			pos.LastPrice = row.LastPrice
		} else if pos.LastPrice.IsZero() {
			pos.LastPrice = row.Price
		}

		total := max(row.Qty, 0)
		closeable := min(max(row.Closeable, 0), total)
		pos.Total = total
		pos.Closeable = closeable
		if pos.T0 {
			pos.Locked = total - closeable
		} else {
			pos.TodayBought = total - closeable
		}
	}

	l.loaded = true
	return warnings
}

// Reserve escrows cash for a buy or moves shares to locked for a sell
func (l *Ledger) Reserve(o order.Order) error {
	if _, ok := l.reservations[o.ClientID]; ok {
		return fmt.Errorf("client_id=%d already has a reservation: %w", o.ClientID, domain.ErrInvalidRequest)
	}

	res := &Reservation{
		ClientID: o.ClientID,
		Account:  o.Account,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Cash:     decimal.Zero,
	}

	switch o.Side {
	case domain.SideBuy:
		amount := o.Price.Mul(decimal.NewFromInt(o.Qty))
		p := l.portfolio(o.Account)
		if p.Cash.LessThan(amount) {
			return &domain.InsufficientBalanceError{
				Account: o.Account, Asset: "cash", Required: amount, Available: p.Cash,
			}
		}
		p.Cash = p.Cash.Sub(amount)
		res.Cash = amount
	case domain.SideSell:
		pos := l.position(o.Account, o.Symbol)
		if pos.Closeable < o.Qty {
			return &domain.InsufficientBalanceError{
				Account:   o.Account,
				Asset:     o.Symbol,
				Required:  decimal.NewFromInt(o.Qty),
				Available: decimal.NewFromInt(pos.Closeable),
			}
		}
		pos.lock(o.Qty)
		res.Qty = o.Qty
	default:
		return nil
	}

	l.reservations[o.ClientID] = res
	return nil
}

// Release returns whatever is still reserved for the order to available cash
// or closeable shares. Releasing twice is a no-op.
func (l *Ledger) Release(clientID int64) Reservation {
	res, ok := l.reservations[clientID]
	if !ok {
		return Reservation{ClientID: clientID, Cash: decimal.Zero}
	}
	delete(l.reservations, clientID)

	released := *res
	switch res.Side {
	case domain.SideBuy:
		p := l.portfolio(res.Account)
		p.Cash = p.Cash.Add(res.Cash)
	case domain.SideSell:
		released.Qty = l.position(res.Account, res.Symbol).unlock(res.Qty)
	}
	return released
}

// ApplyFill applies the cash and share effect of a fill delta
func (l *Ledger) ApplyFill(o order.Order, d order.Delta) {
	if d.Qty <= 0 || !o.Side.IsTrade() {
		return
	}

	p := l.portfolio(o.Account)
	pos := l.position(o.Account, o.Symbol)
	res := l.reservations[o.ClientID]

	switch o.Side {
	case domain.SideBuy:
		pos.buy(d.Qty, d.Notional)
		due := d.Notional
		if res != nil {
			take := decimal.Min(res.Cash, due)
			res.Cash = res.Cash.Sub(take)
			due = due.Sub(take)
		}
		p.Cash = p.Cash.Sub(due)
	case domain.SideSell:
		var lockedShare int64
		if res != nil {
			lockedShare = min(res.Qty, d.Qty)
			res.Qty -= lockedShare
		}
		if rest := pos.deduct(d.Qty, lockedShare); rest > 0 {
			l.logger.Warn("sell fill exceeds held quantity",
				zap.String("account", o.Account),
				zap.String("symbol", o.Symbol),
				zap.Int64("client_id", o.ClientID),
				zap.Int64("unmatched", rest),
			)
		}
		p.Cash = p.Cash.Add(d.Notional)
	}

	if d.Completed {
		l.Release(o.ClientID)
	}
}

// Adopt registers the reservation of an order still working after recovery.
// The snapshot already reflects it so available cash is not touched.
func (l *Ledger) Adopt(o order.Order) {
	if _, ok := l.reservations[o.ClientID]; ok {
		return
	}
	remaining := o.Remaining()
	res := &Reservation{
		ClientID: o.ClientID,
		Account:  o.Account,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Cash:     decimal.Zero,
	}
	switch o.Side {
	case domain.SideBuy:
		res.Cash = o.Price.Mul(decimal.NewFromInt(remaining))
	case domain.SideSell:
		res.Qty = l.position(o.Account, o.Symbol).adoptLock(remaining)
	default:
		return
	}
	l.reservations[o.ClientID] = res
}

// ApplyMarketPrice marks every holding of symbol at price
func (l *Ledger) ApplyMarketPrice(symbol, name string, price decimal.Decimal) int {
	if !price.IsPositive() {
		return 0
	}
	n := 0
	for _, p := range l.portfolios {
		if pos, ok := p.positions[symbol]; ok {
			pos.LastPrice = price
			if pos.Name == "" && name != "" {
				pos.Name = name
			}
			n++
		}
	}
	return n
}

// TotalEquity is available cash plus the market value of every position
func (l *Ledger) TotalEquity(account string) decimal.Decimal {
	p, ok := l.portfolios[account]
	if !ok {
		return decimal.Zero
	}
	return p.Cash.Add(p.marketValue())
}

func (p *Portfolio) marketValue() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.positions {
		total = total.Add(pos.MarketValue())
	}
	return total
}

// Account returns a view of one account
func (l *Ledger) Account(account string) (Account, bool) {
	p, ok := l.portfolios[account]
	if !ok {
		return Account{}, false
	}
	mv := p.marketValue()
	return Account{
		Account:     p.Account,
		Cash:        p.Cash,
		MarketValue: mv,
		Equity:      p.Cash.Add(mv),
	}, true
}

// Accounts returns views of every account sorted by id
func (l *Ledger) Accounts() []Account {
	out := make([]Account, 0, len(l.portfolios))
	for acct := range l.portfolios {
		a, _ := l.Account(acct)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Positions returns copies of the positions of account, or of every
// account when account is empty, sorted by account then symbol
func (l *Ledger) Positions(account string) []Position {
	var out []Position
	for acct, p := range l.portfolios {
		if account != "" && acct != account {
			continue
		}
		for _, pos := range p.positions {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Position returns a copy of one position
func (l *Ledger) Position(account, symbol string) (Position, bool) {
	p, ok := l.portfolios[account]
	if !ok {
		return Position{}, false
	}
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Reservation returns a copy of the reservation held for an order
func (l *Ledger) Reservation(clientID int64) (Reservation, bool) {
	res, ok := l.reservations[clientID]
	if !ok {
		return Reservation{}, false
	}
	return *res, true
}

// Symbols returns every symbol held by any account
func (l *Ledger) Symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range l.portfolios {
		for sym := range p.positions {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Check verifies the quantity invariant of every position
func (l *Ledger) Check() error {
	for _, pos := range l.Positions("") {
		if err := pos.Check(); err != nil {
			return err
		}
	}
	return nil
}
