package portfolio

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Position is one symbol held by an account.
// total = closeable + locked + today_bought, the last term only when not T0.
type Position struct {
	Account     string          `json:"account"`
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	T0          bool            `json:"t0"`
	LastPrice   decimal.Decimal `json:"last_price"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	Total       int64           `json:"total"`
	Closeable   int64           `json:"closeable"`
	TodayBought int64           `json:"today_bought"`
	Locked      int64           `json:"locked"`
}

// MarketValue is last price times total quantity
func (p Position) MarketValue() decimal.Decimal {
	return p.LastPrice.Mul(decimal.NewFromInt(p.Total))
}

// Check verifies the quantity invariant
func (p Position) Check() error {
	if p.Closeable < 0 || p.Locked < 0 || p.TodayBought < 0 {
		return fmt.Errorf("%s/%s: negative bucket closeable=%d locked=%d today=%d",
			p.Account, p.Symbol, p.Closeable, p.Locked, p.TodayBought)
	}
	sum := p.Closeable + p.Locked
	if !p.T0 {
		sum += p.TodayBought
	}
	if sum != p.Total {
		return fmt.Errorf("%s/%s: total=%d but buckets sum to %d", p.Account, p.Symbol, p.Total, sum)
	}
	return nil
}

// buy adds filled shares. T0 shares are sellable immediately.
func (p *Position) buy(qty int64, notional decimal.Decimal) {
	cost := p.AvgCost.Mul(decimal.NewFromInt(p.Total)).Add(notional)
	p.Total += qty
	p.TodayBought += qty
	if p.T0 {
		p.Closeable += qty
	}
	if p.Total > 0 {
		p.AvgCost = cost.Div(decimal.NewFromInt(p.Total))
	}
	if p.LastPrice.IsZero() && qty > 0 {
		p.LastPrice = notional.Div(decimal.NewFromInt(qty))
	}
}

// lock moves qty from closeable to locked
func (p *Position) lock(qty int64) {
	p.Closeable -= qty
	p.Locked += qty
}

// unlock moves up to qty back from locked to closeable and returns the amount moved
func (p *Position) unlock(qty int64) int64 {
	n := min(qty, p.Locked)
	if n < 0 {
		n = 0
	}
	p.Locked -= n
	p.Closeable += n
	return n
}

// adoptLock accounts for a pending sell found at recovery. Snapshot
// closeable is already net of it, so the shares come out of the gap.
func (p *Position) adoptLock(qty int64) int64 {
	if p.T0 {
		// the snapshot gap of a T0 symbol is already held as locked
		return min(qty, p.Locked)
	}
	n := min(qty, p.TodayBought)
	p.TodayBought -= n
	p.Locked += n
	return n
}

// deduct removes sold shares, lockedShare of them from the locked bucket.
// Any shortfall falls through to the other buckets and the unmatched
// remainder is returned.
func (p *Position) deduct(qty, lockedShare int64) int64 {
	rest := qty

	n := min(lockedShare, p.Locked, rest)
	p.Locked -= n
	rest -= n

	n = min(rest, p.Closeable)
	p.Closeable -= n
	rest -= n

	n = min(rest, p.Locked)
	p.Locked -= n
	rest -= n

	if !p.T0 {
		n = min(rest, p.TodayBought)
		p.TodayBought -= n
		rest -= n
	}

	p.Total -= qty - rest
	return rest
}

// Classifier decides whether same-day purchases of a symbol are sellable
type Classifier interface {
	IsT0(symbol string) bool
}

// PrefixClassifier marks symbols starting with any of its prefixes as T0
type PrefixClassifier struct {
	prefixes []string
}

// NewPrefixClassifier creates a classifier; empty prefixes are ignored
func NewPrefixClassifier(prefixes ...string) PrefixClassifier {
	var keep []string
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			keep = append(keep, p)
		}
	}
	return PrefixClassifier{prefixes: keep}
}

// IsT0 implements Classifier
func (c PrefixClassifier) IsT0(symbol string) bool {
	for _, p := range c.prefixes {
		if strings.HasPrefix(symbol, p) {
			return true
		}
	}
	return false
}
