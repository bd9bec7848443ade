package market

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	recordHeader  = "HEADER"
	recordTrailer = "TRAILER"
	recordQuote   = "MD"

	feedTimeLayout = "20060102-15:04:05"

	// type, symbol, name, volume, amount, preclose, open, high, low, last
	quoteFixedFields = 10
	levelFields      = 4
)

var (
	// ErrMissingHeader is returned when a feed does not start with a header line
	ErrMissingHeader = errors.New("market feed has no header")
	errBadQuoteLine  = errors.New("malformed quote line")
)

// Snapshot is one parsed market feed file
type Snapshot struct {
	Version     string
	Time        time.Time
	Session     string
	SessionOpen bool
	Quotes      map[string]domain.Quote
	// Skipped counts quote lines that could not be parsed
	Skipped int
}

// SessionIsOpen reports whether a session marker denotes trading hours
func SessionIsOpen(session string) bool {
	s := strings.TrimSpace(session)
	return strings.HasPrefix(s, "S") || strings.HasPrefix(s, "T")
}

// ParseFeed reads a pipe delimited market feed. Malformed quote lines are
// skipped and counted; a missing header fails the whole parse.
func ParseFeed(r io.Reader) (Snapshot, error) {
	snap := Snapshot{Quotes: make(map[string]domain.Quote)}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	seenHeader := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		switch {
		case fields[0] == recordHeader:
			if err := snap.parseHeader(fields); err != nil {
				return Snapshot{}, err
			}
			seenHeader = true
		case !seenHeader:
			return Snapshot{}, ErrMissingHeader
		case fields[0] == recordTrailer:
			return snap.finish(), nil
		case strings.HasPrefix(fields[0], recordQuote):
			q, err := parseQuote(fields)
			if err != nil {
				snap.Skipped++
				continue
			}
			snap.Quotes[q.Symbol] = q
		}
	}
	if err := sc.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read market feed: %w", err)
	}
	if !seenHeader {
		return Snapshot{}, ErrMissingHeader
	}
	return snap.finish(), nil
}

func (s *Snapshot) parseHeader(fields []string) error {
	if len(fields) < 4 {
		return fmt.Errorf("header has %d fields: %w", len(fields), ErrMissingHeader)
	}
	t, err := time.ParseInLocation(feedTimeLayout, fields[2], time.Local)
	if err != nil {
		return fmt.Errorf("header time %q: %w", fields[2], err)
	}
	s.Version = fields[1]
	s.Time = t
	s.Session = fields[3]
	s.SessionOpen = SessionIsOpen(fields[3])
	return nil
}

func (s Snapshot) finish() Snapshot {
	for sym, q := range s.Quotes {
		q.SessionOpen = s.SessionOpen
		q.Time = s.Time
		s.Quotes[sym] = q
	}
	return s
}

// parseQuote decodes one MD line: the fixed fields, up to five
// bid/bidvol/ask/askvol groups and a trailing phase
func parseQuote(f []string) (domain.Quote, error) {
	levels := (len(f) - quoteFixedFields - 1) / levelFields
	if len(f) < quoteFixedFields+1 || (len(f)-quoteFixedFields-1)%levelFields != 0 || levels > domain.QuoteDepth {
		return domain.Quote{}, fmt.Errorf("%d fields: %w", len(f), errBadQuoteLine)
	}
	if f[1] == "" {
		return domain.Quote{}, fmt.Errorf("empty symbol: %w", errBadQuoteLine)
	}

	p := fieldParser{}
	q := domain.Quote{
		Symbol:   f[1],
		Name:     f[2],
		Volume:   p.num(f[3]),
		Amount:   p.dec(f[4]),
		PreClose: p.dec(f[5]),
		Open:     p.dec(f[6]),
		High:     p.dec(f[7]),
		Low:      p.dec(f[8]),
		Last:     p.dec(f[9]),
		Phase:    f[len(f)-1],
	}
	for i := 0; i < levels; i++ {
		base := quoteFixedFields + i*levelFields
		q.Bids[i] = domain.Level{Price: p.dec(f[base]), Size: p.num(f[base+1])}
		q.Asks[i] = domain.Level{Price: p.dec(f[base+2]), Size: p.num(f[base+3])}
	}
	if p.err != nil {
		return domain.Quote{}, fmt.Errorf("symbol %s: %w: %v", q.Symbol, errBadQuoteLine, p.err)
	}
	return q, nil
}

// fieldParser keeps the first conversion error; empty fields read as zero
type fieldParser struct {
	err error
}

func (p *fieldParser) dec(s string) decimal.Decimal {
	if s == "" || p.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.err = err
		return decimal.Zero
	}
	return d
}

func (p *fieldParser) num(s string) int64 {
	if s == "" || p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		p.err = err
	}
	return v
}
