package tables

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Store is a SQLite database holding the terminal tables
type Store struct {
	db *sql.DB
}

// Open creates or opens the table store at path
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS instructions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			inst_type TEXT NOT NULL,
			client_id INTEGER NOT NULL,
			acct_type TEXT NOT NULL,
			acct TEXT NOT NULL,
			ord_no TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL DEFAULT '',
			tradeside TEXT NOT NULL DEFAULT '',
			ord_qty INTEGER NOT NULL DEFAULT 0,
			ord_price TEXT NOT NULL DEFAULT '0',
			ord_type TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS order_updates (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id TEXT NOT NULL DEFAULT '',
			ord_no TEXT NOT NULL DEFAULT '',
			acct TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL DEFAULT '',
			tradeside TEXT NOT NULL DEFAULT '',
			filled_qty INTEGER NOT NULL DEFAULT 0,
			avg_px TEXT NOT NULL DEFAULT '0',
			err_msg TEXT NOT NULL DEFAULT '',
			ord_time TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS asset (
			acct TEXT NOT NULL,
			a_type TEXT NOT NULL,
			symbol TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			qty INTEGER NOT NULL DEFAULT 0,
			closeable INTEGER NOT NULL DEFAULT 0,
			price TEXT NOT NULL DEFAULT '0',
			last_price TEXT NOT NULL DEFAULT '0',
			PRIMARY KEY (acct, a_type, symbol)
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// AppendInstruction appends one row to the instruction log
func (s *Store) AppendInstruction(ctx context.Context, ins domain.Instruction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instructions (inst_type, client_id, acct_type, acct, ord_no, symbol, tradeside, ord_qty, ord_price, ord_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ins.Kind), ins.ClientID, ins.AccountType, ins.Account, ins.OrderNo,
		ins.Symbol, string(ins.Side), ins.Qty, ins.Price.String(), ins.PriceType,
	)
	if err != nil {
		return domain.Transient("append instruction", err)
	}
	return nil
}

// CountInstructions returns the number of instruction rows
func (s *Store) CountInstructions(ctx context.Context) (int64, error) {
	return s.count(ctx, "instructions")
}

// ReadInstructions returns instruction rows in [from, to). A row whose price
// does not parse is returned with a zero price and Malformed set so offsets
// stay aligned with the table.
func (s *Store) ReadInstructions(ctx context.Context, from, to int64) ([]domain.Instruction, error) {
	if to <= from {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT inst_type, client_id, acct_type, acct, ord_no, symbol, tradeside, ord_qty, ord_price, ord_type
		 FROM instructions ORDER BY seq LIMIT ? OFFSET ?`,
		to-from, from,
	)
	if err != nil {
		return nil, domain.Transient("read instructions", err)
	}
	defer rows.Close()

	var out []domain.Instruction
	for rows.Next() {
		var ins domain.Instruction
		var kind, side, price string
		if err := rows.Scan(&kind, &ins.ClientID, &ins.AccountType, &ins.Account, &ins.OrderNo,
			&ins.Symbol, &side, &ins.Qty, &price, &ins.PriceType); err != nil {
			return nil, domain.Transient("scan instruction", err)
		}
		ins.Kind = domain.InstructionKind(kind)
		ins.Side = domain.Side(side)
		if ins.Price, err = parseDecimal(price); err != nil {
			ins.Malformed = "ord_price: " + err.Error()
		}
		out = append(out, ins)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Transient("read instructions", err)
	}
	return out, nil
}

// AppendFill appends one row to the fill log. Only the terminal side and
// tests write fills.
func (s *Store) AppendFill(ctx context.Context, r domain.FillRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO order_updates (client_id, ord_no, acct, symbol, tradeside, filled_qty, avg_px, err_msg, ord_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ClientID, r.OrderNo, r.Account, r.Symbol, string(r.Side), r.FilledQty, r.AvgPrice.String(), r.ErrMsg, r.Time,
	)
	if err != nil {
		return domain.Transient("append fill", err)
	}
	return nil
}

// CountFills returns the number of fill rows
func (s *Store) CountFills(ctx context.Context) (int64, error) {
	return s.count(ctx, "order_updates")
}

// ReadFills returns fill rows in [from, to). Unparsable prices are flagged
// on the row and left to the consumer to reject.
func (s *Store) ReadFills(ctx context.Context, from, to int64) ([]domain.FillRecord, error) {
	if to <= from {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id, ord_no, acct, symbol, tradeside, filled_qty, avg_px, err_msg, ord_time
		 FROM order_updates ORDER BY seq LIMIT ? OFFSET ?`,
		to-from, from,
	)
	if err != nil {
		return nil, domain.Transient("read fills", err)
	}
	defer rows.Close()

	var out []domain.FillRecord
	for rows.Next() {
		var r domain.FillRecord
		var side, avg string
		if err := rows.Scan(&r.ClientID, &r.OrderNo, &r.Account, &r.Symbol, &side,
			&r.FilledQty, &avg, &r.ErrMsg, &r.Time); err != nil {
			return nil, domain.Transient("scan fill", err)
		}
		r.Side = domain.Side(side)
		if r.AvgPrice, err = parseDecimal(avg); err != nil {
			r.Malformed = "avg_px: " + err.Error()
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Transient("read fills", err)
	}
	return out, nil
}

// PutAccountRow inserts or replaces one snapshot row
func (s *Store) PutAccountRow(ctx context.Context, r domain.AccountRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO asset (acct, a_type, symbol, name, qty, closeable, price, last_price)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Account, r.AssetType, r.Symbol, r.Name, r.Qty, r.Closeable, r.Price.String(), r.LastPrice.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to write account row: %w", err)
	}
	return nil
}

// LoadAccounts returns every snapshot row; see ReadFills for bad prices
func (s *Store) LoadAccounts(ctx context.Context) ([]domain.AccountRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT acct, a_type, symbol, name, qty, closeable, price, last_price
		 FROM asset ORDER BY acct, a_type, symbol`)
	if err != nil {
		return nil, domain.Transient("read accounts", err)
	}
	defer rows.Close()

	var out []domain.AccountRow
	for rows.Next() {
		var r domain.AccountRow
		var price, last string
		if err := rows.Scan(&r.Account, &r.AssetType, &r.Symbol, &r.Name, &r.Qty, &r.Closeable, &price, &last); err != nil {
			return nil, domain.Transient("scan account", err)
		}
		if r.Price, err = parseDecimal(price); err != nil {
			r.Malformed = "price: " + err.Error()
		}
		r.LastPrice, _ = parseDecimal(last)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Transient("read accounts", err)
	}
	return out, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, domain.Transient("count "+table, err)
	}
	return n, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}
