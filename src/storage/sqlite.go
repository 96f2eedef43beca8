package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/Oven29/cinema-payments/src/entities"
)

// SQLiteStore persists orders in a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS payment_orders (
			id TEXT PRIMARY KEY,
			amount TEXT NOT NULL,
			status TEXT NOT NULL,
			transaction_no TEXT NOT NULL DEFAULT '',
			response_code TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_payment_orders_status ON payment_orders(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, order entities.Order) error {
	if order.Status == "" {
		order.Status = entities.StatusPending
	}
	now := s.now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_orders (id, amount, status, transaction_no, response_code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, order.ID, order.Amount.String(), string(order.Status), order.TransactionNo, order.ResponseCode, now, now)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%s: %w", order.ID, ErrOrderExists)
		}
		return classify(err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, orderID string) (*entities.Order, error) {
	var (
		o      entities.Order
		amount string
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, amount, status, transaction_no, response_code, created_at, updated_at
		FROM payment_orders WHERE id = ?
	`, orderID).Scan(&o.ID, &amount, &status, &o.TransactionNo, &o.ResponseCode, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", orderID, ErrOrderNotFound)
	}
	if err != nil {
		return nil, classify(err)
	}

	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("order %s amount: %w", orderID, err)
	}
	if o.Status, err = entities.ParseOrderStatus(status); err != nil {
		return nil, fmt.Errorf("order %s: %w", orderID, err)
	}
	return &o, nil
}

// CompareAndSetStatus is a single conditional UPDATE, so concurrent callers
// for the same order cannot both win.
func (s *SQLiteStore) CompareAndSetStatus(ctx context.Context, orderID string, from, to entities.OrderStatus, transactionNo, responseCode string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_orders
		SET status = ?, transaction_no = ?, response_code = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), transactionNo, responseCode, s.now().UTC(), orderID, string(from))
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err)
	}
	return n == 1, nil
}

// classify tags lock contention as ErrTransient.
func classify(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}
