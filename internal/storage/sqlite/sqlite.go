// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/money"
	"github.com/mmynk/tripledger/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection. Immediate transactions
	// take the write lock up front so concurrent writers wait instead of failing.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a database transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetExpense retrieves an expense by ID, including its shares.
func (s *SQLiteStore) GetExpense(ctx context.Context, expenseID string) (*models.Expense, error) {
	var expense *models.Expense
	err := s.read(ctx, func(q querier) (err error) {
		expense, err = getExpense(ctx, q, expenseID)
		return err
	})
	return expense, err
}

// ListExpenses retrieves all expenses of a trip, newest first.
func (s *SQLiteStore) ListExpenses(ctx context.Context, tripID string) ([]models.Expense, error) {
	var expenses []models.Expense
	err := s.read(ctx, func(q querier) (err error) {
		expenses, err = listExpenses(ctx, q, tripID)
		return err
	})
	return expenses, err
}

// read runs fn in a read-only transaction. Expense rows and share rows are
// read in separate queries and must come from the same snapshot.
func (s *SQLiteStore) read(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func listExpenses(ctx context.Context, q querier, tripID string) ([]models.Expense, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, trip_id, title, amount, currency, payer_id, occurred_at, created_at, updated_at
		 FROM expenses WHERE trip_id = ? ORDER BY occurred_at DESC, seq ASC`,
		tripID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []models.Expense
	index := make(map[string]int)
	for rows.Next() {
		var e models.Expense
		if err := scanExpense(rows, &e); err != nil {
			return nil, err
		}
		index[e.ID] = len(expenses)
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}

	// Load every share of the trip in one query and attach them.
	shareRows, err := q.QueryContext(ctx,
		`SELECT s.expense_id, s.participant_id, s.amount, s.settled_externally
		 FROM expense_shares s JOIN expenses e ON e.id = s.expense_id
		 WHERE e.trip_id = ? ORDER BY s.expense_id, s.position`,
		tripID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	defer shareRows.Close()

	for shareRows.Next() {
		share, err := scanShare(shareRows)
		if err != nil {
			return nil, err
		}
		i, ok := index[share.ExpenseID]
		if !ok {
			continue
		}
		expenses[i].Shares = append(expenses[i].Shares, share)
		expenses[i].SplitAmong = append(expenses[i].SplitAmong, share.ParticipantID)
	}
	if err := shareRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shares: %w", err)
	}

	return expenses, nil
}

// sqliteTx implements storage.Tx on top of a *sql.Tx.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetExpense(ctx context.Context, expenseID string) (*models.Expense, error) {
	return getExpense(ctx, t.tx, expenseID)
}

// CreateExpense persists a new expense and its shares.
func (t *sqliteTx) CreateExpense(ctx context.Context, expense *models.Expense) error {
	// Generate IDs if not set
	if expense.ID == "" {
		expense.ID = uuid.New().String()
	}
	now := time.Now().Unix()
	if expense.CreatedAt == 0 {
		expense.CreatedAt = now
	}
	if expense.UpdatedAt == 0 {
		expense.UpdatedAt = expense.CreatedAt
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO expenses (id, trip_id, title, amount, currency, payer_id, occurred_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		expense.ID, expense.TripID, expense.Title, int64(expense.Amount), expense.Currency,
		expense.PayerID, expense.Timestamp, expense.CreatedAt, expense.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}

	return insertShares(ctx, t.tx, expense)
}

// UpdateExpense replaces an expense row in place and rewrites all of its shares.
func (t *sqliteTx) UpdateExpense(ctx context.Context, expense *models.Expense) error {
	if expense.UpdatedAt == 0 {
		expense.UpdatedAt = time.Now().Unix()
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE expenses SET title = ?, amount = ?, currency = ?, payer_id = ?, occurred_at = ?, updated_at = ?
		 WHERE id = ?`,
		expense.Title, int64(expense.Amount), expense.Currency, expense.PayerID,
		expense.Timestamp, expense.UpdatedAt, expense.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update expense: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	} else if n == 0 {
		return fmt.Errorf("expense %s: %w", expense.ID, models.ErrNotFound)
	}

	if _, err := t.tx.ExecContext(ctx, "DELETE FROM expense_shares WHERE expense_id = ?", expense.ID); err != nil {
		return fmt.Errorf("failed to delete shares: %w", err)
	}
	return insertShares(ctx, t.tx, expense)
}

// DeleteExpense removes an expense and its shares.
func (t *sqliteTx) DeleteExpense(ctx context.Context, expenseID string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM expense_shares WHERE expense_id = ?", expenseID); err != nil {
		return fmt.Errorf("failed to delete shares: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", expenseID)
	if err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	} else if n == 0 {
		return fmt.Errorf("expense %s: %w", expenseID, models.ErrNotFound)
	}
	return nil
}

func insertShares(ctx context.Context, q querier, expense *models.Expense) error {
	for i := range expense.Shares {
		share := &expense.Shares[i]
		share.ExpenseID = expense.ID
		_, err := q.ExecContext(ctx,
			`INSERT INTO expense_shares (expense_id, position, participant_id, amount, settled_externally)
			 VALUES (?, ?, ?, ?, ?)`,
			expense.ID, i, share.ParticipantID, int64(share.Amount), share.SettledExternally,
		)
		if err != nil {
			return fmt.Errorf("failed to insert share: %w", err)
		}
	}
	return nil
}

func getExpense(ctx context.Context, q querier, expenseID string) (*models.Expense, error) {
	expense := &models.Expense{}
	row := q.QueryRowContext(ctx,
		`SELECT id, trip_id, title, amount, currency, payer_id, occurred_at, created_at, updated_at
		 FROM expenses WHERE id = ?`,
		expenseID,
	)
	if err := scanExpense(row, expense); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT expense_id, participant_id, amount, settled_externally
		 FROM expense_shares WHERE expense_id = ? ORDER BY position`,
		expenseID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get shares: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		expense.Shares = append(expense.Shares, share)
		expense.SplitAmong = append(expense.SplitAmong, share.ParticipantID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shares: %w", err)
	}

	return expense, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(row scanner, e *models.Expense) error {
	var amount int64
	err := row.Scan(&e.ID, &e.TripID, &e.Title, &amount, &e.Currency, &e.PayerID,
		&e.Timestamp, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("expense: %w", models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to scan expense: %w", err)
	}
	e.Amount = money.Amount(amount)
	return nil
}

func scanShare(row scanner) (models.ExpenseShare, error) {
	var share models.ExpenseShare
	var amount int64
	if err := row.Scan(&share.ExpenseID, &share.ParticipantID, &amount, &share.SettledExternally); err != nil {
		return share, fmt.Errorf("failed to scan share: %w", err)
	}
	share.Amount = money.Amount(amount)
	return share, nil
}
