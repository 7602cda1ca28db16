// Package postgres provides a PostgreSQL-backed storage.Store using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/money"
	"github.com/mmynk/tripledger/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store persists trips and expenses in PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a connection pool, verifies it and runs migrations.
func Connect(ctx context.Context, url string) (*Store, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// WithTx runs fn in a read-committed transaction. Expense rows read through
// the transaction are locked, so concurrent edits of one expense serialize
// while edits of different expenses proceed independently.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetExpense(ctx context.Context, expenseID string) (*models.Expense, error) {
	var expense *models.Expense
	err := s.read(ctx, func(q querier) (err error) {
		expense, err = getExpense(ctx, q, expenseID, false)
		return err
	})
	return expense, err
}

func (s *Store) ListExpenses(ctx context.Context, tripID string) ([]models.Expense, error) {
	var expenses []models.Expense
	err := s.read(ctx, func(q querier) (err error) {
		expenses, err = listExpenses(ctx, q, tripID)
		return err
	})
	return expenses, err
}

// read runs fn in a repeatable-read, read-only transaction so that expense
// rows and their shares come from one snapshot.
func (s *Store) read(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func listExpenses(ctx context.Context, q querier, tripID string) ([]models.Expense, error) {
	rows, err := q.Query(ctx,
		`SELECT id, trip_id, title, amount, currency, payer_id, occurred_at, created_at, updated_at
		 FROM expenses WHERE trip_id = $1 ORDER BY occurred_at DESC, seq ASC`,
		tripID,
	)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}

	var expenses []models.Expense
	index := make(map[string]int)
	for rows.Next() {
		var e models.Expense
		if err := scanExpense(rows, &e); err != nil {
			rows.Close()
			return nil, err
		}
		index[e.ID] = len(expenses)
		expenses = append(expenses, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}

	shareRows, err := q.Query(ctx,
		`SELECT s.expense_id, s.participant_id, s.amount, s.settled_externally
		 FROM expense_shares s JOIN expenses e ON e.id = s.expense_id
		 WHERE e.trip_id = $1 ORDER BY s.expense_id, s.position`,
		tripID,
	)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer shareRows.Close()

	for shareRows.Next() {
		share, err := scanShare(shareRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[share.ExpenseID]; ok {
			expenses[i].Shares = append(expenses[i].Shares, share)
			expenses[i].SplitAmong = append(expenses[i].SplitAmong, share.ParticipantID)
		}
	}
	if err := shareRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return expenses, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetExpense(ctx context.Context, expenseID string) (*models.Expense, error) {
	return getExpense(ctx, t.tx, expenseID, true)
}

func (t *pgTx) CreateExpense(ctx context.Context, expense *models.Expense) error {
	if expense.ID == "" {
		expense.ID = uuid.New().String()
	}
	if expense.CreatedAt == 0 {
		expense.CreatedAt = time.Now().Unix()
	}
	if expense.UpdatedAt == 0 {
		expense.UpdatedAt = expense.CreatedAt
	}

	_, err := t.tx.Exec(ctx,
		`INSERT INTO expenses (id, trip_id, title, amount, currency, payer_id, occurred_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		expense.ID, expense.TripID, expense.Title, int64(expense.Amount), expense.Currency,
		expense.PayerID, expense.Timestamp, expense.CreatedAt, expense.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	return insertShares(ctx, t.tx, expense)
}

func (t *pgTx) UpdateExpense(ctx context.Context, expense *models.Expense) error {
	if expense.UpdatedAt == 0 {
		expense.UpdatedAt = time.Now().Unix()
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE expenses SET title = $1, amount = $2, currency = $3, payer_id = $4, occurred_at = $5, updated_at = $6
		 WHERE id = $7`,
		expense.Title, int64(expense.Amount), expense.Currency, expense.PayerID,
		expense.Timestamp, expense.UpdatedAt, expense.ID,
	)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("expense %s: %w", expense.ID, models.ErrNotFound)
	}

	if _, err := t.tx.Exec(ctx, `DELETE FROM expense_shares WHERE expense_id = $1`, expense.ID); err != nil {
		return fmt.Errorf("delete shares: %w", err)
	}
	return insertShares(ctx, t.tx, expense)
}

func (t *pgTx) DeleteExpense(ctx context.Context, expenseID string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM expense_shares WHERE expense_id = $1`, expenseID); err != nil {
		return fmt.Errorf("delete shares: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM expenses WHERE id = $1`, expenseID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("expense %s: %w", expenseID, models.ErrNotFound)
	}
	return nil
}

func insertShares(ctx context.Context, q querier, expense *models.Expense) error {
	for i := range expense.Shares {
		share := &expense.Shares[i]
		share.ExpenseID = expense.ID
		if _, err := q.Exec(ctx,
			`INSERT INTO expense_shares (expense_id, position, participant_id, amount, settled_externally)
			 VALUES ($1, $2, $3, $4, $5)`,
			expense.ID, i, share.ParticipantID, int64(share.Amount), share.SettledExternally,
		); err != nil {
			return fmt.Errorf("insert share: %w", err)
		}
	}
	return nil
}

func getExpense(ctx context.Context, q querier, expenseID string, lock bool) (*models.Expense, error) {
	query := `SELECT id, trip_id, title, amount, currency, payer_id, occurred_at, created_at, updated_at
		FROM expenses WHERE id = $1`
	if lock {
		query += " FOR UPDATE"
	}

	expense := &models.Expense{}
	if err := scanExpense(q.QueryRow(ctx, query, expenseID), expense); err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT expense_id, participant_id, amount, settled_externally
		 FROM expense_shares WHERE expense_id = $1 ORDER BY position`,
		expenseID,
	)
	if err != nil {
		return nil, fmt.Errorf("get shares: %w", err)
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
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return expense, nil
}

func scanExpense(row pgx.Row, e *models.Expense) error {
	var amount int64
	err := row.Scan(&e.ID, &e.TripID, &e.Title, &amount, &e.Currency, &e.PayerID,
		&e.Timestamp, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("expense: %w", models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("scan expense: %w", err)
	}
	e.Amount = money.Amount(amount)
	return nil
}

func scanShare(row pgx.Row) (models.ExpenseShare, error) {
	var share models.ExpenseShare
	var amount int64
	if err := row.Scan(&share.ExpenseID, &share.ParticipantID, &amount, &share.SettledExternally); err != nil {
		return share, fmt.Errorf("scan share: %w", err)
	}
	share.Amount = money.Amount(amount)
	return share, nil
}
