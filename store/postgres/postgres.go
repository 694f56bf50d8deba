/*
Package postgres implements leave.Store and leave.Registry on PostgreSQL.

PURPOSE:
  The production backend. Schema lives in migrations/postgres and is applied
  with golang-migrate on Open.

ATOMICITY:
  CreateBalanceIfAbsent:
    INSERT ... ON CONFLICT (employee_id) DO NOTHING RETURNING ...
    No returned row means another writer owns the row; we read it back in a
    second statement (a fresh snapshot, so the committed winner is visible).

  AppendTransaction (one database transaction):
    UPDATE balances SET used = $1 WHERE employee_id = $2 AND used = $3 RETURNING ...
      no row -> ErrConcurrentModification, rollback
    INSERT INTO transactions ...
      23505 unique_violation -> ErrConcurrentModification

HISTORY:
  Row-value comparison (created_at, id) > ($2, $3) walks the
  (employee_id, created_at, id) index.

SEE ALSO:
  - store/sqlite: same statements for SQLite
  - migrations.go: golang-migrate runner
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/leave"
)

const uniqueViolation = "23505"

// Querier supports database operations for both pool and transactions
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a Querier that can start transactions (*pgxpool.Pool, or a pgxmock pool).
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)
	_ DB      = (*pgxpool.Pool)(nil)
)

// Store implements leave.Store and leave.Registry.
type Store struct {
	db     DB
	logger zerolog.Logger
	close  func()
}

// Open runs migrations, connects a pool and pings it.
func Open(ctx context.Context, cfg config.PostgresConfig, logger zerolog.Logger) (*Store, error) {
	if err := RunMigrations(cfg.URL, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Info().Int32("max_conns", cfg.MaxConns).Msg("connected to PostgreSQL")
	s := New(pool, logger)
	s.close = pool.Close
	return s, nil
}

// New wraps an existing pool.
func New(db DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close releases the pool if Open created it.
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
		s.logger.Info().Msg("closed PostgreSQL connection")
	}
	return nil
}

// executeTx runs fn in a transaction, rolling back on error or panic.
func (s *Store) executeTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return leave.Unavailable("begin transaction", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return leave.Unavailable("commit", err)
	}
	return nil
}

// =============================================================================
// BALANCES
// =============================================================================

const selectBalanceSQL = `
	SELECT employee_id, total_entitlement, used, created_at
	FROM balances
	WHERE employee_id = $1
`

func scanBalance(row pgx.Row) (leave.Balance, error) {
	var (
		id        string
		total     int
		used      int
		createdAt time.Time
	)
	if err := row.Scan(&id, &total, &used, &createdAt); err != nil {
		return leave.Balance{}, err
	}
	return leave.Balance{
		EmployeeID:       leave.EmployeeID(id),
		TotalEntitlement: total,
		Used:             used,
		CreatedAt:        createdAt.UTC(),
	}, nil
}

// GetBalance returns nil, nil when no row exists.
func (s *Store) GetBalance(ctx context.Context, id leave.EmployeeID) (*leave.Balance, error) {
	b, err := scanBalance(s.db.QueryRow(ctx, selectBalanceSQL, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error().Err(err).Str("employee_id", string(id)).Msg("failed to get balance")
		return nil, leave.Unavailable("get balance", err)
	}
	return &b, nil
}

// CreateBalanceIfAbsent inserts a fresh balance or returns the existing one.
func (s *Store) CreateBalanceIfAbsent(ctx context.Context, id leave.EmployeeID, entitlement int, createdAt time.Time) (leave.Balance, bool, error) {
	query := `
		INSERT INTO balances (employee_id, total_entitlement, used, created_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (employee_id) DO NOTHING
		RETURNING employee_id, total_entitlement, used, created_at
	`
	b, err := scanBalance(s.db.QueryRow(ctx, query, string(id), entitlement, createdAt))
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return leave.Balance{}, false, leave.Unavailable("create balance", err)
	}

	existing, err := s.GetBalance(ctx, id)
	if err != nil {
		return leave.Balance{}, false, err
	}
	if existing == nil {
		return leave.Balance{}, false, leave.Unavailable("create balance", errors.New("balance vanished after conflict"))
	}
	return *existing, false, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// AppendTransaction applies the delta and records the transaction atomically.
func (s *Store) AppendTransaction(ctx context.Context, t leave.Transaction, expectedUsed int) (leave.Balance, error) {
	var updated leave.Balance

	err := s.executeTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE balances SET used = $1
			WHERE employee_id = $2 AND used = $3
			RETURNING employee_id, total_entitlement, used, created_at
		`, expectedUsed+t.Delta, string(t.EmployeeID), expectedUsed)

		var err error
		updated, err = scanBalance(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return leave.ErrConcurrentModification
		}
		if err != nil {
			return leave.Unavailable("update balance", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO transactions (id, employee_id, delta, reason, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, string(t.ID), string(t.EmployeeID), t.Delta, t.Reason, t.Timestamp)
		if isUniqueViolation(err) {
			return leave.ErrConcurrentModification
		}
		if err != nil {
			return leave.Unavailable("insert transaction", err)
		}
		return nil
	})
	if err != nil {
		return leave.Balance{}, err
	}
	return updated, nil
}

// ListTransactions returns transactions strictly after the cursor.
func (s *Store) ListTransactions(ctx context.Context, id leave.EmployeeID, after *leave.Cursor, limit int) ([]leave.Transaction, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = s.db.Query(ctx, `
			SELECT id, employee_id, delta, reason, created_at
			FROM transactions
			WHERE employee_id = $1
			ORDER BY created_at ASC, id ASC
			LIMIT $2
		`, string(id), limit)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT id, employee_id, delta, reason, created_at
			FROM transactions
			WHERE employee_id = $1 AND (created_at, id) > ($2, $3)
			ORDER BY created_at ASC, id ASC
			LIMIT $4
		`, string(id), after.Timestamp, string(after.ID), limit)
	}
	if err != nil {
		return nil, leave.Unavailable("query transactions", err)
	}
	defer rows.Close()

	transactions := []leave.Transaction{}
	for rows.Next() {
		var (
			txID, empID, reason string
			delta               int
			createdAt           time.Time
		)
		if err := rows.Scan(&txID, &empID, &delta, &reason, &createdAt); err != nil {
			return nil, leave.Unavailable("scan transaction", err)
		}
		transactions = append(transactions, leave.Transaction{
			ID:         leave.TransactionID(txID),
			EmployeeID: leave.EmployeeID(empID),
			Delta:      delta,
			Reason:     reason,
			Timestamp:  createdAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, leave.Unavailable("query transactions", err)
	}
	return transactions, nil
}

// DeleteEmployeeLedger removes the balance and all transactions in one transaction.
func (s *Store) DeleteEmployeeLedger(ctx context.Context, id leave.EmployeeID) error {
	return s.executeTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM transactions WHERE employee_id = $1", string(id)); err != nil {
			return leave.Unavailable("delete transactions", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM balances WHERE employee_id = $1", string(id)); err != nil {
			return leave.Unavailable("delete balance", err)
		}
		return nil
	})
}

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

func (s *Store) RegisterEmployee(ctx context.Context, id leave.EmployeeID) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO employees (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", string(id))
	if err != nil {
		return leave.Unavailable("register employee", err)
	}
	return nil
}

func (s *Store) RemoveEmployee(ctx context.Context, id leave.EmployeeID) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM employees WHERE id = $1", string(id)); err != nil {
		return leave.Unavailable("remove employee", err)
	}
	return nil
}

func (s *Store) ListEmployeeIDs(ctx context.Context) ([]leave.EmployeeID, error) {
	rows, err := s.db.Query(ctx, "SELECT id FROM employees ORDER BY id")
	if err != nil {
		return nil, leave.Unavailable("list employees", err)
	}
	defer rows.Close()

	var ids []leave.EmployeeID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, leave.Unavailable("scan employee", err)
		}
		ids = append(ids, leave.EmployeeID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, leave.Unavailable("list employees", err)
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
