/*
Package sqlite provides a SQLite-backed implementation of the ledger store.

PURPOSE:
  Implements leave.Store and leave.Registry on SQLite. The same statements
  (ON CONFLICT DO NOTHING, conditional UPDATE) carry over to PostgreSQL with
  only placeholder changes; see store/postgres.

KEY TABLES:
  balances:      one row per employee (PRIMARY KEY employee_id)
  transactions:  append-only ledger
  employees:     directory of known employee IDs

ATOMICITY:
  CreateBalanceIfAbsent:
    INSERT ... ON CONFLICT(employee_id) DO NOTHING, then re-read when no row
    was inserted. The primary key is the only arbiter of a creation race.

  AppendTransaction:
    One IMMEDIATE transaction:
      UPDATE balances SET used = expected + delta
       WHERE employee_id = ? AND used = expected
      (0 rows -> ErrConcurrentModification, rollback)
      INSERT INTO transactions ...

TIMESTAMPS:
  Stored as INTEGER unix microseconds so (ts, id) ordering is exact.

WAL MODE:
  File databases open with WAL and a busy timeout so concurrent writers
  queue instead of failing with SQLITE_BUSY.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - leave/store.go: interface definitions
  - leave/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/leave-ledger/leave"
)

// Store implements leave.Store and leave.Registry using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database. dbPath may be a "file:" URI that
// already carries query parameters.
func New(dbPath string) (*Store, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	dsn := dbPath + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS balances (
		employee_id TEXT PRIMARY KEY,
		total_entitlement INTEGER NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		ts INTEGER NOT NULL
	);

	-- History pagination (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_employee_ts_id
		ON transactions(employee_id, ts, id);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BALANCES
// =============================================================================

// GetBalance returns nil, nil when no row exists.
func (s *Store) GetBalance(ctx context.Context, id leave.EmployeeID) (*leave.Balance, error) {
	var (
		b         leave.Balance
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT employee_id, total_entitlement, used, created_at FROM balances WHERE employee_id = ?",
		id,
	).Scan(&b.EmployeeID, &b.TotalEntitlement, &b.Used, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, leave.Unavailable("get balance", err)
	}
	b.CreatedAt = time.UnixMicro(createdAt).UTC()
	return &b, nil
}

// CreateBalanceIfAbsent inserts a fresh balance or returns the existing one.
func (s *Store) CreateBalanceIfAbsent(ctx context.Context, id leave.EmployeeID, entitlement int, createdAt time.Time) (leave.Balance, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO balances (employee_id, total_entitlement, used, created_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(employee_id) DO NOTHING
	`, id, entitlement, createdAt.UnixMicro())
	if err != nil {
		return leave.Balance{}, false, leave.Unavailable("create balance", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return leave.Balance{}, false, leave.Unavailable("create balance", err)
	}
	if n == 1 {
		return leave.Balance{
			EmployeeID:       id,
			TotalEntitlement: entitlement,
			CreatedAt:        time.UnixMicro(createdAt.UnixMicro()).UTC(),
		}, true, nil
	}

	// Lost the race (or the row already existed): read the winner's row.
	b, err := s.GetBalance(ctx, id)
	if err != nil {
		return leave.Balance{}, false, err
	}
	if b == nil {
		return leave.Balance{}, false, leave.Unavailable("create balance", errors.New("balance vanished after conflict"))
	}
	return *b, false, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// AppendTransaction applies the delta and records the transaction atomically.
func (s *Store) AppendTransaction(ctx context.Context, tx leave.Transaction, expectedUsed int) (leave.Balance, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return leave.Balance{}, leave.Unavailable("begin transaction", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx,
		"UPDATE balances SET used = ? WHERE employee_id = ? AND used = ?",
		expectedUsed+tx.Delta, tx.EmployeeID, expectedUsed,
	)
	if err != nil {
		return leave.Balance{}, leave.Unavailable("update balance", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return leave.Balance{}, leave.Unavailable("update balance", err)
	} else if n == 0 {
		return leave.Balance{}, leave.ErrConcurrentModification
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO transactions (id, employee_id, delta, reason, ts)
		VALUES (?, ?, ?, ?, ?)
	`, tx.ID, tx.EmployeeID, tx.Delta, tx.Reason, tx.Timestamp.UnixMicro())
	if err != nil {
		if isUniqueConstraintError(err) {
			return leave.Balance{}, leave.ErrConcurrentModification
		}
		return leave.Balance{}, leave.Unavailable("insert transaction", err)
	}

	var (
		b         leave.Balance
		createdAt int64
	)
	err = sqlTx.QueryRowContext(ctx,
		"SELECT employee_id, total_entitlement, used, created_at FROM balances WHERE employee_id = ?",
		tx.EmployeeID,
	).Scan(&b.EmployeeID, &b.TotalEntitlement, &b.Used, &createdAt)
	if err != nil {
		return leave.Balance{}, leave.Unavailable("reload balance", err)
	}
	b.CreatedAt = time.UnixMicro(createdAt).UTC()

	if err := commit(sqlTx); err != nil {
		return leave.Balance{}, err
	}
	return b, nil
}

// ListTransactions returns transactions strictly after the cursor.
func (s *Store) ListTransactions(ctx context.Context, id leave.EmployeeID, after *leave.Cursor, limit int) ([]leave.Transaction, error) {
	query := `
		SELECT id, employee_id, delta, reason, ts
		FROM transactions
		WHERE employee_id = ?
	`
	args := []any{id}
	if after != nil {
		ts := after.Timestamp.UnixMicro()
		query += " AND (ts > ? OR (ts = ? AND id > ?))"
		args = append(args, ts, ts, after.ID)
	}
	query += " ORDER BY ts ASC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, leave.Unavailable("query transactions", err)
	}
	defer rows.Close()

	transactions := []leave.Transaction{}
	for rows.Next() {
		var (
			tx leave.Transaction
			ts int64
		)
		if err := rows.Scan(&tx.ID, &tx.EmployeeID, &tx.Delta, &tx.Reason, &ts); err != nil {
			return nil, leave.Unavailable("scan transaction", err)
		}
		tx.Timestamp = time.UnixMicro(ts).UTC()
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, leave.Unavailable("query transactions", err)
	}
	return transactions, nil
}

// DeleteEmployeeLedger removes the balance and the transaction history.
func (s *Store) DeleteEmployeeLedger(ctx context.Context, id leave.EmployeeID) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return leave.Unavailable("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM transactions WHERE employee_id = ?", id); err != nil {
		return leave.Unavailable("delete transactions", err)
	}
	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM balances WHERE employee_id = ?", id); err != nil {
		return leave.Unavailable("delete balance", err)
	}
	return commit(sqlTx)
}

func commit(sqlTx *sql.Tx) error {
	if err := sqlTx.Commit(); err != nil {
		return leave.Unavailable("commit", err)
	}
	return nil
}

// =============================================================================
// EMPLOYEE DIRECTORY (leave.Registry)
// =============================================================================

// RegisterEmployee records an employee ID. Re-registering is a no-op.
func (s *Store) RegisterEmployee(ctx context.Context, id leave.EmployeeID) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO employees (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING",
		id, time.Now().UTC().UnixMicro(),
	)
	if err != nil {
		return leave.Unavailable("register employee", err)
	}
	return nil
}

// RemoveEmployee deletes an employee from the directory.
func (s *Store) RemoveEmployee(ctx context.Context, id leave.EmployeeID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM employees WHERE id = ?", id); err != nil {
		return leave.Unavailable("remove employee", err)
	}
	return nil
}

// ListEmployeeIDs returns all registered employees ordered by ID.
func (s *Store) ListEmployeeIDs(ctx context.Context) ([]leave.EmployeeID, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM employees ORDER BY id")
	if err != nil {
		return nil, leave.Unavailable("list employees", err)
	}
	defer rows.Close()

	var ids []leave.EmployeeID
	for rows.Next() {
		var id leave.EmployeeID
		if err := rows.Scan(&id); err != nil {
			return nil, leave.Unavailable("scan employee", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Helper functions

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
