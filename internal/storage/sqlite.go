package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"tally/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db       *sql.DB
	defaults SettingsDefaults
}

func NewSQLiteStore(dbPath string, defaults SettingsDefaults) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// modernc's driver is not safe for concurrent writers on one file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations("sqlite", dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, defaults: defaults.normalized()}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Users

func (s *SQLiteStore) CreateUser(ctx context.Context, u core.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if isSQLiteUniqueViolation(err) {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	var u core.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (core.User, error) {
	var u core.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// Settings

// GetUserSettings creates the default row on first read, so every
// authenticated user always has settings.
func (s *SQLiteStore) GetUserSettings(ctx context.Context, userID string) (core.UserSettings, error) {
	set := core.UserSettings{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT currency, timezone FROM user_settings WHERE user_id = ?`, userID).
		Scan(&set.Currency, &set.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		set.Currency = s.defaults.Currency
		set.Timezone = s.defaults.Timezone
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_settings (user_id, currency, timezone) VALUES (?, ?, ?)`,
			userID, set.Currency, set.Timezone); err != nil {
			return core.UserSettings{}, fmt.Errorf("insert default settings: %w", err)
		}
		return set, nil
	}
	if err != nil {
		return core.UserSettings{}, fmt.Errorf("get user settings: %w", err)
	}
	return set, nil
}

func (s *SQLiteStore) UpdateUserSettings(ctx context.Context, set core.UserSettings) (core.UserSettings, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, currency, timezone) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET currency = excluded.currency, timezone = excluded.timezone`,
		set.UserID, set.Currency, set.Timezone)
	if err != nil {
		return core.UserSettings{}, fmt.Errorf("update user settings: %w", err)
	}
	return set, nil
}

// Categories

func (s *SQLiteStore) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (user_id, name, type, icon, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.UserID, c.Name, string(c.Type), c.Icon, c.CreatedAt)
	if isSQLiteUniqueViolation(err) {
		return core.Category{}, ErrExists
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetCategory(ctx context.Context, userID, name string, t core.Type) (core.Category, error) {
	c := core.Category{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, type, icon, created_at FROM categories WHERE user_id = ? AND name = ? AND type = ?`,
		userID, name, string(t)).
		Scan(&c.Name, &c.Type, &c.Icon, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, ErrNotFound
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListCategories(ctx context.Context, userID string, t *core.Type) ([]core.Category, error) {
	query := `SELECT name, type, icon, created_at FROM categories WHERE user_id = ?`
	args := []any{userID}
	if t != nil {
		query += ` AND type = ?`
		args = append(args, string(*t))
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []core.Category{}
	for rows.Next() {
		c := core.Category{UserID: userID}
		if err := rows.Scan(&c.Name, &c.Type, &c.Icon, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *SQLiteStore) DeleteCategory(ctx context.Context, userID, name string, t core.Type) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM categories WHERE user_id = ? AND name = ? AND type = ?`,
		userID, name, string(t))
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete category rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Transactions and the aggregate ledger

// bucketDeltas maps a transaction onto the two history counters.
func bucketDeltas(t core.Type, amount core.Money) (incomeCents, expenseCents int64) {
	if t == core.Income {
		return amount.Cents, 0
	}
	return 0, amount.Cents
}

// CreateTransaction inserts the row and folds its amount into the per-day and
// per-month buckets. All three writes share one database transaction: either
// the transaction exists with both buckets updated, or nothing changed.
func (s *SQLiteStore) CreateTransaction(ctx context.Context, p CreateTransactionParams) (core.Transaction, error) {
	cat, err := s.GetCategory(ctx, p.UserID, p.Category, p.Type)
	if err != nil {
		return core.Transaction{}, err
	}

	tx := core.Transaction{
		ID:           p.ID,
		UserID:       p.UserID,
		Amount:       p.Amount,
		Type:         p.Type,
		Category:     cat.Name,
		CategoryIcon: cat.Icon,
		Description:  p.Description,
		Date:         p.Date,
		CreatedAt:    nowUTC(),
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	_, err = dbTx.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, amount_cents, type, category, category_icon, description, tx_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Amount.Cents, string(tx.Type), tx.Category, tx.CategoryIcon,
		tx.Description, tx.Date.String(), tx.CreatedAt)
	if isSQLiteUniqueViolation(err) {
		return core.Transaction{}, ErrExists
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	income, expense := bucketDeltas(tx.Type, tx.Amount)
	if err := applySQLiteBuckets(ctx, dbTx, tx.UserID, tx.Date, income, expense); err != nil {
		return core.Transaction{}, err
	}

	if err := dbTx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("commit transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction recorded",
		"id", tx.ID,
		"user_id", tx.UserID,
		"type", tx.Type,
		"amount_cents", tx.Amount.Cents,
		"date", tx.Date.String())

	return tx, nil
}

// applySQLiteBuckets adds the deltas to both history tiers, creating the
// bucket rows on first touch. Negative deltas revert a deleted transaction.
func applySQLiteBuckets(ctx context.Context, dbTx *sql.Tx, userID string, d core.Date, incomeCents, expenseCents int64) error {
	_, err := dbTx.ExecContext(ctx,
		`INSERT INTO month_history (user_id, year, month, day, income_cents, expense_cents)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, year, month, day) DO UPDATE SET
		   income_cents = income_cents + excluded.income_cents,
		   expense_cents = expense_cents + excluded.expense_cents`,
		userID, d.Year(), d.Month(), d.Day(), incomeCents, expenseCents)
	if err != nil {
		return fmt.Errorf("upsert month history: %w", err)
	}

	_, err = dbTx.ExecContext(ctx,
		`INSERT INTO year_history (user_id, year, month, income_cents, expense_cents)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, year, month) DO UPDATE SET
		   income_cents = income_cents + excluded.income_cents,
		   expense_cents = expense_cents + excluded.expense_cents`,
		userID, d.Year(), d.Month(), incomeCents, expenseCents)
	if err != nil {
		return fmt.Errorf("upsert year history: %w", err)
	}

	return nil
}

func (s *SQLiteStore) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	return s.getTransaction(ctx, `SELECT id, user_id, amount_cents, type, category, category_icon, description, tx_date, created_at
		FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
}

// GetMirrorTransaction looks a row up by id alone; the mirror worker has no
// user in hand when it consumes an event.
func (s *SQLiteStore) GetMirrorTransaction(ctx context.Context, id string) (core.Transaction, error) {
	return s.getTransaction(ctx, `SELECT id, user_id, amount_cents, type, category, category_icon, description, tx_date, created_at
		FROM transactions WHERE id = ?`, id)
}

func (s *SQLiteStore) getTransaction(ctx context.Context, query string, args ...any) (core.Transaction, error) {
	var (
		t       core.Transaction
		dateStr string
	)
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&t.ID, &t.UserID, &t.Amount.Cents, &t.Type, &t.Category, &t.CategoryIcon,
			&t.Description, &dateStr, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	t.Date, err = core.ParseDate(dateStr)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse stored date %q: %w", dateStr, err)
	}
	return t, nil
}

// DeleteTransaction removes the row and subtracts its amount from both
// buckets, atomically with the removal. Bucket rows are kept even at zero.
func (s *SQLiteStore) DeleteTransaction(ctx context.Context, userID, id string) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	var (
		amountCents int64
		typ         string
		dateStr     string
	)
	err = dbTx.QueryRowContext(ctx,
		`SELECT amount_cents, type, tx_date FROM transactions WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&amountCents, &typ, &dateStr)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load transaction for delete: %w", err)
	}

	d, err := core.ParseDate(dateStr)
	if err != nil {
		return fmt.Errorf("parse stored date %q: %w", dateStr, err)
	}

	if _, err := dbTx.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	income, expense := bucketDeltas(core.Type(typ), core.Money{Cents: amountCents})
	if err := applySQLiteBuckets(ctx, dbTx, userID, d, -income, -expense); err != nil {
		return err
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	slog.InfoContext(ctx, "Transaction deleted",
		"id", id,
		"user_id", userID,
		"amount_cents", amountCents,
		"date", dateStr)

	return nil
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, userID string, from, to core.Date) ([]core.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, amount_cents, type, category, category_icon, description, tx_date, created_at
		 FROM transactions
		 WHERE user_id = ? AND tx_date >= ? AND tx_date <= ?
		 ORDER BY tx_date DESC, created_at DESC`,
		userID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := []core.Transaction{}
	for rows.Next() {
		var (
			t       core.Transaction
			dateStr string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount.Cents, &t.Type, &t.Category,
			&t.CategoryIcon, &t.Description, &dateStr, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.Date, err = core.ParseDate(dateStr); err != nil {
			return nil, fmt.Errorf("parse stored date %q: %w", dateStr, err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// Stats

func (s *SQLiteStore) GetBalance(ctx context.Context, userID string, from, to core.Date) (core.Balance, error) {
	var b core.Balance
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN type = 'income' THEN amount_cents ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN type = 'expense' THEN amount_cents ELSE 0 END), 0)
		 FROM transactions
		 WHERE user_id = ? AND tx_date >= ? AND tx_date <= ?`,
		userID, from.String(), to.String()).
		Scan(&b.Income.Cents, &b.Expense.Cents)
	if err != nil {
		return core.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) GetCategorySums(ctx context.Context, userID string, from, to core.Date) ([]core.CategorySum, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, category, category_icon, SUM(amount_cents)
		 FROM transactions
		 WHERE user_id = ? AND tx_date >= ? AND tx_date <= ?
		 GROUP BY type, category, category_icon
		 ORDER BY SUM(amount_cents) DESC`,
		userID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("get category sums: %w", err)
	}
	defer rows.Close()

	sums := []core.CategorySum{}
	for rows.Next() {
		var cs core.CategorySum
		if err := rows.Scan(&cs.Type, &cs.Category, &cs.CategoryIcon, &cs.Sum.Cents); err != nil {
			return nil, fmt.Errorf("scan category sum: %w", err)
		}
		sums = append(sums, cs)
	}
	return sums, rows.Err()
}

func (s *SQLiteStore) GetHistoryBuckets(ctx context.Context, q HistoricalQuery) ([]core.HistoryBucket, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch q.Timeframe {
	case core.TimeframeMonth:
		rows, err = s.db.QueryContext(ctx,
			`SELECT day, income_cents, expense_cents FROM month_history
			 WHERE user_id = ? AND year = ? AND month = ? ORDER BY day`,
			q.UserID, q.Year, q.Month)
	case core.TimeframeYear:
		rows, err = s.db.QueryContext(ctx,
			`SELECT month, income_cents, expense_cents FROM year_history
			 WHERE user_id = ? AND year = ? ORDER BY month`,
			q.UserID, q.Year)
	default:
		return nil, core.ErrInvalidTimeframe
	}
	if err != nil {
		return nil, fmt.Errorf("get history buckets: %w", err)
	}
	defer rows.Close()

	buckets := []core.HistoryBucket{}
	for rows.Next() {
		b := core.HistoryBucket{Year: q.Year}
		var unit int
		if err := rows.Scan(&unit, &b.Income.Cents, &b.Expense.Cents); err != nil {
			return nil, fmt.Errorf("scan history bucket: %w", err)
		}
		if q.Timeframe == core.TimeframeMonth {
			b.Month = q.Month
			b.Day = unit
		} else {
			b.Month = unit
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func (s *SQLiteStore) GetHistoryYears(ctx context.Context, userID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT year FROM month_history WHERE user_id = ? ORDER BY year`, userID)
	if err != nil {
		return nil, fmt.Errorf("get history years: %w", err)
	}
	defer rows.Close()

	years := []int{}
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("scan history year: %w", err)
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// Mirror bookkeeping

func (s *SQLiteStore) ListUnmirrored(ctx context.Context, limit int) ([]MirrorRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, amount_cents, type, category, category_icon, description, tx_date, created_at, mirror_attempts
		 FROM transactions
		 WHERE mirror_status IN ('pending', 'error') AND mirror_attempts < 10
		 ORDER BY created_at
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unmirrored: %w", err)
	}
	defer rows.Close()

	pending := []MirrorRow{}
	for rows.Next() {
		var (
			r       MirrorRow
			dateStr string
		)
		t := &r.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount.Cents, &t.Type, &t.Category,
			&t.CategoryIcon, &t.Description, &dateStr, &t.CreatedAt, &r.Attempts); err != nil {
			return nil, fmt.Errorf("scan unmirrored: %w", err)
		}
		if t.Date, err = core.ParseDate(dateStr); err != nil {
			return nil, fmt.Errorf("parse stored date %q: %w", dateStr, err)
		}
		pending = append(pending, r)
	}
	return pending, rows.Err()
}

func (s *SQLiteStore) MarkMirrored(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET mirror_status = 'mirrored' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark mirrored: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) MarkMirrorError(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET mirror_status = 'error', mirror_attempts = mirror_attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark mirror error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
