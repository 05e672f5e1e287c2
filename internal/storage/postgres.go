package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/core"

	"github.com/lib/pq"
)

type PostgresStore struct {
	db       *sql.DB
	defaults SettingsDefaults
}

func NewPostgresStore(url string, defaults SettingsDefaults) (*PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations("postgres", url); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db, defaults: defaults.normalized()}, nil
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isPGUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, u core.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if isPGUniqueViolation(err) {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	var u core.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (core.User, error) {
	var u core.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE id = $1`, id).
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

func (s *PostgresStore) GetUserSettings(ctx context.Context, userID string) (core.UserSettings, error) {
	set := core.UserSettings{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT currency, timezone FROM user_settings WHERE user_id = $1`, userID).
		Scan(&set.Currency, &set.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		set.Currency = s.defaults.Currency
		set.Timezone = s.defaults.Timezone
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO user_settings (user_id, currency, timezone) VALUES ($1, $2, $3)
			 ON CONFLICT (user_id) DO NOTHING`,
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

func (s *PostgresStore) UpdateUserSettings(ctx context.Context, set core.UserSettings) (core.UserSettings, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, currency, timezone) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET currency = excluded.currency, timezone = excluded.timezone`,
		set.UserID, set.Currency, set.Timezone)
	if err != nil {
		return core.UserSettings{}, fmt.Errorf("update user settings: %w", err)
	}
	return set, nil
}

// Categories

func (s *PostgresStore) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (user_id, name, type, icon, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.UserID, c.Name, string(c.Type), c.Icon, c.CreatedAt)
	if isPGUniqueViolation(err) {
		return core.Category{}, ErrExists
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetCategory(ctx context.Context, userID, name string, t core.Type) (core.Category, error) {
	c := core.Category{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, type, icon, created_at FROM categories WHERE user_id = $1 AND name = $2 AND type = $3`,
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

func (s *PostgresStore) ListCategories(ctx context.Context, userID string, t *core.Type) ([]core.Category, error) {
	query := `SELECT name, type, icon, created_at FROM categories WHERE user_id = $1`
	args := []any{userID}
	if t != nil {
		query += ` AND type = $2`
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

func (s *PostgresStore) DeleteCategory(ctx context.Context, userID, name string, t core.Type) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM categories WHERE user_id = $1 AND name = $2 AND type = $3`,
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

func (s *PostgresStore) CreateTransaction(ctx context.Context, p CreateTransactionParams) (core.Transaction, error) {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tx.ID, tx.UserID, tx.Amount.Cents, string(tx.Type), tx.Category, tx.CategoryIcon,
		tx.Description, tx.Date.Time, tx.CreatedAt)
	if isPGUniqueViolation(err) {
		return core.Transaction{}, ErrExists
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	income, expense := bucketDeltas(tx.Type, tx.Amount)
	if err := applyPGBuckets(ctx, dbTx, tx.UserID, tx.Date, income, expense); err != nil {
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

func applyPGBuckets(ctx context.Context, dbTx *sql.Tx, userID string, d core.Date, incomeCents, expenseCents int64) error {
	_, err := dbTx.ExecContext(ctx,
		`INSERT INTO month_history (user_id, year, month, day, income_cents, expense_cents)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, year, month, day) DO UPDATE SET
		   income_cents = month_history.income_cents + excluded.income_cents,
		   expense_cents = month_history.expense_cents + excluded.expense_cents`,
		userID, d.Year(), d.Month(), d.Day(), incomeCents, expenseCents)
	if err != nil {
		return fmt.Errorf("upsert month history: %w", err)
	}

	_, err = dbTx.ExecContext(ctx,
		`INSERT INTO year_history (user_id, year, month, income_cents, expense_cents)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, year, month) DO UPDATE SET
		   income_cents = year_history.income_cents + excluded.income_cents,
		   expense_cents = year_history.expense_cents + excluded.expense_cents`,
		userID, d.Year(), d.Month(), incomeCents, expenseCents)
	if err != nil {
		return fmt.Errorf("upsert year history: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	return s.getTransaction(ctx, `SELECT id, user_id, amount_cents, type, category, category_icon, description, tx_date, created_at
		FROM transactions WHERE id = $1 AND user_id = $2`, id, userID)
}

func (s *PostgresStore) GetMirrorTransaction(ctx context.Context, id string) (core.Transaction, error) {
	return s.getTransaction(ctx, `SELECT id, user_id, amount_cents, type, category, category_icon, description, tx_date, created_at
		FROM transactions WHERE id = $1`, id)
}

func (s *PostgresStore) getTransaction(ctx context.Context, query string, args ...any) (core.Transaction, error) {
	var (
		t    core.Transaction
		date time.Time
	)
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&t.ID, &t.UserID, &t.Amount.Cents, &t.Type, &t.Category, &t.CategoryIcon,
			&t.Description, &date, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	t.Date = core.DateOf(date)
	return t, nil
}

func (s *PostgresStore) DeleteTransaction(ctx context.Context, userID, id string) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	var (
		amountCents int64
		typ         string
		date        time.Time
	)
	err = dbTx.QueryRowContext(ctx,
		`SELECT amount_cents, type, tx_date FROM transactions WHERE id = $1 AND user_id = $2`, id, userID).
		Scan(&amountCents, &typ, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load transaction for delete: %w", err)
	}

	if _, err := dbTx.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = $1 AND user_id = $2`, id, userID); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	income, expense := bucketDeltas(core.Type(typ), core.Money{Cents: amountCents})
	if err := applyPGBuckets(ctx, dbTx, userID, core.DateOf(date), -income, -expense); err != nil {
		return err
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	slog.InfoContext(ctx, "Transaction deleted",
		"id", id,
		"user_id", userID,
		"amount_cents", amountCents)

	return nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, from, to core.Date) ([]core.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, amount_cents, type, category, category_icon, description, tx_date, created_at
		 FROM transactions
		 WHERE user_id = $1 AND tx_date >= $2 AND tx_date <= $3
		 ORDER BY tx_date DESC, created_at DESC`,
		userID, from.Time, to.Time)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := []core.Transaction{}
	for rows.Next() {
		var (
			t    core.Transaction
			date time.Time
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount.Cents, &t.Type, &t.Category,
			&t.CategoryIcon, &t.Description, &date, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Date = core.DateOf(date)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// Stats

func (s *PostgresStore) GetBalance(ctx context.Context, userID string, from, to core.Date) (core.Balance, error) {
	var b core.Balance
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN type = 'income' THEN amount_cents ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN type = 'expense' THEN amount_cents ELSE 0 END), 0)
		 FROM transactions
		 WHERE user_id = $1 AND tx_date >= $2 AND tx_date <= $3`,
		userID, from.Time, to.Time).
		Scan(&b.Income.Cents, &b.Expense.Cents)
	if err != nil {
		return core.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) GetCategorySums(ctx context.Context, userID string, from, to core.Date) ([]core.CategorySum, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, category, category_icon, SUM(amount_cents)
		 FROM transactions
		 WHERE user_id = $1 AND tx_date >= $2 AND tx_date <= $3
		 GROUP BY type, category, category_icon
		 ORDER BY SUM(amount_cents) DESC`,
		userID, from.Time, to.Time)
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

func (s *PostgresStore) GetHistoryBuckets(ctx context.Context, q HistoricalQuery) ([]core.HistoryBucket, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch q.Timeframe {
	case core.TimeframeMonth:
		rows, err = s.db.QueryContext(ctx,
			`SELECT day, income_cents, expense_cents FROM month_history
			 WHERE user_id = $1 AND year = $2 AND month = $3 ORDER BY day`,
			q.UserID, q.Year, q.Month)
	case core.TimeframeYear:
		rows, err = s.db.QueryContext(ctx,
			`SELECT month, income_cents, expense_cents FROM year_history
			 WHERE user_id = $1 AND year = $2 ORDER BY month`,
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

func (s *PostgresStore) GetHistoryYears(ctx context.Context, userID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT year FROM month_history WHERE user_id = $1 ORDER BY year`, userID)
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

func (s *PostgresStore) ListUnmirrored(ctx context.Context, limit int) ([]MirrorRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, amount_cents, type, category, category_icon, description, tx_date, created_at, mirror_attempts
		 FROM transactions
		 WHERE mirror_status IN ('pending', 'error') AND mirror_attempts < 10
		 ORDER BY created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unmirrored: %w", err)
	}
	defer rows.Close()

	pending := []MirrorRow{}
	for rows.Next() {
		var (
			r    MirrorRow
			date time.Time
		)
		t := &r.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount.Cents, &t.Type, &t.Category,
			&t.CategoryIcon, &t.Description, &date, &t.CreatedAt, &r.Attempts); err != nil {
			return nil, fmt.Errorf("scan unmirrored: %w", err)
		}
		t.Date = core.DateOf(date)
		pending = append(pending, r)
	}
	return pending, rows.Err()
}

func (s *PostgresStore) MarkMirrored(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET mirror_status = 'mirrored' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark mirrored: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkMirrorError(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET mirror_status = 'error', mirror_attempts = mirror_attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark mirror error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
