package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tally/internal/core"
)

// Sentinel errors returned by Store implementations. Callers use errors.Is
// to translate them into HTTP responses.
var (
	ErrNotFound = errors.New("storage: not found")
	ErrExists   = errors.New("storage: already exists")
)

// CreateTransactionParams carries everything needed to record a transaction.
// CategoryIcon is resolved by the store from the category row at write time.
type CreateTransactionParams struct {
	ID          string
	UserID      string
	Amount      core.Money
	Type        core.Type
	Category    string
	Description string
	Date        core.Date
}

// HistoricalQuery selects the history buckets for a stats series.
// Day-level buckets are returned for TimeframeMonth, month-level for
// TimeframeYear; Month is ignored for year queries.
type HistoricalQuery struct {
	UserID    string
	Timeframe core.Timeframe
	Year      int
	Month     int
}

// MirrorRow is a transaction queued for the spreadsheet backup worker.
type MirrorRow struct {
	Transaction core.Transaction
	Attempts    int
}

// SettingsDefaults seeds the lazily created user_settings row. Zero values
// fall back to USD/UTC.
type SettingsDefaults struct {
	Currency string
	Timezone string
}

func (d SettingsDefaults) normalized() SettingsDefaults {
	if d.Currency == "" {
		d.Currency = core.DefaultCurrency
	}
	if d.Timezone == "" {
		d.Timezone = "UTC"
	}
	return d
}

// Store is the persistence surface for the whole application. Both the
// SQLite and Postgres implementations satisfy it; the HTTP layer and the
// mirror worker only ever see this interface.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u core.User) error
	GetUserByEmail(ctx context.Context, email string) (core.User, error)
	GetUser(ctx context.Context, id string) (core.User, error)

	// Settings
	GetUserSettings(ctx context.Context, userID string) (core.UserSettings, error)
	UpdateUserSettings(ctx context.Context, s core.UserSettings) (core.UserSettings, error)

	// Categories
	CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
	GetCategory(ctx context.Context, userID, name string, t core.Type) (core.Category, error)
	ListCategories(ctx context.Context, userID string, t *core.Type) ([]core.Category, error)
	DeleteCategory(ctx context.Context, userID, name string, t core.Type) error

	// Transactions and the aggregate ledger. CreateTransaction and
	// DeleteTransaction each run in a single database transaction that
	// updates the row and both history tables together.
	CreateTransaction(ctx context.Context, p CreateTransactionParams) (core.Transaction, error)
	GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, userID, id string) error
	ListTransactions(ctx context.Context, userID string, from, to core.Date) ([]core.Transaction, error)

	// Stats
	GetBalance(ctx context.Context, userID string, from, to core.Date) (core.Balance, error)
	GetCategorySums(ctx context.Context, userID string, from, to core.Date) ([]core.CategorySum, error)
	GetHistoryBuckets(ctx context.Context, q HistoricalQuery) ([]core.HistoryBucket, error)
	GetHistoryYears(ctx context.Context, userID string) ([]int, error)

	// Mirror bookkeeping for the spreadsheet backup worker.
	GetMirrorTransaction(ctx context.Context, id string) (core.Transaction, error)
	ListUnmirrored(ctx context.Context, limit int) ([]MirrorRow, error)
	MarkMirrored(ctx context.Context, id string) error
	MarkMirrorError(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}

// Open builds a Store for the configured backend.
func Open(backend, sqlitePath, postgresURL string, defaults SettingsDefaults) (Store, error) {
	switch backend {
	case "sqlite":
		return NewSQLiteStore(sqlitePath, defaults)
	case "postgres":
		return NewPostgresStore(postgresURL, defaults)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// nowUTC exists so tests can pin transaction timestamps.
var nowUTC = func() time.Time { return time.Now().UTC() }
