package core

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	Income  Type = "income"
	Expense Type = "expense"
)

const (
	TimeframeMonth Timeframe = "month"
	TimeframeYear  Timeframe = "year"
)

type (
	// Type marks a transaction or category as money coming in or going out.
	Type string

	// Timeframe selects the granularity of a historical-data query:
	// daily buckets for one month, or monthly buckets for one year.
	Timeframe string

	// Date is a calendar day, UTC-normalized. The time component is always
	// midnight UTC.
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Transaction is one ledger entry. Category and CategoryIcon are
	// denormalized snapshots taken at creation time, so deleting or renaming
	// the category later does not corrupt history. Immutable once created.
	Transaction struct {
		ID           string    `json:"id"`
		UserID       string    `json:"userId"`
		Amount       Money     `json:"amount"`
		Type         Type      `json:"type"`
		Category     string    `json:"category"`
		CategoryIcon string    `json:"categoryIcon"`
		Description  string    `json:"description"`
		Date         Date      `json:"date"`
		CreatedAt    time.Time `json:"createdAt"`
	}

	// Category identity is the (UserID, Name, Type) triple: the same name can
	// exist once as an income category and once as an expense category.
	Category struct {
		UserID    string    `json:"-"`
		Name      string    `json:"name"`
		Icon      string    `json:"icon"`
		Type      Type      `json:"type"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// HistoryBucket is one pre-aggregated summary row. Day is zero for the
	// month-per-year tier.
	HistoryBucket struct {
		Year    int   `json:"year"`
		Month   int   `json:"month"`
		Day     int   `json:"day,omitempty"`
		Income  Money `json:"income"`
		Expense Money `json:"expense"`
	}

	// Balance is the income/expense totals over a date range.
	Balance struct {
		Income  Money `json:"income"`
		Expense Money `json:"expense"`
	}

	// CategorySum is one row of the per-category stats query.
	CategorySum struct {
		Type         Type   `json:"type"`
		Category     string `json:"category"`
		CategoryIcon string `json:"categoryIcon"`
		Sum          Money  `json:"sum"`
	}

	// Period anchors a historical-data query. Month is ignored for the year
	// timeframe.
	Period struct {
		Year  int
		Month int
	}

	UserSettings struct {
		UserID   string `json:"-"`
		Currency string `json:"currency"`
		Timezone string `json:"timezone"`
	}

	User struct {
		ID           string    `json:"id"`
		Email        string    `json:"email"`
		PasswordHash string    `json:"-"`
		CreatedAt    time.Time `json:"createdAt"`
	}
)

var (
	ErrInvalidType      = errors.New("type must be income or expense")
	ErrInvalidTimeframe = errors.New("timeframe must be month or year")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDate      = errors.New("invalid date")
	ErrCategoryName     = errors.New("category name must be 3-20 characters")
	ErrCategoryIcon     = errors.New("category icon too long (max 20 characters)")
	ErrDescriptionLen   = errors.New("description too long (max 200 characters)")
	ErrEmptyCategory    = errors.New("empty category")
)

func (t Type) Valid() bool {
	return t == Income || t == Expense
}

func (tf Timeframe) Valid() bool {
	return tf == TimeframeMonth || tf == TimeframeYear
}

// NewDate builds a Date from calendar parts. Month is 1-12.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), int(u.Month()), u.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Year() int  { return d.Time.Year() }
func (d Date) Month() int { return int(d.Time.Month()) }
func (d Date) Day() int   { return d.Time.Day() }

func (d Date) String() string {
	return d.Time.Format("2006-01-02")
}

// After reports whether d falls on a later calendar day than other.
func (d Date) After(other Date) bool {
	return d.Time.After(other.Time)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (tx Transaction) Validate() error {
	if err := tx.Amount.Validate(); err != nil {
		return err
	}
	if !tx.Type.Valid() {
		return ErrInvalidType
	}
	if strings.TrimSpace(tx.Category) == "" {
		return ErrEmptyCategory
	}
	if len(tx.Description) > 200 {
		return ErrDescriptionLen
	}
	return tx.Date.Validate()
}

func (c Category) Validate() error {
	// Limits count characters, not bytes: icons are usually emoji.
	if n := utf8.RuneCountInString(strings.TrimSpace(c.Name)); n < 3 || n > 20 {
		return ErrCategoryName
	}
	if utf8.RuneCountInString(c.Icon) > 20 {
		return ErrCategoryIcon
	}
	if !c.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}
