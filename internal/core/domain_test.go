package core

import (
	"errors"
	"testing"
	"time"
)

func TestTransactionValidate(t *testing.T) {
	valid := Transaction{
		Amount:   Money{Cents: 1000},
		Type:     Expense,
		Category: "Food",
		Date:     NewDate(2024, 3, 15),
	}

	tests := []struct {
		name    string
		mutate  func(*Transaction)
		wantErr error
	}{
		{name: "valid", mutate: func(*Transaction) {}},
		{
			name:    "zero amount",
			mutate:  func(tx *Transaction) { tx.Amount = Money{} },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			mutate:  func(tx *Transaction) { tx.Amount = Money{Cents: -100} },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "bad type",
			mutate:  func(tx *Transaction) { tx.Type = "transfer" },
			wantErr: ErrInvalidType,
		},
		{
			name:    "empty category",
			mutate:  func(tx *Transaction) { tx.Category = "  " },
			wantErr: ErrEmptyCategory,
		},
		{
			name: "long description",
			mutate: func(tx *Transaction) {
				for i := 0; i < 201; i++ {
					tx.Description += "x"
				}
			},
			wantErr: ErrDescriptionLen,
		},
		{
			name:    "zero date",
			mutate:  func(tx *Transaction) { tx.Date = Date{} },
			wantErr: ErrInvalidDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := valid
			tt.mutate(&tx)
			err := tx.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCategoryValidate(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		wantErr  error
	}{
		{name: "valid", category: Category{Name: "Food", Icon: "🍕", Type: Expense}},
		{name: "name too short", category: Category{Name: "ab", Type: Expense}, wantErr: ErrCategoryName},
		{name: "name too long", category: Category{Name: "abcdefghijklmnopqrstu", Type: Income}, wantErr: ErrCategoryName},
		{name: "icon too long", category: Category{Name: "Food", Icon: "123456789012345678901", Type: Expense}, wantErr: ErrCategoryIcon},
		{name: "multibyte icon counts characters", category: Category{Name: "Food", Icon: "💰💰💰💰💰💰", Type: Income}},
		{name: "multibyte name counts characters", category: Category{Name: "日本", Type: Expense}, wantErr: ErrCategoryName},
		{name: "three multibyte characters is a valid name", category: Category{Name: "食べ物", Icon: "🍱", Type: Expense}},
		{name: "bad type", category: Category{Name: "Food", Type: "asset"}, wantErr: ErrInvalidType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.category.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDateOfTruncatesToUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 2024-03-16 02:30 in UTC+9 is still 2024-03-15 in UTC.
	instant := time.Date(2024, 3, 16, 2, 30, 0, 0, loc)

	d := DateOf(instant)
	if d.Year() != 2024 || d.Month() != 3 || d.Day() != 15 {
		t.Errorf("DateOf() = %s, want 2024-03-15", d)
	}
	if h, m, s := d.Clock(); h != 0 || m != 0 || s != 0 {
		t.Errorf("DateOf() time component = %02d:%02d:%02d, want midnight", h, m, s)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-03-15")
	if err != nil {
		t.Fatalf("ParseDate() error = %v", err)
	}
	if d.String() != "2024-03-15" {
		t.Errorf("ParseDate() = %s, want 2024-03-15", d)
	}

	if _, err := ParseDate("15/03/2024"); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("ParseDate(15/03/2024) error = %v, want ErrInvalidDate", err)
	}
}

func TestTimeframeValid(t *testing.T) {
	if !TimeframeMonth.Valid() || !TimeframeYear.Valid() {
		t.Error("month and year timeframes should be valid")
	}
	if Timeframe("week").Valid() {
		t.Error("week should not be a valid timeframe")
	}
}
