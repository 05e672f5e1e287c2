package memory

import (
	"context"
	"fmt"
	"sync"

	"tally/internal/core"
)

// Appender is an in-memory sheets.RowAppender used in tests and local runs
// without Google credentials.
type Appender struct {
	mu   sync.Mutex
	rows []core.Transaction

	// FailWith, when set, makes every append return this error.
	FailWith error
}

func New() *Appender {
	return &Appender{}
}

// AppendTransaction stores the row and returns a synthetic reference.
func (a *Appender) AppendTransaction(_ context.Context, tx core.Transaction) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailWith != nil {
		return "", a.FailWith
	}
	a.rows = append(a.rows, tx)
	return fmt.Sprintf("mem:%d", len(a.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (a *Appender) Rows() []core.Transaction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]core.Transaction(nil), a.rows...)
}
