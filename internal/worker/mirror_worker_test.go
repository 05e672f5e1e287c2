package worker

import (
	"context"
	"errors"
	"testing"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/sheets/memory"
	"tally/internal/storage"
)

type fakeStore struct {
	storage.Store

	byID      map[string]core.Transaction
	pending   []storage.MirrorRow
	mirrored  []string
	errored   []string
	markError error
}

func (f *fakeStore) GetMirrorTransaction(_ context.Context, id string) (core.Transaction, error) {
	tx, ok := f.byID[id]
	if !ok {
		return core.Transaction{}, storage.ErrNotFound
	}
	return tx, nil
}

func (f *fakeStore) ListUnmirrored(_ context.Context, limit int) ([]storage.MirrorRow, error) {
	if limit < len(f.pending) {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeStore) MarkMirrored(_ context.Context, id string) error {
	f.mirrored = append(f.mirrored, id)
	return nil
}

func (f *fakeStore) MarkMirrorError(_ context.Context, id string) error {
	f.errored = append(f.errored, id)
	return f.markError
}

func sampleTx(id string) core.Transaction {
	return core.Transaction{
		ID:       id,
		UserID:   "u1",
		Amount:   core.Money{Cents: 4999},
		Type:     core.Expense,
		Category: "Groceries",
		Date:     core.NewDate(2024, 3, 15),
	}
}

func TestHandleMirrorMessage(t *testing.T) {
	store := &fakeStore{byID: map[string]core.Transaction{"tx1": sampleTx("tx1")}}
	appender := memory.New()
	w := NewMirrorWorker(store, appender, 25)

	err := w.HandleMirrorMessage(context.Background(), amqp.NewTransactionMirrorMessage("tx1", "u1"))
	if err != nil {
		t.Fatalf("HandleMirrorMessage() error = %v", err)
	}

	rows := appender.Rows()
	if len(rows) != 1 || rows[0].ID != "tx1" {
		t.Fatalf("appended rows = %+v", rows)
	}
	if len(store.mirrored) != 1 || store.mirrored[0] != "tx1" {
		t.Errorf("mirrored = %v, want [tx1]", store.mirrored)
	}
}

// A message for a row deleted in the meantime is acked, not requeued forever.
func TestHandleMirrorMessageGoneRow(t *testing.T) {
	store := &fakeStore{byID: map[string]core.Transaction{}}
	w := NewMirrorWorker(store, memory.New(), 25)

	err := w.HandleMirrorMessage(context.Background(), amqp.NewTransactionMirrorMessage("ghost", "u1"))
	if err != nil {
		t.Errorf("HandleMirrorMessage(gone row) error = %v, want nil", err)
	}
}

func TestHandleMirrorMessageAppendFailure(t *testing.T) {
	store := &fakeStore{byID: map[string]core.Transaction{"tx1": sampleTx("tx1")}}
	appender := memory.New()
	appender.FailWith = errors.New("quota exceeded")
	w := NewMirrorWorker(store, appender, 25)

	err := w.HandleMirrorMessage(context.Background(), amqp.NewTransactionMirrorMessage("tx1", "u1"))
	if err == nil {
		t.Fatal("HandleMirrorMessage() succeeded despite append failure")
	}
	if len(store.errored) != 1 || store.errored[0] != "tx1" {
		t.Errorf("errored = %v, want [tx1]", store.errored)
	}
	if len(store.mirrored) != 0 {
		t.Errorf("mirrored = %v, want empty", store.mirrored)
	}
}

func TestProcessPending(t *testing.T) {
	store := &fakeStore{pending: []storage.MirrorRow{
		{Transaction: sampleTx("tx1")},
		{Transaction: sampleTx("tx2"), Attempts: 2},
	}}
	appender := memory.New()
	w := NewMirrorWorker(store, appender, 25)

	if err := w.ProcessPending(context.Background()); err != nil {
		t.Fatalf("ProcessPending() error = %v", err)
	}
	if got := len(appender.Rows()); got != 2 {
		t.Errorf("appended %d rows, want 2", got)
	}
	if len(store.mirrored) != 2 {
		t.Errorf("mirrored = %v, want both", store.mirrored)
	}
}

func TestStartupCheckUsesLargerBatch(t *testing.T) {
	var pending []storage.MirrorRow
	for _, id := range []string{"a", "b", "c"} {
		pending = append(pending, storage.MirrorRow{Transaction: sampleTx(id)})
	}
	store := &fakeStore{pending: pending}
	appender := memory.New()
	w := NewMirrorWorker(store, appender, 1)

	if err := w.StartupCheck(context.Background()); err != nil {
		t.Fatalf("StartupCheck() error = %v", err)
	}
	// batchSize*5 covers all three even with batchSize 1.
	if got := len(appender.Rows()); got != 3 {
		t.Errorf("appended %d rows, want 3", got)
	}
}
