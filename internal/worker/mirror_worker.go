package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/sheets"
	"tally/internal/storage"
)

// MirrorWorker copies committed transactions into the backup spreadsheet.
// The hot path is AMQP driven; the catch-up passes exist because mirror
// messages are fire-and-forget on the write side.
type MirrorWorker struct {
	store     storage.Store
	appender  sheets.RowAppender
	batchSize int
}

func NewMirrorWorker(store storage.Store, appender sheets.RowAppender, batchSize int) *MirrorWorker {
	return &MirrorWorker{
		store:     store,
		appender:  appender,
		batchSize: batchSize,
	}
}

// HandleMirrorMessage processes one AMQP mirror message. The row is fetched
// fresh from the store; a transaction deleted between publish and consume is
// simply skipped.
func (w *MirrorWorker) HandleMirrorMessage(ctx context.Context, msg *amqp.TransactionMirrorMessage) error {
	slog.InfoContext(ctx, "Processing mirror message", "id", msg.ID)

	tx, err := w.store.GetMirrorTransaction(ctx, msg.ID)
	if errors.Is(err, storage.ErrNotFound) {
		slog.WarnContext(ctx, "Transaction gone before mirroring, skipping", "id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}

	return w.mirror(ctx, tx.ID, tx)
}

// ProcessPending mirrors one batch of rows that never got a message through.
func (w *MirrorWorker) ProcessPending(ctx context.Context) error {
	return w.processBatch(ctx, w.batchSize)
}

// StartupCheck drains a larger backlog once at worker boot, recovering from
// downtime or lost messages.
func (w *MirrorWorker) StartupCheck(ctx context.Context) error {
	pending, err := w.store.ListUnmirrored(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("list unmirrored for startup check: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "No unmirrored transactions found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found unmirrored transactions on startup, processing...",
		"count", len(pending))

	var synced, failed int
	for _, row := range pending {
		if err := w.mirror(ctx, row.Transaction.ID, row.Transaction); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror transaction during startup",
				"id", row.Transaction.ID, "error", err)
			failed++
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Startup mirror check completed",
		"total", len(pending),
		"mirrored", synced,
		"errors", failed)

	return nil
}

func (w *MirrorWorker) processBatch(ctx context.Context, limit int) error {
	pending, err := w.store.ListUnmirrored(ctx, limit)
	if err != nil {
		return fmt.Errorf("list unmirrored: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing unmirrored transactions", "count", len(pending))

	for _, row := range pending {
		if err := w.mirror(ctx, row.Transaction.ID, row.Transaction); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror transaction",
				"id", row.Transaction.ID, "attempts", row.Attempts, "error", err)
		}
	}

	return nil
}

func (w *MirrorWorker) mirror(ctx context.Context, id string, tx core.Transaction) error {
	ref, err := w.appender.AppendTransaction(ctx, tx)
	if err != nil {
		if markErr := w.store.MarkMirrorError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark mirror error", "id", id, "error", markErr)
		}
		return fmt.Errorf("append to sheets: %w", err)
	}

	if err := w.store.MarkMirrored(ctx, id); err != nil {
		// The append worked; losing the mark only means one duplicate row
		// on the next catch-up.
		slog.ErrorContext(ctx, "Failed to mark as mirrored", "id", id, "error", err)
	}

	slog.InfoContext(ctx, "Mirrored transaction",
		"id", id,
		"sheets_ref", ref,
		"amount_cents", tx.Amount.Cents)

	return nil
}
