package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"tally/internal/core"
	"tally/internal/storage"
)

// MirrorPublisher is what TransactionService needs from the AMQP client.
type MirrorPublisher interface {
	PublishTransactionMirror(ctx context.Context, id, userID string) error
}

// CreateTransactionInput is the validated user intent for a new transaction.
type CreateTransactionInput struct {
	Amount      core.Money
	Type        core.Type
	Category    string
	Description string
	Date        core.Date
}

// TransactionService orchestrates the ledger write path: validate, persist
// atomically, then announce the new row to the mirror worker.
type TransactionService struct {
	store     storage.Store
	publisher MirrorPublisher
}

func NewTransactionService(store storage.Store, publisher MirrorPublisher) *TransactionService {
	return &TransactionService{
		store:     store,
		publisher: publisher,
	}
}

// Create persists the transaction and its history buckets. The mirror
// message is best effort: the catch-up pass picks up anything that never
// made it onto the queue.
func (s *TransactionService) Create(ctx context.Context, userID string, in CreateTransactionInput) (core.Transaction, error) {
	candidate := core.Transaction{
		Amount:      in.Amount,
		Type:        in.Type,
		Category:    in.Category,
		Description: in.Description,
		Date:        in.Date,
	}
	if err := candidate.Validate(); err != nil {
		return core.Transaction{}, err
	}

	tx, err := s.store.CreateTransaction(ctx, storage.CreateTransactionParams{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      in.Amount,
		Type:        in.Type,
		Category:    in.Category,
		Description: in.Description,
		Date:        in.Date,
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishTransactionMirror(ctx, tx.ID, tx.UserID); err != nil {
			slog.ErrorContext(ctx, "Failed to publish mirror message",
				"id", tx.ID, "error", err)
		}
	} else {
		slog.WarnContext(ctx, "Mirror publisher not available, relying on catch-up")
	}

	return tx, nil
}

// Delete removes the transaction, reverting its buckets with it.
func (s *TransactionService) Delete(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteTransaction(ctx, userID, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return nil
}

func (s *TransactionService) Get(ctx context.Context, userID, id string) (core.Transaction, error) {
	return s.store.GetTransaction(ctx, userID, id)
}

// List returns the user's ledger entries in the date range, newest first.
func (s *TransactionService) List(ctx context.Context, userID string, from, to core.Date) ([]core.Transaction, error) {
	if from.After(to) {
		return nil, core.ErrInvalidDate
	}
	return s.store.ListTransactions(ctx, userID, from, to)
}
