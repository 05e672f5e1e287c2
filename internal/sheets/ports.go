package sheets

import (
	"context"

	"tally/internal/core"
)

// RowAppender is the outbound port for the spreadsheet backup. The worker
// appends one row per mirrored transaction and keeps the returned reference
// for its logs.
type RowAppender interface {
	AppendTransaction(ctx context.Context, tx core.Transaction) (rowRef string, err error)
}
