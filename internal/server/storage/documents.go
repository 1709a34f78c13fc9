package storage

import (
	"context"

	"github.com/iudanet/decksync/internal/models"
	"github.com/iudanet/decksync/pkg/api"
)

// PushResult is the outcome of one push batch.
type PushResult struct {
	// Changed holds the rows that were written, as stored (with the server stamp).
	Changed []*models.Document
	// Conflicts holds the rows that were rejected, with the current master state.
	Conflicts []models.ConflictRecord
}

// DocumentStorage defines the principal-scoped row store behind replication.
// Every method only ever sees rows owned by userID.
type DocumentStorage interface {
	// PullDocuments returns up to limit documents positioned strictly after cp,
	// ordered by (effective updatedAt, id) ascending. Tombstones are included.
	// A nil cp starts from the beginning.
	PullDocuments(ctx context.Context, userID string, entity models.Entity, cp *api.Checkpoint, limit int) ([]*models.Document, error)

	// GetDocuments returns the listed documents (tombstones included) with their
	// effective timestamps, ordered like PullDocuments. Missing ids are skipped.
	GetDocuments(ctx context.Context, userID string, entity models.Entity, ids []string) ([]*models.Document, error)

	// ApplyPush checks every row against the current master state and writes the
	// accepted ones with updatedAt = stamp. The whole batch runs in one transaction:
	// two concurrent pushes on the same row cannot both win.
	ApplyPush(ctx context.Context, userID, entity string, rows []api.PushRow, stamp int64) (*PushResult, error)

	// TombstoneDocuments marks the listed live documents as deleted with updatedAt = stamp
	// and returns the new tombstones. Already deleted or missing ids are skipped.
	TombstoneDocuments(ctx context.Context, userID, entity string, ids []string, stamp int64) ([]*models.Document, error)

	// MaxUpdatedAt returns the newest stamp in the store, 0 if it is empty.
	MaxUpdatedAt(ctx context.Context) (int64, error)
}
