package storage

import (
	"context"

	"github.com/iudanet/decksync/pkg/api"
)

// CheckpointStorage persists how far pull catch-up has progressed per entity
type CheckpointStorage interface {
	// GetCheckpoint returns the saved checkpoint, nil if the entity was never pulled
	GetCheckpoint(ctx context.Context, entity string) (*api.Checkpoint, error)

	// SaveCheckpoint stores cp; nil removes it so the next catch-up starts from the beginning
	SaveCheckpoint(ctx context.Context, entity string, cp *api.Checkpoint) error
}
