package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/decksync/pkg/api"
)

// GetCheckpoint returns the saved pull checkpoint of the entity, nil if there is none
func (s *Storage) GetCheckpoint(ctx context.Context, entity string) (*api.Checkpoint, error) {
	var cp *api.Checkpoint

	err := s.view(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCheckpoints).Get([]byte(entity))
		if data == nil {
			return nil
		}

		cp = &api.Checkpoint{}
		if err := json.Unmarshal(data, cp); err != nil {
			return fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint for %s: %w", entity, err)
	}

	return cp, nil
}

// SaveCheckpoint stores the checkpoint; nil removes it
func (s *Storage) SaveCheckpoint(ctx context.Context, entity string, cp *api.Checkpoint) error {
	err := s.update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCheckpoints)
		if cp == nil {
			return bucket.Delete([]byte(entity))
		}

		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}
		return bucket.Put([]byte(entity), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", entity, err)
	}
	return nil
}
