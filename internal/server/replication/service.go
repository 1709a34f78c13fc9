// Package replication implements the pull and push endpoints of the change-replication protocol.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/iudanet/decksync/internal/clock"
	"github.com/iudanet/decksync/internal/models"
	"github.com/iudanet/decksync/internal/server/pubsub"
	"github.com/iudanet/decksync/internal/server/storage"
	"github.com/iudanet/decksync/pkg/api"
)

var (
	// ErrInvalidBatchSize indicates a pull batch size outside 1..MaxBatchSize
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrInvalidRequest indicates a structurally invalid push or bulk delete
	ErrInvalidRequest = errors.New("invalid request")
)

// DefaultBulkResyncThreshold is the bulk delete size above which subscribers get RESYNC
// instead of the full list of tombstones.
const DefaultBulkResyncThreshold = 100

// Config holds tunables of the replication service.
type Config struct {
	MaxBatchSize        int
	BulkResyncThreshold int
}

// Service serves pull, push and bulk delete for every entity of the catalog
// and publishes accepted changes to the live streams.
type Service struct {
	logger     *slog.Logger
	storage    storage.DocumentStorage
	catalog    *models.Catalog
	publishers *pubsub.Registry
	clock      *clock.Clock
	locks      *keyedMutex
	cfg        Config
}

// NewService creates a new replication service
func NewService(
	logger *slog.Logger,
	store storage.DocumentStorage,
	catalog *models.Catalog,
	publishers *pubsub.Registry,
	clk *clock.Clock,
	cfg Config,
) *Service {
	if cfg.MaxBatchSize <= 0 || cfg.MaxBatchSize > api.MaxBatchSize {
		cfg.MaxBatchSize = api.MaxBatchSize
	}
	if cfg.BulkResyncThreshold <= 0 {
		cfg.BulkResyncThreshold = DefaultBulkResyncThreshold
	}

	return &Service{
		logger:     logger,
		storage:    store,
		catalog:    catalog,
		publishers: publishers,
		clock:      clk,
		locks:      newKeyedMutex(),
		cfg:        cfg,
	}
}

// Pull returns the next page of changes after req.Checkpoint.
// A malformed checkpoint is treated as null and restarts the feed from the beginning.
func (s *Service) Pull(ctx context.Context, userID, entityName string, req api.PullRequest) (*api.PullResponse, error) {
	entity, err := s.catalog.Get(entityName)
	if err != nil {
		return nil, err
	}

	if req.BatchSize < 1 || req.BatchSize > s.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidBatchSize, req.BatchSize, s.cfg.MaxBatchSize)
	}

	cp := models.NormalizeCheckpoint(req.Checkpoint)
	if cp == nil && req.Checkpoint != nil {
		s.logger.WarnContext(ctx, "Malformed checkpoint, restarting from the beginning",
			"user_id", userID,
			"entity", entityName,
			"checkpoint_id", req.Checkpoint.ID,
			"checkpoint_updated_at", req.Checkpoint.UpdatedAt)
	}

	page, err := s.storage.PullDocuments(ctx, userID, entity, cp, req.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to pull %s: %w", entityName, err)
	}

	return &api.PullResponse{
		Documents:  models.ToAPIDocuments(page),
		Checkpoint: models.NextCheckpoint(page, cp),
	}, nil
}

// Push applies a batch of client writes. Rows whose assumed master state is stale
// are not applied and come back as conflicts carrying the current server state.
// Accepted rows are published as one change event after the batch commits.
func (s *Service) Push(ctx context.Context, userID, entityName string, req api.PushRequest) (*api.PushResponse, error) {
	entity, err := s.catalog.Get(entityName)
	if err != nil {
		return nil, err
	}

	for i, row := range req.Rows {
		if err := entity.Validate(row.NewDocumentState); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if row.AssumedMasterState != nil && row.AssumedMasterState.ID != row.NewDocumentState.ID {
			return nil, fmt.Errorf("%w: row %d: assumed master state id %q differs from %q",
				ErrInvalidRequest, i, row.AssumedMasterState.ID, row.NewDocumentState.ID)
		}
	}

	resp := &api.PushResponse{Conflicts: []api.Document{}}
	if len(req.Rows) == 0 {
		return resp, nil
	}

	// Метка берется и публикуется под блокировкой пользователя, поэтому
	// чекпоинты в live-потоке одной сущности только растут
	unlock := s.locks.Lock(userID)
	defer unlock()

	stamp := s.clock.Tick()

	result, err := s.storage.ApplyPush(ctx, userID, entityName, req.Rows, stamp)
	if err != nil {
		return nil, fmt.Errorf("failed to apply push: %w", err)
	}

	s.publishChanges(ctx, userID, entityName, result.Changed)

	for _, c := range result.Conflicts {
		resp.Conflicts = append(resp.Conflicts, c.CurrentMasterState)
	}

	s.logger.InfoContext(ctx, "Push applied",
		"user_id", userID,
		"entity", entityName,
		"rows", len(req.Rows),
		"changed", len(result.Changed),
		"conflicts", len(result.Conflicts))

	return resp, nil
}

// BulkDelete tombstones the listed documents. When more rows change than the
// bulk threshold, subscribers get RESYNC instead of the tombstones.
func (s *Service) BulkDelete(ctx context.Context, userID, entityName string, req api.BulkDeleteRequest) (*api.BulkDeleteResponse, error) {
	if _, err := s.catalog.Get(entityName); err != nil {
		return nil, err
	}
	if len(req.IDs) == 0 {
		return &api.BulkDeleteResponse{}, nil
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	deleted, err := s.storage.TombstoneDocuments(ctx, userID, entityName, req.IDs, s.clock.Tick())
	if err != nil {
		return nil, fmt.Errorf("failed to delete documents: %w", err)
	}

	if len(deleted) > s.cfg.BulkResyncThreshold {
		s.publish(ctx, userID, entityName, api.Resync())
	} else {
		s.publishChanges(ctx, userID, entityName, deleted)
	}

	s.logger.InfoContext(ctx, "Bulk delete applied",
		"user_id", userID,
		"entity", entityName,
		"requested", len(req.IDs),
		"deleted", len(deleted))

	return &api.BulkDeleteResponse{Deleted: len(deleted)}, nil
}

// publishChanges sends changed rows as one event keyed by the last row and
// republishes documents whose feed position moved because a link now points at them.
func (s *Service) publishChanges(ctx context.Context, userID, entityName string, changed []*models.Document) {
	if len(changed) == 0 {
		return
	}

	s.publishDocuments(ctx, userID, entityName, changed)

	for _, target := range s.catalog.LinkedFrom(entityName) {
		ids := linkedIDs(changed, target.LinkedBy.Field)
		if len(ids) == 0 {
			continue
		}

		docs, err := s.storage.GetDocuments(ctx, userID, target, ids)
		if err != nil {
			// Позиция документов уже сдвинулась: без RESYNC следующее событие
			// продвинет checkpoint клиента мимо них
			s.logger.ErrorContext(ctx, "Failed to load linked documents",
				"user_id", userID,
				"entity", target.Name,
				"error", err)
			s.publish(ctx, userID, target.Name, api.Resync())
			continue
		}
		s.publishDocuments(ctx, userID, target.Name, docs)
	}
}

func (s *Service) publishDocuments(ctx context.Context, userID, entityName string, docs []*models.Document) {
	if len(docs) == 0 {
		return
	}

	sorted := make([]*models.Document, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Position().Less(sorted[j].Position())
	})

	s.publish(ctx, userID, entityName, api.Changes(models.ToAPIDocuments(sorted), models.NextCheckpoint(sorted, nil)))
}

func (s *Service) publish(ctx context.Context, userID, entityName string, ev api.Event) {
	p, err := s.publishers.Get(entityName)
	if err != nil {
		s.logger.ErrorContext(ctx, "No publisher for entity", "entity", entityName, "error", err)
		return
	}
	p.Publish(userID, ev)
}

// linkedIDs collects the distinct string values of field in live link documents.
func linkedIDs(links []*models.Document, field string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, l := range links {
		if l.Deleted {
			continue
		}
		id, ok := l.Fields[field].(string)
		if !ok || id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
