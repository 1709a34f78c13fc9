package replication

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/iudanet/decksync/internal/client/storage"
	"github.com/iudanet/decksync/internal/models"
	"github.com/iudanet/decksync/pkg/api"
)

// State of a replication driver
type State int32

const (
	StateInitialSync State = iota
	StateLive
	StateResyncing
	StateCancelled
)

// String implements fmt.Stringer
func (s State) String() string {
	switch s {
	case StateInitialSync:
		return "INITIAL_SYNC"
	case StateLive:
		return "LIVE"
	case StateResyncing:
		return "RESYNCING"
	case StateCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// DefaultRetryInterval is how long a driver waits before retrying a failed catch-up or push
const DefaultRetryInterval = 5 * time.Second

// LocalStore is what a driver needs from the client storage
type LocalStore interface {
	storage.DocumentStorage
	storage.CheckpointStorage
}

// ConflictResolver decides what happens to a local edit the server rejected.
// Tombstones are final on the server, so a deleted server state is accepted
// without asking the resolver.
type ConflictResolver interface {
	// Resolve returns nil to accept server as the new local state, or a document
	// to push again with server as the assumed master state.
	Resolve(ctx context.Context, entity string, fork, server api.Document) (*api.Document, error)
}

// ServerWins accepts the server state for every conflict
type ServerWins struct{}

// Resolve implements ConflictResolver
func (ServerWins) Resolve(context.Context, string, api.Document, api.Document) (*api.Document, error) {
	return nil, nil
}

// DriverConfig holds tunables of a driver
type DriverConfig struct {
	Resolver      ConflictResolver
	BatchSize     int
	RetryInterval time.Duration
}

// SyncResult summarises one catch-up and push round
type SyncResult struct {
	Pulled    int
	Pushed    int
	Conflicts int
}

// Driver replicates one entity between the server and the local store.
// Catch-up, push and live events of one entity are applied by one goroutine.
type Driver struct {
	logger   *slog.Logger
	remote   Remote
	store    LocalStore
	token    TokenSource
	resolver ConflictResolver
	pushes   chan struct{}
	entity   string
	cfg      DriverConfig
	state    atomic.Int32
}

// NewDriver creates a driver for entity
func NewDriver(logger *slog.Logger, entity string, remote Remote, store LocalStore, token TokenSource, cfg DriverConfig) *Driver {
	if cfg.BatchSize <= 0 || cfg.BatchSize > api.MaxBatchSize {
		cfg.BatchSize = api.MaxBatchSize
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = ServerWins{}
	}

	return &Driver{
		logger:   logger.With("entity", entity),
		remote:   remote,
		store:    store,
		token:    token,
		resolver: resolver,
		pushes:   make(chan struct{}, 1),
		entity:   entity,
		cfg:      cfg,
	}
}

// Entity returns the entity tag of the driver
func (d *Driver) Entity() string {
	return d.entity
}

// State returns the current state
func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(s State) {
	if prev := State(d.state.Swap(int32(s))); prev != s {
		d.logger.Debug("Driver state changed", "from", prev, "to", s)
	}
}

// NotifyLocalWrite asks a running driver to push pending local edits
func (d *Driver) NotifyLocalWrite() {
	select {
	case d.pushes <- struct{}{}:
	default:
	}
}

// CatchUp pulls pages from the saved checkpoint until a short page arrives.
// Each page is stored before its checkpoint, so an interrupted catch-up resumes
// from the last completed page.
func (d *Driver) CatchUp(ctx context.Context) (int, error) {
	cp, err := d.store.GetCheckpoint(ctx, d.entity)
	if err != nil {
		return 0, err
	}

	token, err := d.token(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get access token: %w", err)
	}

	pulled := 0
	for {
		resp, err := d.remote.Pull(ctx, token, d.entity, api.PullRequest{Checkpoint: cp, BatchSize: d.cfg.BatchSize})
		if err != nil {
			return pulled, err
		}

		if len(resp.Documents) > 0 {
			if _, err := d.store.ApplyRemote(ctx, d.entity, resp.Documents); err != nil {
				return pulled, err
			}
			pulled += len(resp.Documents)
		}

		// Пустая страница возвращает тот же checkpoint, nil - сервер отбросил наш
		if next := resp.Checkpoint; !sameCheckpoint(next, cp) {
			if err := d.store.SaveCheckpoint(ctx, d.entity, next); err != nil {
				return pulled, err
			}
			cp = next
		}

		if len(resp.Documents) < d.cfg.BatchSize {
			d.logger.Debug("Caught up", "pulled", pulled, "checkpoint", cp)
			return pulled, nil
		}
	}
}

// Push sends pending local edits in batches and settles conflicts.
// When anything was accepted a catch-up follows, so the versions stamped
// by the server become the new master states.
func (d *Driver) Push(ctx context.Context) (SyncResult, error) {
	var result SyncResult

	token, err := d.token(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to get access token: %w", err)
	}

	for {
		dirty, err := d.store.DirtyDocuments(ctx, d.entity, d.cfg.BatchSize)
		if err != nil {
			return result, err
		}
		if len(dirty) == 0 {
			break
		}

		accepted, conflicts, err := d.pushBatch(ctx, token, dirty)
		result.Pushed += accepted
		result.Conflicts += conflicts
		if err != nil {
			return result, err
		}

		// Конфликт меняет master или снимает dirty, поэтому следующий пакет продвигается
		if accepted+conflicts == 0 {
			break
		}
	}

	if result.Pushed > 0 {
		pulled, err := d.CatchUp(ctx)
		result.Pulled += pulled
		if err != nil {
			return result, err
		}
	}

	return result, nil
}

// pushBatch returns the number of accepted rows and conflicts
func (d *Driver) pushBatch(ctx context.Context, token string, dirty []*storage.LocalDocument) (accepted, conflicts int, err error) {
	rows := make([]api.PushRow, 0, len(dirty))
	byID := make(map[string]*storage.LocalDocument, len(dirty))
	for _, doc := range dirty {
		rows = append(rows, doc.PushRow())
		byID[doc.Fork.ID] = doc
	}

	resp, err := d.remote.Push(ctx, token, d.entity, api.PushRequest{Rows: rows})
	if err != nil {
		return 0, 0, err
	}

	settled := 0
	resolutions := make([]storage.Resolution, 0, len(resp.Conflicts))
	for _, server := range resp.Conflicts {
		local, ok := byID[server.ID]
		if !ok {
			d.logger.Warn("Conflict for a document that was not pushed", "id", server.ID)
			continue
		}
		delete(byID, server.ID)

		var resolved *api.Document
		if !server.Deleted {
			resolved, err = d.resolver.Resolve(ctx, d.entity, local.Fork, server)
			if err != nil {
				return 0, 0, fmt.Errorf("failed to resolve conflict for %s: %w", server.ID, err)
			}
		}
		if resolved == nil {
			settled++
		}
		resolutions = append(resolutions, storage.Resolution{
			Server:   server,
			Resolved: resolved,
			Revision: local.Revision,
		})
	}

	// Все, что не вернулось конфликтом, сервер принял
	revisions := make(map[string]uint64, len(byID))
	for id, doc := range byID {
		revisions[id] = doc.Revision
	}

	if err := d.store.MarkPushed(ctx, d.entity, revisions); err != nil {
		return 0, 0, err
	}
	if len(resolutions) > 0 {
		d.logger.Info("Push conflicts", "count", len(resolutions), "settled", settled)
		if err := d.store.ApplyConflicts(ctx, d.entity, resolutions); err != nil {
			return len(revisions), 0, err
		}
	}

	return len(revisions), len(resolutions), nil
}

func sameCheckpoint(a, b *api.Checkpoint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Sync runs one catch-up followed by a push
func (d *Driver) Sync(ctx context.Context) (SyncResult, error) {
	pulled, err := d.CatchUp(ctx)
	if err != nil {
		return SyncResult{Pulled: pulled}, err
	}

	result, err := d.Push(ctx)
	result.Pulled += pulled
	return result, err
}

// applyLive stores a live change event and advances the checkpoint.
// Events older than the saved checkpoint were already covered by catch-up.
func (d *Driver) applyLive(ctx context.Context, ev api.Event) error {
	if len(ev.Documents) > 0 {
		if _, err := d.store.ApplyRemote(ctx, d.entity, ev.Documents); err != nil {
			return err
		}
	}

	cp, err := d.store.GetCheckpoint(ctx, d.entity)
	if err != nil {
		return err
	}
	if next := models.MaxCheckpoint(cp, ev.Checkpoint); next != cp {
		return d.store.SaveCheckpoint(ctx, d.entity, next)
	}
	return nil
}

// Run drives the state machine until ctx is cancelled:
// INITIAL_SYNC, then LIVE, RESYNCING on every RESYNC, CANCELLED at the end.
// Failed rounds are retried after RetryInterval; they never stop the driver.
func (d *Driver) Run(ctx context.Context, events <-chan api.Event) error {
	d.setState(StateInitialSync)
	defer d.setState(StateCancelled)

	var retry <-chan time.Time
	resync := func() {
		if _, err := d.Sync(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("Sync failed, will retry", "error", err, "retry_in", d.cfg.RetryInterval)
			retry = time.After(d.cfg.RetryInterval)
			return
		}
		retry = nil
		d.setState(StateLive)
	}

	resync()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-retry:
			resync()

		case <-d.pushes:
			if d.State() != StateLive {
				continue
			}
			if _, err := d.Push(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("Push failed, will retry", "error", err)
				d.setState(StateResyncing)
				retry = time.After(d.cfg.RetryInterval)
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Kind {
			case api.EventResync:
				d.setState(StateResyncing)
				resync()
			case api.EventChanges:
				if d.State() != StateLive {
					// Во время повторной синхронизации событие покроет catch-up
					continue
				}
				if err := d.applyLive(ctx, ev); err != nil {
					d.logger.Warn("Failed to apply live event", "error", err)
					d.setState(StateResyncing)
					retry = time.After(d.cfg.RetryInterval)
				}
			}
		}
	}
}
