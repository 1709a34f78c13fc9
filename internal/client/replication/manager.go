package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	clientapi "github.com/iudanet/decksync/internal/client/api"
)

// Backoff bounds of reconnect attempts
const (
	DefaultReconnectMin = 500 * time.Millisecond
	DefaultReconnectMax = 30 * time.Second
)

// ManagerConfig holds tunables of the manager
type ManagerConfig struct {
	Driver DriverConfig
	// Multiplexed entities share the SSE stream, Standalone ones get a WebSocket each
	Multiplexed  []string
	Standalone   []string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	SinkBuffer   int
}

// Manager supervises one driver per entity and the live connections feeding them
type Manager struct {
	logger  *slog.Logger
	remote  Remote
	token   TokenSource
	demux   *Demux
	drivers map[string]*Driver
	cfg     ManagerConfig
}

// NewManager creates drivers for every multiplexed and standalone entity
func NewManager(logger *slog.Logger, remote Remote, store LocalStore, token TokenSource, cfg ManagerConfig) *Manager {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = DefaultReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = max(DefaultReconnectMax, cfg.ReconnectMin)
	}

	entities := append(append([]string(nil), cfg.Multiplexed...), cfg.Standalone...)

	drivers := make(map[string]*Driver, len(entities))
	for _, entity := range entities {
		drivers[entity] = NewDriver(logger, entity, remote, store, token, cfg.Driver)
	}

	return &Manager{
		logger:  logger,
		remote:  remote,
		token:   token,
		demux:   NewDemux(logger, cfg.SinkBuffer, entities...),
		drivers: drivers,
		cfg:     cfg,
	}
}

// Driver returns the driver of the entity, nil if it is not managed
func (m *Manager) Driver(entity string) *Driver {
	return m.drivers[entity]
}

// SyncOnce runs catch-up and push for every entity without live streams
func (m *Manager) SyncOnce(ctx context.Context) (map[string]SyncResult, error) {
	results := make(map[string]SyncResult, len(m.drivers))
	var errs []error

	for entity, d := range m.drivers {
		result, err := d.Sync(ctx)
		results[entity] = result
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to sync %s: %w", entity, err))
		}
	}

	return results, errors.Join(errs...)
}

// Run keeps the local store live until ctx is cancelled or the server rejects the token.
// Every live stream is opened before the drivers start their catch-up, so writes
// made during catch-up arrive as live events instead of being lost.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var first TaggedStream
	if len(m.cfg.Multiplexed) > 0 {
		stream, err := connect(ctx, m, m.openTagged)
		if err != nil || stream == nil {
			return err
		}
		first = stream
	}

	standalone := make(map[string]EntityStream, len(m.cfg.Standalone))
	for _, entity := range m.cfg.Standalone {
		stream, err := connect(ctx, m, m.entityDialer(entity))
		if err != nil || stream == nil {
			closeStreams(first, standalone)
			return err
		}
		standalone[entity] = stream
	}

	for entity, d := range m.drivers {
		events := m.demux.Sink(entity)
		g.Go(func() error {
			return d.Run(ctx, events)
		})
	}

	if first != nil {
		g.Go(func() error {
			return m.runMultiplexed(ctx, first)
		})
	}

	for entity, stream := range standalone {
		g.Go(func() error {
			return m.runStandalone(ctx, entity, stream)
		})
	}

	return g.Wait()
}

func closeStreams(tagged TaggedStream, entities map[string]EntityStream) {
	if tagged != nil {
		_ = tagged.Close()
	}
	for _, s := range entities {
		_ = s.Close()
	}
}

func (m *Manager) openTagged(ctx context.Context, token string) (TaggedStream, error) {
	return m.remote.OpenStream(ctx, token)
}

func (m *Manager) entityDialer(entity string) func(ctx context.Context, token string) (EntityStream, error) {
	return func(ctx context.Context, token string) (EntityStream, error) {
		return m.remote.DialEntityStream(ctx, token, entity)
	}
}

func (m *Manager) runMultiplexed(ctx context.Context, stream TaggedStream) error {
	for {
		err := m.demux.Run(ctx, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			return nil
		}
		m.logger.Warn("Live stream lost, reconnecting", "error", err)

		stream, err = connect(ctx, m, m.openTagged)
		if err != nil {
			return err
		}
		if stream == nil {
			return nil
		}

		// Catch-up по RESYNC при обрыве мог пройти до новой подписки
		m.demux.ResyncAll()
	}
}

func (m *Manager) runStandalone(ctx context.Context, entity string, stream EntityStream) error {
	dial := m.entityDialer(entity)

	for {
		err := m.demux.RunEntity(ctx, entity, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			return nil
		}
		m.logger.Warn("Entity stream lost, reconnecting", "entity", entity, "error", err)

		stream, err = connect(ctx, m, dial)
		if err != nil {
			return err
		}
		if stream == nil {
			return nil
		}

		m.demux.Resync(entity)
	}
}

// connect retries open with capped exponential backoff. A rejected token is fatal;
// a cancelled ctx returns a nil stream and nil error.
func connect[S any](ctx context.Context, m *Manager, open func(ctx context.Context, token string) (S, error)) (S, error) {
	var zero S

	backoff := retry.WithJitterPercent(10,
		retry.WithCappedDuration(m.cfg.ReconnectMax, retry.NewExponential(m.cfg.ReconnectMin)))

	stream, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (S, error) {
		token, err := m.token(ctx)
		if err != nil {
			return zero, fmt.Errorf("failed to get access token: %w", err)
		}

		s, err := open(ctx, token)
		if err != nil {
			if errors.Is(err, clientapi.ErrUnauthorized) {
				return zero, err
			}
			m.logger.Debug("Connect failed", "error", err)
			return zero, retry.RetryableError(err)
		}
		return s, nil
	})
	if err != nil && ctx.Err() != nil {
		return zero, nil
	}
	return stream, err
}
