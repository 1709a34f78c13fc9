package replication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clientapi "github.com/iudanet/decksync/internal/client/api"
	"github.com/iudanet/decksync/pkg/api"
)

// liveTagged возвращает поток, который читает события из ch до отмены ctx или закрытия ch
func liveTagged(ctx context.Context, ch <-chan api.TaggedEvent) *TaggedStreamMock {
	return &TaggedStreamMock{
		NextFunc: func() (api.TaggedEvent, error) {
			select {
			case ev, ok := <-ch:
				if !ok {
					return api.TaggedEvent{}, io.EOF
				}
				return ev, nil
			case <-ctx.Done():
				return api.TaggedEvent{}, ctx.Err()
			}
		},
		CloseFunc: func() error { return nil },
	}
}

func liveEntity(ctx context.Context, ch <-chan api.Event) *EntityStreamMock {
	return &EntityStreamMock{
		NextFunc: func() (api.Event, error) {
			select {
			case ev, ok := <-ch:
				if !ok {
					return api.Event{}, io.EOF
				}
				return ev, nil
			case <-ctx.Done():
				return api.Event{}, ctx.Err()
			}
		},
		CloseFunc: func() error { return nil },
	}
}

func fastReconnect(cfg ManagerConfig) ManagerConfig {
	cfg.ReconnectMin = time.Millisecond
	cfg.ReconnectMax = 5 * time.Millisecond
	return cfg
}

func startManager(t *testing.T, m *Manager) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(cancel)

	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
		return nil
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(setupTestLogger(), &RemoteMock{}, setupTestStore(t), staticToken, ManagerConfig{
		Multiplexed:  []string{"decks", "cards"},
		Standalone:   []string{"settings"},
		ReconnectMax: time.Millisecond,
	})

	assert.Equal(t, DefaultReconnectMin, m.cfg.ReconnectMin)
	assert.Equal(t, DefaultReconnectMax, m.cfg.ReconnectMax)

	for _, entity := range []string{"decks", "cards", "settings"} {
		require.NotNil(t, m.Driver(entity), entity)
		assert.Equal(t, entity, m.Driver(entity).Entity())
	}
	assert.Nil(t, m.Driver("unknown"))
}

func TestManager_SyncOnce(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	srv.put("decks", deck("d1", "remote"))
	srv.put("cards", api.Document{ID: "c1", Fields: map[string]any{"front": "hola"}})

	store := setupTestStore(t)
	_, err := store.WriteLocal(ctx, "cards", api.Document{ID: "c2", Fields: map[string]any{"front": "adios"}})
	require.NoError(t, err)

	m := NewManager(setupTestLogger(), srv.remote(), store, staticToken, ManagerConfig{
		Multiplexed: []string{"decks", "cards"},
	})

	results, err := m.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Pulled: 1}, results["decks"])
	// c1 при catch-up, затем c2 после push
	assert.Equal(t, SyncResult{Pulled: 2, Pushed: 1}, results["cards"])

	_, ok := srv.get("cards", "c2")
	assert.True(t, ok)
}

func TestManager_SyncOnceJoinsErrors(t *testing.T) {
	srv := newFakeServer()
	remote := srv.remote()
	pull := remote.PullFunc
	remote.PullFunc = func(ctx context.Context, accessToken, entity string, req api.PullRequest) (*api.PullResponse, error) {
		if entity == "cards" {
			return nil, errors.New("server unavailable")
		}
		return pull(ctx, accessToken, entity, req)
	}

	m := NewManager(setupTestLogger(), remote, setupTestStore(t), staticToken, ManagerConfig{
		Multiplexed: []string{"decks", "cards"},
	})

	results, err := m.SyncOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to sync cards")
	assert.Contains(t, results, "decks")
}

func TestManager_RunOpensStreamBeforeCatchUp(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	srv.put("decks", deck("d1", "before"))

	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(call string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, call)
	}

	live := make(chan api.TaggedEvent, 4)
	remote := srv.remote()
	pull := remote.PullFunc
	remote.PullFunc = func(ctx context.Context, accessToken, entity string, req api.PullRequest) (*api.PullResponse, error) {
		record("pull " + entity)
		return pull(ctx, accessToken, entity, req)
	}
	remote.OpenStreamFunc = func(ctx context.Context, accessToken string) (TaggedStream, error) {
		record("stream")
		return liveTagged(ctx, live), nil
	}

	store := setupTestStore(t)
	m := NewManager(setupTestLogger(), remote, store, staticToken, fastReconnect(ManagerConfig{
		Multiplexed: []string{"decks"},
	}))

	cancel, done := startManager(t, m)
	waitState(t, m.Driver("decks"), StateLive)

	mu.Lock()
	require.NotEmpty(t, calls)
	assert.Equal(t, "stream", calls[0])
	mu.Unlock()

	doc := srv.put("decks", deck("d2", "live"))
	live <- api.TaggedEvent{Entity: "decks", Event: api.Changes([]api.Document{doc}, &api.Checkpoint{ID: "d2", UpdatedAt: doc.UpdatedAt})}

	require.Eventually(t, func() bool {
		_, err := store.GetDocument(ctx, "decks", "d2")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, waitDone(t, done))
	assert.Equal(t, StateCancelled, m.Driver("decks").State())
}

func TestManager_RunDialsEntityStreamBeforeCatchUp(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()

	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(call string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, call)
	}

	live := make(chan api.Event, 1)
	remote := srv.remote()
	pull := remote.PullFunc
	remote.PullFunc = func(ctx context.Context, accessToken, entity string, req api.PullRequest) (*api.PullResponse, error) {
		record("pull " + entity)
		return pull(ctx, accessToken, entity, req)
	}
	remote.DialEntityStreamFunc = func(ctx context.Context, accessToken, entity string) (EntityStream, error) {
		record("dial " + entity)
		// Запись после подписки, о которой поток не сообщит: ее должен забрать catch-up
		srv.put("settings", api.Document{ID: "a", Fields: map[string]any{"value": "first"}})
		return liveEntity(ctx, live), nil
	}

	store := setupTestStore(t)
	m := NewManager(setupTestLogger(), remote, store, staticToken, fastReconnect(ManagerConfig{
		Standalone: []string{"settings"},
	}))

	cancel, done := startManager(t, m)
	waitState(t, m.Driver("settings"), StateLive)

	mu.Lock()
	require.NotEmpty(t, calls)
	assert.Equal(t, "dial settings", calls[0])
	mu.Unlock()

	doc := srv.put("settings", api.Document{ID: "b", Fields: map[string]any{"value": "second"}})
	live <- api.Changes([]api.Document{doc}, &api.Checkpoint{ID: "b", UpdatedAt: doc.UpdatedAt})

	require.Eventually(t, func() bool {
		_, err := store.GetDocument(ctx, "settings", "b")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	_, err := store.GetDocument(ctx, "settings", "a")
	assert.NoError(t, err)

	cp, err := store.GetCheckpoint(ctx, "settings")
	require.NoError(t, err)
	assert.Equal(t, &api.Checkpoint{ID: "b", UpdatedAt: doc.UpdatedAt}, cp)

	cancel()
	assert.NoError(t, waitDone(t, done))
}

func TestManager_RunClosesStreamsWhenDialRejected(t *testing.T) {
	srv := newFakeServer()
	remote := srv.remote()

	tagged := liveTagged(context.Background(), make(chan api.TaggedEvent))
	remote.OpenStreamFunc = func(context.Context, string) (TaggedStream, error) {
		return tagged, nil
	}
	remote.DialEntityStreamFunc = func(context.Context, string, string) (EntityStream, error) {
		return nil, clientapi.ErrUnauthorized
	}

	m := NewManager(setupTestLogger(), remote, setupTestStore(t), staticToken, fastReconnect(ManagerConfig{
		Multiplexed: []string{"decks"},
		Standalone:  []string{"settings"},
	}))
	_, done := startManager(t, m)

	assert.ErrorIs(t, waitDone(t, done), clientapi.ErrUnauthorized)
	assert.Len(t, tagged.CloseCalls(), 1)
	// Драйверы не стартовали
	assert.Empty(t, remote.PullCalls())
}

func TestManager_RunReconnectsAndResyncs(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	srv.put("decks", deck("d1", "remote"))

	var (
		mu     sync.Mutex
		opened int
	)
	remote := srv.remote()
	remote.OpenStreamFunc = func(ctx context.Context, accessToken string) (TaggedStream, error) {
		mu.Lock()
		defer mu.Unlock()
		opened++
		switch opened {
		case 1:
			// Первое соединение рвется сразу
			return scriptedStream(errors.New("connection reset")), nil
		case 2:
			return nil, errors.New("dial failed")
		default:
			return liveTagged(ctx, make(chan api.TaggedEvent)), nil
		}
	}

	store := setupTestStore(t)
	m := NewManager(setupTestLogger(), remote, store, staticToken, fastReconnect(ManagerConfig{
		Multiplexed: []string{"decks"},
	}))

	cancel, done := startManager(t, m)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return opened >= 3
	}, 2*time.Second, 5*time.Millisecond)

	// Начальная синхронизация, RESYNC при обрыве и RESYNC после переподключения
	require.Eventually(t, func() bool {
		return len(remote.PullCalls()) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	waitState(t, m.Driver("decks"), StateLive)

	_, err := store.GetDocument(ctx, "decks", "d1")
	assert.NoError(t, err)

	cancel()
	assert.NoError(t, waitDone(t, done))
}

func TestManager_RunUnauthorized(t *testing.T) {
	tests := []struct {
		cfg  ManagerConfig
		name string
	}{
		{name: "multiplexed", cfg: ManagerConfig{Multiplexed: []string{"decks"}}},
		{name: "standalone", cfg: ManagerConfig{Standalone: []string{"settings"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer()
			remote := srv.remote()
			rejected := fmt.Errorf("failed to open stream: %w", clientapi.ErrUnauthorized)
			remote.OpenStreamFunc = func(context.Context, string) (TaggedStream, error) {
				return nil, rejected
			}
			remote.DialEntityStreamFunc = func(context.Context, string, string) (EntityStream, error) {
				return nil, rejected
			}

			m := NewManager(setupTestLogger(), remote, setupTestStore(t), staticToken, fastReconnect(tt.cfg))
			_, done := startManager(t, m)

			err := waitDone(t, done)
			assert.ErrorIs(t, err, clientapi.ErrUnauthorized)
			// Отклоненный токен не повторяется
			assert.Equal(t, 1, len(remote.OpenStreamCalls())+len(remote.DialEntityStreamCalls()))
		})
	}
}

func TestManager_RunStandalone(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()

	var (
		mu     sync.Mutex
		dialed int
	)
	live := make(chan api.Event, 2)
	remote := srv.remote()
	remote.DialEntityStreamFunc = func(ctx context.Context, accessToken, entity string) (EntityStream, error) {
		mu.Lock()
		defer mu.Unlock()
		dialed++
		if dialed == 1 {
			ch := make(chan api.Event)
			close(ch)
			return liveEntity(ctx, ch), nil
		}
		return liveEntity(ctx, live), nil
	}

	store := setupTestStore(t)
	m := NewManager(setupTestLogger(), remote, store, staticToken, fastReconnect(ManagerConfig{
		Standalone: []string{"settings"},
	}))

	cancel, done := startManager(t, m)
	waitState(t, m.Driver("settings"), StateLive)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dialed >= 2
	}, 2*time.Second, 5*time.Millisecond)

	doc := srv.put("settings", api.Document{ID: "theme", Fields: map[string]any{"value": "dark"}})
	require.Eventually(t, func() bool {
		if m.Driver("settings").State() != StateLive {
			return false
		}
		select {
		case live <- api.Changes([]api.Document{doc}, &api.Checkpoint{ID: "theme", UpdatedAt: doc.UpdatedAt}):
		default:
		}
		_, err := store.GetDocument(ctx, "settings", "theme")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, remote.OpenStreamCalls())

	cancel()
	assert.NoError(t, waitDone(t, done))
}
