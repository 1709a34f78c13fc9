package replication

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/decksync/pkg/api"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedStream отдает заранее заданные события, затем ошибку end
func scriptedStream(end error, events ...api.TaggedEvent) *TaggedStreamMock {
	var mu sync.Mutex
	return &TaggedStreamMock{
		NextFunc: func() (api.TaggedEvent, error) {
			mu.Lock()
			defer mu.Unlock()
			if len(events) == 0 {
				return api.TaggedEvent{}, end
			}
			ev := events[0]
			events = events[1:]
			return ev, nil
		},
		CloseFunc: func() error { return nil },
	}
}

func changes(id string, updatedAt int64) api.Event {
	return api.Changes(
		[]api.Document{{ID: id, UpdatedAt: updatedAt}},
		&api.Checkpoint{ID: id, UpdatedAt: updatedAt},
	)
}

// drain возвращает все события, накопленные в sink
func drain(sink <-chan api.Event) []api.Event {
	var out []api.Event
	for {
		select {
		case ev := <-sink:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestDemux_RoutesAndResyncsOnDisconnect(t *testing.T) {
	tests := []struct {
		end     error
		name    string
		wantErr bool
	}{
		{name: "clean end", end: io.EOF},
		{name: "connection error", end: errors.New("connection reset"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDemux(setupTestLogger(), 16, "decks", "cards", "deck_cards")

			stream := scriptedStream(tt.end,
				api.TaggedEvent{Entity: "decks", Event: changes("d1", 100)},
				api.TaggedEvent{Entity: "cards", Event: changes("c1", 100)},
				api.TaggedEvent{Entity: "decks", Event: changes("d2", 200)},
				api.TaggedEvent{Entity: "unknown", Event: changes("x", 1)},
			)

			err := d.Run(context.Background(), stream)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			decks := drain(d.Sink("decks"))
			require.Len(t, decks, 3)
			assert.Equal(t, "d1", decks[0].Documents[0].ID)
			assert.Equal(t, "d2", decks[1].Documents[0].ID)
			assert.Equal(t, api.Resync(), decks[2])

			cards := drain(d.Sink("cards"))
			require.Len(t, cards, 2)
			assert.Equal(t, api.Resync(), cards[1])

			// Сущность без событий тоже получает ровно один RESYNC
			assert.Equal(t, []api.Event{api.Resync()}, drain(d.Sink("deck_cards")))
		})
	}
}

func TestDemux_ResyncGoesToOneEntity(t *testing.T) {
	d := NewDemux(setupTestLogger(), 16, "decks", "cards")

	sink := d.Sink("decks")
	stream := scriptedStream(io.EOF,
		api.TaggedEvent{Entity: "decks", Event: api.Resync()},
		// Событие без checkpoint отбрасывается
		api.TaggedEvent{Entity: "cards", Event: api.Changes([]api.Document{{ID: "c1"}}, nil)},
	)
	stream.NextFunc = wrapNext(stream.NextFunc, func(n int) {
		if n == 2 {
			// RESYNC от сервера дошел только до decks
			assert.Equal(t, []api.Event{api.Resync()}, drain(sink))
			assert.Empty(t, drain(d.Sink("cards")))
		}
	})

	require.NoError(t, d.Run(context.Background(), stream))
	assert.Equal(t, []api.Event{api.Resync()}, drain(d.Sink("cards")))
}

// wrapNext вызывает hook перед каждым чтением, n - номер чтения начиная с 1
func wrapNext(next func() (api.TaggedEvent, error), hook func(n int)) func() (api.TaggedEvent, error) {
	n := 0
	return func() (api.TaggedEvent, error) {
		n++
		hook(n)
		return next()
	}
}

func TestDemux_ResyncReplacesBacklog(t *testing.T) {
	d := NewDemux(setupTestLogger(), 2, "decks")

	stream := scriptedStream(io.EOF,
		api.TaggedEvent{Entity: "decks", Event: changes("d1", 1)},
		api.TaggedEvent{Entity: "decks", Event: changes("d2", 2)},
	)

	// Никто не читает sink: RESYNC при завершении не должен блокироваться
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), stream) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("demux blocked on a full sink")
	}

	events := drain(d.Sink("decks"))
	require.NotEmpty(t, events)
	assert.Equal(t, api.Resync(), events[len(events)-1])
}

func TestDemux_CancelWhileSinkFull(t *testing.T) {
	d := NewDemux(setupTestLogger(), 1, "decks")

	stream := &TaggedStreamMock{
		NextFunc: func() (api.TaggedEvent, error) {
			return api.TaggedEvent{Entity: "decks", Event: changes("d1", 1)}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, stream) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("demux did not stop on cancel")
	}
	assert.Equal(t, []api.Event{api.Resync()}, drain(d.Sink("decks")))
}

func TestDemux_RunEntity(t *testing.T) {
	d := NewDemux(setupTestLogger(), 8, "decks", "settings")

	events := []api.Event{changes("theme", 10)}
	stream := &EntityStreamMock{
		NextFunc: func() (api.Event, error) {
			if len(events) == 0 {
				return api.Event{}, errors.New("websocket closed")
			}
			ev := events[0]
			events = events[1:]
			return ev, nil
		},
	}

	err := d.RunEntity(context.Background(), "settings", stream)
	assert.Error(t, err)

	got := drain(d.Sink("settings"))
	require.Len(t, got, 2)
	assert.Equal(t, "theme", got[0].Documents[0].ID)
	assert.Equal(t, api.Resync(), got[1])

	// Обрыв отдельного потока не трогает остальные сущности
	assert.Empty(t, drain(d.Sink("decks")))

	assert.Error(t, d.RunEntity(context.Background(), "unknown", stream))
}
