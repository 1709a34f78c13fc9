package replication

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/iudanet/decksync/pkg/api"
)

// DefaultSinkBuffer is the number of events a sink holds before the demultiplexer waits for its driver
const DefaultSinkBuffer = 16

// Demux routes events of live connections to per-entity sinks.
// Sinks outlive connections: one Demux serves every reconnect.
type Demux struct {
	logger *slog.Logger
	sinks  map[string]chan api.Event
}

// NewDemux creates a sink for every entity
func NewDemux(logger *slog.Logger, buffer int, entities ...string) *Demux {
	if buffer <= 0 {
		buffer = DefaultSinkBuffer
	}
	sinks := make(map[string]chan api.Event, len(entities))
	for _, e := range entities {
		sinks[e] = make(chan api.Event, buffer)
	}
	return &Demux{logger: logger, sinks: sinks}
}

// Sink returns the event channel of the entity, nil for an unknown entity
func (d *Demux) Sink(entity string) <-chan api.Event {
	return d.sinks[entity]
}

// Run reads the multiplexed stream until it fails or ends, then sends RESYNC
// to every sink: the connection was shared, so every entity may have missed events.
// It returns nil when the stream ended cleanly or ctx was cancelled.
func (d *Demux) Run(ctx context.Context, stream TaggedStream) error {
	defer d.ResyncAll()

	for {
		tagged, err := stream.Next()
		if err != nil {
			return streamEnd(ctx, err)
		}

		sink, ok := d.sinks[tagged.Entity]
		if !ok {
			d.logger.Warn("Event for unknown entity dropped", "entity", tagged.Entity)
			continue
		}
		if !d.forward(ctx, tagged.Entity, sink, tagged.Event) {
			return nil
		}
	}
}

// RunEntity reads a per-entity stream until it fails or ends, then sends RESYNC to that entity only
func (d *Demux) RunEntity(ctx context.Context, entity string, stream EntityStream) error {
	sink, ok := d.sinks[entity]
	if !ok {
		return errors.New("no sink for entity " + entity)
	}
	defer d.Resync(entity)

	for {
		ev, err := stream.Next()
		if err != nil {
			return streamEnd(ctx, err)
		}
		if !d.forward(ctx, entity, sink, ev) {
			return nil
		}
	}
}

// forward возвращает false, если ctx отменен
func (d *Demux) forward(ctx context.Context, entity string, sink chan api.Event, ev api.Event) bool {
	switch ev.Kind {
	case api.EventResync:
		d.Resync(entity)
		return true
	case api.EventChanges:
		// Без checkpoint драйвер не сможет продолжить с этой позиции
		if ev.Checkpoint == nil {
			d.logger.Warn("Change event without checkpoint dropped", "entity", entity, "documents", len(ev.Documents))
			return true
		}
	default:
		d.logger.Warn("Unknown event dropped", "entity", entity, "kind", ev.Kind)
		return true
	}

	select {
	case sink <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// ResyncAll sends RESYNC to every sink
func (d *Demux) ResyncAll() {
	for entity := range d.sinks {
		d.Resync(entity)
	}
}

// Resync sends RESYNC to one sink without blocking. Buffered events are
// discarded when the sink is full: the catch-up triggered by RESYNC covers them.
func (d *Demux) Resync(entity string) {
	sink, ok := d.sinks[entity]
	if !ok {
		return
	}

	for {
		select {
		case sink <- api.Resync():
			return
		default:
		}
		// Буфер полон: освобождаем место
		select {
		case <-sink:
		default:
		}
	}
}

func streamEnd(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
