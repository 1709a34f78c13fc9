package pubsub

import (
	"fmt"
	"log/slog"

	"github.com/iudanet/decksync/internal/models"
)

// Registry owns one Publisher per entity. It is built once at startup and
// passed explicitly to every component that publishes or subscribes.
type Registry struct {
	publishers map[string]*Publisher
}

// NewRegistry creates publishers for the given entity tags.
func NewRegistry(logger *slog.Logger, buffer int, entities ...string) *Registry {
	r := &Registry{publishers: make(map[string]*Publisher, len(entities))}
	for _, name := range entities {
		r.publishers[name] = NewPublisher(logger, name, buffer)
	}
	return r
}

// Get returns the publisher of entity.
func (r *Registry) Get(entity string) (*Publisher, error) {
	p, ok := r.publishers[entity]
	if !ok {
		return nil, fmt.Errorf("%w: no publisher for %q", models.ErrUnknownEntity, entity)
	}
	return p, nil
}

// Close ends every subscription of every publisher.
func (r *Registry) Close() {
	for _, p := range r.publishers {
		p.Close()
	}
}
