// Package stream fans per-entity subscriptions into one live connection.
package stream

import (
	"context"
	"sync"

	"github.com/iudanet/decksync/pkg/api"
)

// Merge fans the given per-entity event channels into one channel of tagged events.
//
// Every source has exactly one outstanding receive at any time; whichever source is
// ready first is forwarded first, so a quiet entity never delays a busy one. A source
// whose channel closes drops out. The output is closed when every source has closed
// or ctx is done.
func Merge(ctx context.Context, sources map[string]<-chan api.Event) <-chan api.TaggedEvent {
	out := make(chan api.TaggedEvent)

	var wg sync.WaitGroup
	for entity, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			forward(ctx, entity, src, out)
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func forward(ctx context.Context, entity string, src <-chan api.Event, out chan<- api.TaggedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			select {
			case out <- api.TaggedEvent{Entity: entity, Event: ev}:
			case <-ctx.Done():
				return
			}
		}
	}
}
