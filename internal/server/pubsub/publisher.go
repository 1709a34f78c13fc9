package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/iudanet/decksync/pkg/api"
)

// DefaultBuffer is the per-subscription queue length used when none is configured.
const DefaultBuffer = 64

// Publisher is an in-process, per-principal multicast bus for one entity.
// Publish never waits on a subscriber: when a subscription's queue is full the
// queued events are discarded and replaced with a single RESYNC.
type Publisher struct {
	logger *slog.Logger
	subs   map[string]map[*subscription]struct{}
	entity string
	buffer int
	mu     sync.RWMutex
	closed bool
}

type subscription struct {
	ch     chan api.Event
	stop   func() bool
	mu     sync.Mutex
	closed bool
}

// NewPublisher creates a publisher for entity. buffer < 1 falls back to DefaultBuffer.
func NewPublisher(logger *slog.Logger, entity string, buffer int) *Publisher {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Publisher{
		logger: logger.With("entity", entity),
		entity: entity,
		buffer: buffer,
		subs:   make(map[string]map[*subscription]struct{}),
	}
}

// Entity returns the entity tag this publisher serves.
func (p *Publisher) Entity() string {
	return p.entity
}

// Subscribe opens a live subscription for principal. The returned channel is
// closed, and every publisher-side resource released, as soon as ctx is done
// or the publisher is closed.
func (p *Publisher) Subscribe(ctx context.Context, principal string) <-chan api.Event {
	sub := &subscription{ch: make(chan api.Event, p.buffer)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sub.close()
		return sub.ch
	}
	set, ok := p.subs[principal]
	if !ok {
		set = make(map[*subscription]struct{})
		p.subs[principal] = set
	}
	set[sub] = struct{}{}
	// stop выставляется под блокировкой: remove не увидит подписку без него
	sub.stop = context.AfterFunc(ctx, func() {
		p.remove(principal, sub)
	})
	p.mu.Unlock()

	p.logger.Debug("Subscription opened", "user_id", principal)

	return sub.ch
}

// Publish delivers ev to every live subscription of principal.
// Subscriptions that are not keeping up get RESYNC instead of the backlog.
func (p *Publisher) Publish(principal string, ev api.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for sub := range p.subs[principal] {
		if sub.deliver(ev) {
			p.logger.Warn("Subscriber is lagging, replaced backlog with RESYNC", "user_id", principal)
		}
	}
}

// Subscribers returns the number of live subscriptions of principal.
func (p *Publisher) Subscribers(principal string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[principal])
}

// Close ends every subscription. Later subscriptions are closed immediately.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := p.subs
	p.subs = make(map[string]map[*subscription]struct{})
	p.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.stop()
			sub.close()
		}
	}
}

func (p *Publisher) remove(principal string, sub *subscription) {
	p.mu.Lock()
	set, ok := p.subs[principal]
	if ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(p.subs, principal)
		}
	}
	p.mu.Unlock()

	sub.close()
	p.logger.Debug("Subscription closed", "user_id", principal)
}

// deliver enqueues ev without blocking and reports whether the queue overflowed.
func (s *subscription) deliver(ev api.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- ev:
		return false
	default:
	}

	// Очередь переполнена: выбрасываем накопленное, клиент догонит через pull
	for drained := false; !drained; {
		select {
		case <-s.ch:
		default:
			drained = true
		}
	}
	// Писатель под s.mu единственный, поэтому место в очереди гарантировано
	s.ch <- api.Resync()
	return true
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
