package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	TypeInitialized        = "sale.initialized"
	TypeOrderCreated       = "sale.order.created"
	TypeTokensClaimed      = "sale.tokens.claimed"
	TypeTokensSold         = "sale.tokens.sold"
	TypeLiquidityDeposited = "sale.liquidity.deposited"
	TypeApproval           = "ledger.approval"
	TypeAdminChanged       = "admin.changed"
	TypeNativeOracleSet    = "admin.native_oracle.set"
	TypeAssetRegistered    = "admin.asset.registered"
	TypeTimelineChanged    = "admin.timeline.changed"
)

// Event is a committed state change.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Time       int64             `json:"time"`
	Attributes map[string]string `json:"attributes"`
}

func New(typ string, at int64, attrs map[string]string) Event {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return Event{ID: uuid.NewString(), Type: typ, Time: at, Attributes: attrs}
}

// Emitter receives events after the state change they describe is durable.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, Event) {}

// Bus fans events out to sinks and to in-process subscribers. Subscribers
// with a full buffer miss events instead of blocking the emitter.
type Bus struct {
	mu     sync.RWMutex
	sinks  []Emitter
	subs   map[uint64]chan Event
	nextID uint64
}

func NewBus(sinks ...Emitter) *Bus {
	return &Bus{sinks: sinks, subs: make(map[uint64]chan Event)}
}

func (b *Bus) AddSink(s Emitter) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

func (b *Bus) Emit(ctx context.Context, ev Event) {
	b.mu.RLock()
	sinks := append([]Emitter(nil), b.sinks...)
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.RUnlock()
	for _, s := range sinks {
		s.Emit(ctx, ev)
	}
}

// Subscribe returns a channel of future events and a function that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// LogSink writes every event to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, ev Event) {
	if s.Logger == nil {
		return
	}
	attrs := make([]any, 0, 2*len(ev.Attributes)+4)
	attrs = append(attrs, slog.String("event_id", ev.ID), slog.String("type", ev.Type))
	for k, v := range ev.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	s.Logger.InfoContext(ctx, "event", attrs...)
}
