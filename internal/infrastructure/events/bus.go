// Package events provides the in-process event bus used for cache,
// orchestrator and rollback notifications.
//
// The bus replaces ad-hoc emitter callbacks with an explicit subscribe/publish
// interface. Event names and payload fields are a stable contract that
// monitoring consumers depend on.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is implemented by every notification published on the bus.
type Event interface {
	EventName() string
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Bus is a minimal typed publish/subscribe bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	all      []Handler
	logger   *zap.Logger
}

// NewBus creates a new event bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for a specific event name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish dispatches an event to all matching handlers. A panicking handler
// is logged and does not affect other handlers or the publisher.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	named := b.handlers[event.EventName()]
	all := b.all
	b.mu.RUnlock()

	for _, h := range named {
		b.invoke(h, event)
	}
	for _, h := range all {
		b.invoke(h, event)
	}
}

func (b *Bus) invoke(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				zap.String("event", event.EventName()),
				zap.Any("panic", r),
			)
		}
	}()
	h(event)
}

// Event name constants. These match the notification names emitted by the
// original gateway and must not change without coordinating with consumers.
const (
	EventCacheEvicted            = "cache:evicted"
	EventCacheInvalidated        = "cache:invalidated"
	EventOrchestratorInitialized = "orchestrator:initialized"
	EventOrchestratorAlert       = "orchestrator:alert"
	EventRollbackCreated         = "rollback:created"
	EventRollbackExecuted        = "rollback:executed"
	EventRollbackFailed          = "rollback:failed"
)

// CacheEvicted is published when an entry leaves a cache for any reason other
// than an explicit Delete call.
type CacheEvicted struct {
	Cache     string    `json:"cache"`
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	Reason    string    `json:"reason"` // "lru" or "ttl"; tag invalidation publishes CacheInvalidated instead
	Timestamp time.Time `json:"timestamp"`
}

func (CacheEvicted) EventName() string { return EventCacheEvicted }

// CacheInvalidated is published after a dependency-tag bulk invalidation.
type CacheInvalidated struct {
	Cache     string    `json:"cache"`
	Tag       string    `json:"tag"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

func (CacheInvalidated) EventName() string { return EventCacheInvalidated }

// OrchestratorInitialized is published once when the orchestrator is ready.
type OrchestratorInitialized struct {
	ParallelEnabled bool      `json:"parallelEnabled"`
	MaxWorkers      int       `json:"maxWorkers"`
	Timestamp       time.Time `json:"timestamp"`
}

func (OrchestratorInitialized) EventName() string { return EventOrchestratorInitialized }

// OrchestratorAlert is published when a health threshold is breached.
type OrchestratorAlert struct {
	Warnings  []string  `json:"warnings"`
	Timestamp time.Time `json:"timestamp"`
}

func (OrchestratorAlert) EventName() string { return EventOrchestratorAlert }

// RollbackCreated is published after a holistic snapshot is persisted.
type RollbackCreated struct {
	UpdateID        string    `json:"updateId"`
	AffectedDomains []string  `json:"affectedDomains"`
	Timestamp       time.Time `json:"timestamp"`
}

func (RollbackCreated) EventName() string { return EventRollbackCreated }

// RollbackExecuted is published after a successful rollback.
type RollbackExecuted struct {
	UpdateID  string    `json:"updateId"`
	Timestamp time.Time `json:"timestamp"`
}

func (RollbackExecuted) EventName() string { return EventRollbackExecuted }

// RollbackFailed is published when rollback execution itself fails.
type RollbackFailed struct {
	UpdateID  string    `json:"updateId"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (RollbackFailed) EventName() string { return EventRollbackFailed }
