package observability

import (
	"contextgw-backend/internal/infrastructure/events"
)

// BindEventBus subscribes the collector to the internal event bus so cache
// and rollback activity shows up in Prometheus without the emitting packages
// importing this one.
func BindEventBus(c *Collector, bus *events.Bus) {
	bus.Subscribe(events.EventCacheEvicted, func(e events.Event) {
		evt := e.(events.CacheEvicted)
		c.CacheEvictions.WithLabelValues(evt.Cache, evt.Reason).Inc()
	})
	bus.Subscribe(events.EventCacheInvalidated, func(e events.Event) {
		evt := e.(events.CacheInvalidated)
		c.CacheInvalidations.WithLabelValues(evt.Cache).Add(float64(evt.Count))
	})
	bus.Subscribe(events.EventRollbackCreated, func(events.Event) {
		c.RollbacksCreated.Inc()
	})
	bus.Subscribe(events.EventRollbackExecuted, func(events.Event) {
		c.RollbacksExecuted.Inc()
	})
	bus.Subscribe(events.EventRollbackFailed, func(events.Event) {
		c.RollbacksFailed.Inc()
	})
}
