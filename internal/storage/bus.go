package storage

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/telemetry"
)

const (
	trafficBuffer = 4096
	stateBuffer   = 256
	batchSize     = 100
	flushInterval = time.Second
	drainTimeout  = 30 * time.Second

	// How long a state publish may block before warning. State events are
	// never dropped; traffic records are.
	stateWait = 100 * time.Millisecond
)

type trafficItem struct {
	up   *gateway.UpstreamTrafficEvent
	down *gateway.DownstreamTrafficEvent
}

// Bus is the single background actor between the request path and the store.
// Traffic records are buffered and batch-inserted; on overflow the oldest
// buffered record is dropped so the hot path never blocks. State events are
// buffered but never dropped. The underlying store is swappable for DSN
// reconfiguration.
type Bus struct {
	mu    sync.RWMutex
	store Store

	traffic chan trafficItem
	state   chan gateway.StateEvent

	log     *slog.Logger
	metrics *telemetry.Metrics // nil = no metrics
}

// NewBus wraps a store in a bus. Run must be started for records to flush.
func NewBus(store Store, log *slog.Logger, metrics *telemetry.Metrics) *Bus {
	return &Bus{
		store:   store,
		traffic: make(chan trafficItem, trafficBuffer),
		state:   make(chan gateway.StateEvent, stateBuffer),
		log:     log,
		metrics: metrics,
	}
}

// Store returns the current underlying store for synchronous admin reads and
// writes.
func (b *Bus) Store() Store {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store
}

// SwapStore replaces the underlying store and returns the previous one. The
// caller closes the old store once in-flight flushes settle.
func (b *Bus) SwapStore(s Store) Store {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.store
	b.store = s
	return old
}

// RecordUpstream implements gateway.TrafficSink.
func (b *Bus) RecordUpstream(ev gateway.UpstreamTrafficEvent) {
	if b.metrics != nil {
		b.metrics.UpstreamDuration.WithLabelValues(ev.Meta.Provider, ev.Meta.Model).
			Observe(float64(ev.DurationMs) / 1000)
		if ev.Status >= 300 {
			b.metrics.UpstreamErrors.WithLabelValues(ev.Meta.Provider, strconv.Itoa(ev.Status)).Inc()
		}
	}
	b.push(trafficItem{up: &ev})
}

// RecordDownstream implements gateway.TrafficSink.
func (b *Bus) RecordDownstream(ev gateway.DownstreamTrafficEvent) {
	b.push(trafficItem{down: &ev})
}

// push enqueues without blocking. When the buffer is full the oldest item is
// evicted to make room for the new one.
func (b *Bus) push(it trafficItem) {
	for {
		select {
		case b.traffic <- it:
			return
		default:
		}
		select {
		case old := <-b.traffic:
			if b.metrics != nil {
				b.metrics.TrafficDropped.Inc()
			}
			b.log.Warn("traffic buffer full, dropping oldest record",
				"upstream", old.up != nil)
		default:
		}
	}
}

// PublishState implements gateway.StateSink. Blocks up to stateWait without
// complaint, then warns and keeps waiting; state transitions must reach the
// store.
func (b *Bus) PublishState(ev gateway.StateEvent) {
	if b.metrics != nil && !ev.Cleared {
		b.metrics.PoolMarks.WithLabelValues(ev.Level.String()).Inc()
	}
	select {
	case b.state <- ev:
		return
	default:
	}
	t := time.NewTimer(stateWait)
	defer t.Stop()
	select {
	case b.state <- ev:
		return
	case <-t.C:
		b.log.Warn("state buffer full, waiting",
			"credential_id", ev.CredentialID, "scope", ev.Scope.String())
	}
	b.state <- ev
}

// Run consumes both queues until ctx is canceled, then drains with a timeout.
func (b *Bus) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var ups []gateway.UpstreamTrafficEvent
	var downs []gateway.DownstreamTrafficEvent

	flush := func(fctx context.Context) {
		if len(ups) > 0 {
			if err := b.Store().InsertUpstreamTraffic(fctx, ups); err != nil {
				b.log.Error("insert upstream traffic", "error", err, "count", len(ups))
			}
			ups = ups[:0]
		}
		if len(downs) > 0 {
			if err := b.Store().InsertDownstreamTraffic(fctx, downs); err != nil {
				b.log.Error("insert downstream traffic", "error", err, "count", len(downs))
			}
			downs = downs[:0]
		}
	}

	for {
		select {
		case it := <-b.traffic:
			if it.up != nil {
				ups = append(ups, *it.up)
			} else {
				downs = append(downs, *it.down)
			}
			if len(ups)+len(downs) >= batchSize {
				flush(ctx)
			}
		case ev := <-b.state:
			b.applyState(ctx, ev)
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			for {
				select {
				case it := <-b.traffic:
					if it.up != nil {
						ups = append(ups, *it.up)
					} else {
						downs = append(downs, *it.down)
					}
				case ev := <-b.state:
					b.applyState(dctx, ev)
				default:
					flush(dctx)
					return nil
				}
			}
		}
	}
}

// applyState persists one health transition.
func (b *Bus) applyState(ctx context.Context, ev gateway.StateEvent) {
	store := b.Store()
	if ev.Cleared {
		if err := store.ClearDisallow(ctx, ev.CredentialID, ev.Scope); err != nil {
			b.log.Error("clear disallow", "error", err,
				"credential_id", ev.CredentialID, "scope", ev.Scope.String())
		}
		return
	}
	rec := &gateway.DisallowRecord{
		CredentialID: ev.CredentialID,
		Scope:        ev.Scope,
		Level:        ev.Level,
		Until:        ev.Until,
		Reason:       ev.Reason,
		UpdatedAt:    ev.At,
	}
	if err := store.UpsertDisallow(ctx, rec); err != nil {
		b.log.Error("upsert disallow", "error", err,
			"credential_id", ev.CredentialID, "scope", ev.Scope.String())
	}
}
