package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/obs"
)

const sinkTimeout = 5 * time.Second

// Dispatcher forwards events to its sinks on a background goroutine. Log never
// blocks the caller: when the buffer is full the event is dropped and counted.
// Sink failures are logged and counted, never returned.
type Dispatcher struct {
	sinks   []Sink
	logger  *zap.Logger
	metrics *obs.Metrics
	now     func() time.Time

	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(buffer int, logger *zap.Logger, metrics *obs.Metrics, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		ch:      make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.ch:
			d.write(e)
		case <-d.done:
			for {
				select {
				case e := <-d.ch:
					d.write(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(e Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := s.Write(ctx, e)
		cancel()
		if err != nil {
			d.metrics.AuditFailed()
			d.logger.Warn("audit sink failed",
				zap.String("action", e.Action),
				zap.String("tenant_id", e.TenantID),
				zap.Error(err),
			)
		}
	}
}

// Log enqueues e. Missing timestamps and request ids are filled from now and ctx.
func (d *Dispatcher) Log(ctx context.Context, e Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = d.now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}
	select {
	case d.ch <- e:
	case <-d.done:
	default:
		d.dropped.Add(1)
		d.metrics.AuditDropped()
	}
}

// Close stops accepting events and drains what is buffered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
