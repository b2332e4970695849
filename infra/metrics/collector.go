package metrics

import (
	"context"

	"github.com/kilianp07/transactive/core/events"
	coremetrics "github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/infra/logger"
	"github.com/kilianp07/transactive/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records market state
// transitions in sinks implementing StateRecorder. It stops when the context
// is canceled and closes the returned channel once unsubscribed.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	r, ok := sink.(coremetrics.StateRecorder)
	if bus == nil || !ok {
		close(done)
		return done
	}
	log = logger.OrNew(log, "metrics-collector")
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				e, ok := ev.(events.StateEvent)
				if !ok {
					continue
				}
				err := r.RecordState(coremetrics.StateEvent{
					Market: e.Market, From: e.From.String(), To: e.To.String(), Time: e.Time,
				})
				if err != nil {
					log.Errorf("record state of %s: %v", e.Market, err)
				}
			}
		}
	}()
	return done
}
