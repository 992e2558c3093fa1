package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/veinworld/worldserver/internal/dispatcher"

// instruments are created against the global meter, a no-op until the
// process installs a MeterProvider.
type instruments struct {
	queueDepth metric.Int64ObservableGauge
	processed  metric.Int64Counter
	dropped    metric.Int64Counter
	failed     metric.Int64Counter
}

func newInstruments(depths func() map[string]int) (*instruments, error) {
	m := otel.Meter(instrumentationName)
	ins := &instruments{}

	var err error
	if ins.queueDepth, err = m.Int64ObservableGauge("dispatcher.queue.size",
		metric.WithDescription("Events waiting in a buffered handler queue")); err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	if _, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for cmd, n := range depths() {
			o.ObserveInt64(ins.queueDepth, int64(n), metric.WithAttributes(attribute.String("command", cmd)))
		}
		return nil
	}, ins.queueDepth); err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}
	if ins.processed, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Buffered events handed to their handler")); err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	if ins.dropped, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Events rejected because the handler queue was full")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if ins.failed, err = m.Int64Counter("dispatcher.events.failed",
		metric.WithDescription("Buffered events whose handler returned an error")); err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	return ins, nil
}

func commandAttr(command string) metric.AddOption {
	return metric.WithAttributes(attribute.String("command", command))
}
