package ws

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/veinworld/worldserver/internal/transport/ws"

type metrics struct {
	connections metric.Int64UpDownCounter
	received    metric.Int64Counter
	rejected    metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	m := otel.Meter(instrumentationName)
	var (
		out metrics
		err error
	)
	out.connections, err = m.Int64UpDownCounter(
		"ws.connections",
		metric.WithDescription("Open websocket connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating connections counter: %w", err)
	}
	out.received, err = m.Int64Counter(
		"ws.messages.received",
		metric.WithDescription("Client messages accepted for dispatch"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating received counter: %w", err)
	}
	out.rejected, err = m.Int64Counter(
		"ws.messages.rejected",
		metric.WithDescription("Client messages answered with an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}
	return &out, nil
}

func (m *metrics) reject(reason string) {
	m.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
