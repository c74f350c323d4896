package handler

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the handler-level counters.
type Metrics struct {
	ordersCreated    metric.Int64Counter
	downloadsGranted metric.Int64Counter
}

// NewMetrics registers the checkout counters on the given meter provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("checkout.handler")

	ordersCreated, err := meter.Int64Counter("checkout.orders_created",
		metric.WithDescription("Orders successfully created"))
	if err != nil {
		return nil, err
	}
	downloadsGranted, err := meter.Int64Counter("checkout.downloads_granted",
		metric.WithDescription("Digital downloads granted"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ordersCreated:    ordersCreated,
		downloadsGranted: downloadsGranted,
	}, nil
}

func (m *Metrics) orderCreated(ctx context.Context, currency string) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("currency", currency)))
}

func (m *Metrics) downloadGranted(ctx context.Context) {
	if m == nil {
		return
	}
	m.downloadsGranted.Add(ctx, 1)
}
