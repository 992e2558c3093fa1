package chunkstore

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/veinworld/worldserver/pkg/core"
)

const instrumentationName = "github.com/veinworld/worldserver/internal/chunkstore"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Stats is a snapshot of the store counters since start.
type Stats struct {
	CacheHits         int64 `json:"cacheHits"`
	ColdHits          int64 `json:"coldHits"`
	Generated         int64 `json:"generated"`
	PersistFailures   int64 `json:"persistFailures"`
	BackfillChecked   int64 `json:"backfillChecked"`
	BackfillGenerated int64 `json:"backfillGenerated"`
	BackfillFailed    int64 `json:"backfillFailed"`
}

// metrics mirrors every counter into OTel. The global meter is a no-op
// unless a provider was installed.
type metrics struct {
	tierHits        metric.Int64Counter
	persistFailures metric.Int64Counter
	backfilled      metric.Int64Counter
	backfillFailed  metric.Int64Counter

	cache, cold, generated atomic.Int64
	persistFailed          atomic.Int64
	checked, filled, bad   atomic.Int64
}

func newMetrics() (*metrics, error) {
	m := meter()
	out := &metrics{}

	var err error
	out.tierHits, err = m.Int64Counter(
		"chunkstore.tier.hits",
		metric.WithDescription("Chunk reads answered per tier"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tier hits counter: %w", err)
	}

	out.persistFailures, err = m.Int64Counter(
		"chunkstore.persist.failures",
		metric.WithDescription("Failed asynchronous cache or cold tier writes"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating persist failures counter: %w", err)
	}

	out.backfilled, err = m.Int64Counter(
		"chunkstore.backfill.generated",
		metric.WithDescription("Chunks whose veins were generated and persisted lazily"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating backfill counter: %w", err)
	}

	out.backfillFailed, err = m.Int64Counter(
		"chunkstore.backfill.failures",
		metric.WithDescription("Chunks whose lazy vein persistence failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating backfill failures counter: %w", err)
	}
	return out, nil
}

func (m *metrics) hit(ctx context.Context, tier core.Tier) {
	switch tier {
	case core.TierCache:
		m.cache.Add(1)
	case core.TierCold:
		m.cold.Add(1)
	case core.TierGenerated:
		m.generated.Add(1)
	}
	m.tierHits.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", string(tier))))
}

func (m *metrics) persistFailure(ctx context.Context, target string) {
	m.persistFailed.Add(1)
	m.persistFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
}

func (m *metrics) backfill(ctx context.Context, generated, failed bool) {
	m.checked.Add(1)
	switch {
	case failed:
		m.bad.Add(1)
		m.backfillFailed.Add(ctx, 1)
	case generated:
		m.filled.Add(1)
		m.backfilled.Add(ctx, 1)
	}
}

func (m *metrics) snapshot() Stats {
	return Stats{
		CacheHits:         m.cache.Load(),
		ColdHits:          m.cold.Load(),
		Generated:         m.generated.Load(),
		PersistFailures:   m.persistFailed.Load(),
		BackfillChecked:   m.checked.Load(),
		BackfillGenerated: m.filled.Load(),
		BackfillFailed:    m.bad.Load(),
	}
}
