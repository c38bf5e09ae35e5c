// Package metrics records the node's OpenTelemetry instruments: reorg
// depth, orphan-pool occupancy, and block-append latency. otel and
// otel/metric are already indirect dependencies of badger; this gives them
// a direct call site rather than leaving them unexercised.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Chain holds the instruments the engine façade reports against.
type Chain struct {
	reorgDepth     metric.Int64Histogram
	orphanPoolSize metric.Int64Gauge
	appendLatency  metric.Float64Histogram
}

// NewChain registers the chain instruments on the global meter provider.
func NewChain() (*Chain, error) {
	meter := otel.Meter("chronodrachma/chain")

	reorgDepth, err := meter.Int64Histogram(
		"chrd.chain.reorg_depth",
		metric.WithDescription("number of blocks rewound during a chain switch"),
	)
	if err != nil {
		return nil, err
	}

	orphanPoolSize, err := meter.Int64Gauge(
		"chrd.chain.orphan_pool_size",
		metric.WithDescription("current number of blocks held in the orphan pool"),
	)
	if err != nil {
		return nil, err
	}

	appendLatency, err := meter.Float64Histogram(
		"chrd.chain.append_latency_seconds",
		metric.WithDescription("AppendBlock wall-clock latency"),
	)
	if err != nil {
		return nil, err
	}

	return &Chain{
		reorgDepth:     reorgDepth,
		orphanPoolSize: orphanPoolSize,
		appendLatency:  appendLatency,
	}, nil
}

// RecordReorg records the depth of a completed chain switch.
func (c *Chain) RecordReorg(ctx context.Context, depth int64) {
	c.reorgDepth.Record(ctx, depth)
}

// RecordOrphanPoolSize reports the orphan pool's current occupancy.
func (c *Chain) RecordOrphanPoolSize(ctx context.Context, size int64) {
	c.orphanPoolSize.Record(ctx, size)
}

// RecordAppend reports how long an AppendBlock call took.
func (c *Chain) RecordAppend(ctx context.Context, d time.Duration) {
	c.appendLatency.Record(ctx, d.Seconds())
}
