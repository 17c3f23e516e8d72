package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
)

const (
	outcomeSuccess = "success"
	outcomeCache   = "cache"
)

type pipelineMetrics struct {
	requests  metric.Int64Counter
	retries   metric.Int64Counter
	dedupHits metric.Int64Counter
}

func newPipelineMetrics(mp metric.MeterProvider) (*pipelineMetrics, error) {
	meter := mp.Meter("http-pipeline")
	m := &pipelineMetrics{}
	var err error
	if m.requests, err = meter.Int64Counter("http.client.requests",
		metric.WithDescription("Send calls by final outcome")); err != nil {
		return nil, fmt.Errorf("failed to create requests counter: %w", err)
	}
	if m.retries, err = meter.Int64Counter("http.client.retries",
		metric.WithDescription("Re-dispatches scheduled by the retry policy")); err != nil {
		return nil, fmt.Errorf("failed to create retries counter: %w", err)
	}
	if m.dedupHits, err = meter.Int64Counter("http.client.dedup_hits",
		metric.WithDescription("Requests coalesced into an identical in-flight request")); err != nil {
		return nil, fmt.Errorf("failed to create dedup hits counter: %w", err)
	}
	return m, nil
}

func (m *pipelineMetrics) recordRequest(ctx context.Context, method string, resp *request.Response, err error) {
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcomeLabel(resp, err)),
	))
}

func (m *pipelineMetrics) recordRetry(ctx context.Context, method string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

func (m *pipelineMetrics) recordDedupHit(ctx context.Context, method string) {
	m.dedupHits.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

func outcomeLabel(resp *request.Response, err error) string {
	if err != nil {
		if k := KindOf(err); k != 0 {
			return k.String()
		}
		return "invalid"
	}
	if resp != nil && resp.FromCache {
		return outcomeCache
	}
	return outcomeSuccess
}
