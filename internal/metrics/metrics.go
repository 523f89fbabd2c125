// Package metrics emits operational metrics to AWS CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"linkedai/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metric and dimension names.
const (
	MetricPublishAttempt = "PublishAttempt"
	MetricPublishLatency = "PublishLatency"
	MetricQueueDepth     = "QueueDepth"
	MetricQueueLag       = "QueueLag"
	MetricSweepPromoted  = "SweepPromoted"
	MetricCycleProcessed = "CycleProcessed"

	DimResult = "Result"
	DimState  = "State"
	DimPhase  = "Phase"
)

// Result values for the PublishAttempt metric.
type Result string

const (
	ResultSuccess Result = "success"
	ResultRetry   Result = "retry"
	ResultFailure Result = "failure"
	ResultSkipped Result = "skipped"
)

// EngineMetrics is the engine-wide metrics interface. Emission failures are
// logged and swallowed; metrics must never fail a job.
type EngineMetrics interface {
	RecordPublish(ctx context.Context, result Result, latency time.Duration)
	RecordQueueStats(ctx context.Context, stats *types.QueueStats)
	RecordQueueLag(ctx context.Context, lag time.Duration)
	RecordSweep(ctx context.Context, promoted int)
	RecordCyclePhase(ctx context.Context, phase string, processed int)
}

// CloudWatchMetrics implements EngineMetrics against CloudWatch.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ EngineMetrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a publisher for the given namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordPublish emits the attempt counter with a Result dimension and, when
// latency is positive, the latency in milliseconds.
func (m *CloudWatchMetrics) RecordPublish(ctx context.Context, result Result, latency time.Duration) {
	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricPublishAttempt),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(DimResult), Value: aws.String(string(result))},
			},
		},
	}
	if latency > 0 {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(MetricPublishLatency),
			Value:      aws.Float64(float64(latency.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(DimResult), Value: aws.String(string(result))},
			},
		})
	}
	m.put(ctx, data, "publish")
}

// RecordQueueStats emits one QueueDepth datum per delay-store state.
func (m *CloudWatchMetrics) RecordQueueStats(ctx context.Context, stats *types.QueueStats) {
	depths := map[string]int{
		"waiting":   stats.Waiting,
		"active":    stats.Active,
		"delayed":   stats.Delayed,
		"completed": stats.Completed,
		"failed":    stats.Failed,
	}

	data := make([]cwtypes.MetricDatum, 0, len(depths))
	for state, depth := range depths {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(MetricQueueDepth),
			Value:      aws.Float64(float64(depth)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(DimState), Value: aws.String(state)},
			},
		})
	}
	m.put(ctx, data, "queue stats")
}

// RecordQueueLag emits the delay between a job becoming due and a worker
// picking it up.
func (m *CloudWatchMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricQueueLag),
			Value:      aws.Float64(float64(lag.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
		},
	}, "queue lag")
}

// RecordSweep emits the number of jobs promoted by a sweep pass.
func (m *CloudWatchMetrics) RecordSweep(ctx context.Context, promoted int) {
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricSweepPromoted),
			Value:      aws.Float64(float64(promoted)),
			Unit:       cwtypes.StandardUnitCount,
		},
	}, "sweep")
}

// RecordCyclePhase emits the number of subscriptions processed by one
// reconciler phase.
func (m *CloudWatchMetrics) RecordCyclePhase(ctx context.Context, phase string, processed int) {
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricCycleProcessed),
			Value:      aws.Float64(float64(processed)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(DimPhase), Value: aws.String(phase)},
			},
		},
	}, "cycle phase")
}

func (m *CloudWatchMetrics) put(ctx context.Context, data []cwtypes.MetricDatum, what string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record metric",
			"metric", what,
			"error", err,
		)
	}
}

// NoopMetrics discards all metrics. Used in local mode and tests.
type NoopMetrics struct{}

var _ EngineMetrics = (*NoopMetrics)(nil)

func (NoopMetrics) RecordPublish(context.Context, Result, time.Duration)  {}
func (NoopMetrics) RecordQueueStats(context.Context, *types.QueueStats)   {}
func (NoopMetrics) RecordQueueLag(context.Context, time.Duration)         {}
func (NoopMetrics) RecordSweep(context.Context, int)                      {}
func (NoopMetrics) RecordCyclePhase(context.Context, string, int)         {}
