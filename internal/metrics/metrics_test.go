package metrics

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"linkedai/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func newTestMetrics(cw *mockCloudWatchClient) *CloudWatchMetrics {
	return NewCloudWatchMetrics(cw, "LinkedAI", slog.Default())
}

func TestRecordPublish_EmitsAttemptAndLatency(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := newTestMetrics(cw)

	m.RecordPublish(context.Background(), ResultSuccess, 1500*time.Millisecond)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}
	input := cw.calls[0]
	if *input.Namespace != "LinkedAI" {
		t.Errorf("expected namespace LinkedAI, got %s", *input.Namespace)
	}
	if len(input.MetricData) != 2 {
		t.Fatalf("expected 2 metric data (attempt + latency), got %d", len(input.MetricData))
	}

	attempt := input.MetricData[0]
	if *attempt.MetricName != MetricPublishAttempt {
		t.Errorf("expected %s, got %s", MetricPublishAttempt, *attempt.MetricName)
	}
	if *attempt.Value != 1.0 {
		t.Errorf("expected value 1.0, got %f", *attempt.Value)
	}
	if *attempt.Dimensions[0].Value != string(ResultSuccess) {
		t.Errorf("expected success dimension, got %s", *attempt.Dimensions[0].Value)
	}

	latency := input.MetricData[1]
	if *latency.MetricName != MetricPublishLatency {
		t.Errorf("expected %s, got %s", MetricPublishLatency, *latency.MetricName)
	}
	if *latency.Value != 1500.0 {
		t.Errorf("expected 1500ms, got %f", *latency.Value)
	}
	if latency.Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("expected milliseconds unit, got %s", latency.Unit)
	}
}

func TestRecordPublish_ZeroLatencyOmitsLatencyDatum(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := newTestMetrics(cw)

	m.RecordPublish(context.Background(), ResultSkipped, 0)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(cw.calls))
	}
	if len(cw.calls[0].MetricData) != 1 {
		t.Errorf("expected only the attempt datum, got %d", len(cw.calls[0].MetricData))
	}
}

func TestRecordQueueStats_OneDatumPerState(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := newTestMetrics(cw)

	m.RecordQueueStats(context.Background(), &types.QueueStats{
		Waiting: 3, Active: 1, Delayed: 10, Completed: 500, Failed: 2,
	})

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(cw.calls))
	}
	data := cw.calls[0].MetricData
	if len(data) != 5 {
		t.Fatalf("expected 5 data points, got %d", len(data))
	}

	byState := map[string]float64{}
	for _, d := range data {
		if *d.MetricName != MetricQueueDepth {
			t.Errorf("expected %s, got %s", MetricQueueDepth, *d.MetricName)
		}
		byState[*d.Dimensions[0].Value] = *d.Value
	}
	if byState["delayed"] != 10 || byState["failed"] != 2 {
		t.Errorf("unexpected depths: %+v", byState)
	}
}

func TestRecordQueueLag_NegativeClampedToZero(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := newTestMetrics(cw)

	m.RecordQueueLag(context.Background(), -5*time.Second)

	if *cw.calls[0].MetricData[0].Value != 0 {
		t.Errorf("expected lag clamped to 0, got %f", *cw.calls[0].MetricData[0].Value)
	}
}

func TestRecordCyclePhase_SetsPhaseDimension(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := newTestMetrics(cw)

	m.RecordCyclePhase(context.Background(), "reset", 42)

	datum := cw.calls[0].MetricData[0]
	if *datum.MetricName != MetricCycleProcessed {
		t.Errorf("expected %s, got %s", MetricCycleProcessed, *datum.MetricName)
	}
	if *datum.Dimensions[0].Name != DimPhase || *datum.Dimensions[0].Value != "reset" {
		t.Errorf("unexpected dimensions: %+v", datum.Dimensions)
	}
	if *datum.Value != 42.0 {
		t.Errorf("expected 42, got %f", *datum.Value)
	}
}

func TestPut_EmissionFailureIsSwallowed(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	m := newTestMetrics(cw)

	// Must not panic or surface the error.
	m.RecordSweep(context.Background(), 7)

	if len(cw.calls) != 1 {
		t.Fatalf("expected the call to be attempted, got %d", len(cw.calls))
	}
}
