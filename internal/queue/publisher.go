// Package queue provides the SQS producer that hands ready publish jobs to
// the publish worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"linkedai/internal/config"
	"linkedai/internal/types"
)

// maxSQSDelay is the hard SQS ceiling on per-message DelaySeconds. Delays
// beyond it are handled by the delay store, never by SQS.
const maxSQSDelay = 900 * time.Second

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// PublishTrigger dispatches PublishJobMessages to the publish queue. The
// sweeper uses it to hand off promoted jobs; the worker uses it to re-queue
// short retries without a round trip through the sweeper.
type PublishTrigger struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewPublishTrigger creates a new PublishTrigger with the given SQS client
// and queue configuration.
func NewPublishTrigger(client SQSSender, queueCfg config.QueueConfig, logger *slog.Logger) *PublishTrigger {
	return &PublishTrigger{
		client:   client,
		queueURL: queueCfg.PublishQueueURL,
		logger:   logger,
	}
}

// SendPublishJob dispatches a job for immediate execution.
func (t *PublishTrigger) SendPublishJob(ctx context.Context, msg *types.PublishJobMessage, reason string) error {
	return t.sendMessage(ctx, msg, 0, reason)
}

// SendRetry dispatches a job with an SQS-level delay. The delay is clamped to
// the 900 second SQS ceiling; longer waits must go through the delay store
// instead.
func (t *PublishTrigger) SendRetry(ctx context.Context, msg *types.PublishJobMessage, delay time.Duration, reason string) error {
	if delay < 0 {
		delay = 0
	}
	if delay > maxSQSDelay {
		delay = maxSQSDelay
	}
	return t.sendMessage(ctx, msg, delay, reason)
}

// sendMessage serializes the PublishJobMessage to JSON and dispatches it to
// the publish queue.
func (t *PublishTrigger) sendMessage(ctx context.Context, msg *types.PublishJobMessage, delay time.Duration, reason string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal PublishJobMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(t.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay / time.Second),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}

	_, err = t.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("queue: failed to send PublishJobMessage to %s: %w", t.queueURL, err)
	}

	t.logger.InfoContext(ctx, "publish job dispatched",
		"queue_url", t.queueURL,
		"job_id", msg.JobID,
		"trace_id", msg.TraceID,
		"attempt", msg.Attempt,
		"delay_seconds", int32(delay/time.Second),
		"reason", reason,
	)

	return nil
}
