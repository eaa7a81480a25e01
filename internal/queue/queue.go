// Package queue wraps the SQS job channel. Producers dispatch one
// JobMessage per completed upload; the worker consumes them with
// at-least-once semantics and acknowledges by deletion.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/vodworks/pipeline/pkg/models"
)

// SQSAPI is the subset of the SQS client the queue package needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Queue is a producer/consumer handle for one SQS queue.
type Queue struct {
	client   SQSAPI
	queueURL string
}

// New creates a Queue over an existing SQS client.
func New(client SQSAPI, queueURL string) *Queue {
	return &Queue{client: client, queueURL: queueURL}
}

// Publish enqueues one job message. Callers on the upload path treat
// failures as best-effort: logged and counted, never propagated.
func (q *Queue) Publish(ctx context.Context, msg models.JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", models.ErrQueueUnavailable, err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}
	return nil
}

// Receive long-polls for up to one message. A nil message means the
// queue was empty for the full wait interval.
func (q *Queue) Receive(ctx context.Context, waitSeconds, visibilitySeconds int32) (*types.Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     waitSeconds,
		VisibilityTimeout:   visibilitySeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	return &out.Messages[0], nil
}

// Ack deletes a received message. An un-acked message reappears after
// its visibility window elapses.
func (q *Queue) Ack(ctx context.Context, receiptHandle *string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// CheckConnectivity verifies the queue is reachable and the caller is
// authorized. Worker startup aborts on failure.
func (q *Queue) CheckConnectivity(ctx context.Context) error {
	_, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
		},
	})
	if err != nil {
		return fmt.Errorf("queue connectivity check: %w", err)
	}
	return nil
}
