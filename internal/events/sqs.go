package events

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/dashboard-sync/pkg/logging"
)

// SQSAPI is the subset of the SQS client the consumer uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSConsumer long-polls a queue of invalidation envelopes.
type SQSConsumer struct {
	client     SQSAPI
	queueURL   string
	dispatcher *Dispatcher
	logger     *logging.Logger
	batchSize  int32
	waitSecs   int32
}

func NewSQSConsumer(client SQSAPI, queueURL string, dispatcher *Dispatcher, logger *logging.Logger) *SQSConsumer {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSConsumer{
		client:     client,
		queueURL:   queueURL,
		dispatcher: dispatcher,
		logger:     logger.With("component", "events.sqs"),
		batchSize:  10,
		waitSecs:   20,
	}
}

// Run polls until ctx is done.
func (c *SQSConsumer) Run(ctx context.Context) {
	c.logger.Info("sqs consumer started", "queue_url", c.queueURL)
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: c.batchSize,
			WaitTimeSeconds:     c.waitSecs,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			c.logger.Error("failed to receive invalidation events", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range out.Messages {
			c.handleMessage(ctx, msg)
		}
	}
}

// handleMessage deletes the message once applied, or when it can never be
// applied. Anything else stays on the queue for redelivery.
func (c *SQSConsumer) handleMessage(ctx context.Context, msg sqstypes.Message) {
	err := c.dispatcher.HandleBody(ctx, []byte(aws.ToString(msg.Body)))
	if err != nil && !IsPermanent(err) {
		c.logger.Error("invalidation event failed", "message_id", aws.ToString(msg.MessageId), "error", err)
		return
	}
	if err != nil {
		c.logger.Warn("dropping malformed event", "message_id", aws.ToString(msg.MessageId), "error", err)
	}
	if msg.ReceiptHandle == nil {
		return
	}
	_, derr := c.client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if derr != nil {
		c.logger.Error("failed to delete SQS message", "message_id", aws.ToString(msg.MessageId), "error", derr)
	}
}
