package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sd8capricon/graph-rag/internal/jobs"
	"github.com/sd8capricon/graph-rag/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// MaxRetries is the number of redeliveries before a message goes to the
// dead-letter queue.
const MaxRetries = 10

// ErrMalformed marks messages that can never succeed. They skip the retry
// queue.
var ErrMalformed = errors.New("malformed message")

// Handler processes one message body.
type Handler func(ctx context.Context, body []byte) error

// HandleIngest decodes a job message and runs the job.
func HandleIngest(m *jobs.Manager) Handler {
	return func(ctx context.Context, body []byte) error {
		var msg jobs.Message
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		if msg.JobID == "" {
			return fmt.Errorf("%w: missing job_id", ErrMalformed)
		}
		return m.Run(ctx, msg.JobID)
	}
}

// Process runs handler on msg, then acknowledges it or routes it to the
// retry or dead-letter queue.
func Process(ctx context.Context, ch publishChannel, msg amqp091.Delivery, queueName string, handler Handler) error {
	err := handler(ctx, msg.Body)
	if err == nil {
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Error("[Queue] Failed to ack message", "err", ackErr)
		}
		return nil
	}

	logger.Error("[Queue] Error processing message", "queue", queueName, "err", err)
	retries := Retries(msg.Headers)
	if errors.Is(err, ErrMalformed) {
		retries = MaxRetries
	}
	handleProcessingError(ctx, ch, msg, queueName, retries)
	return err
}

// Retries reads the x-retries header. The broker may hand back the
// counter as any integer width.
func Retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

func handleProcessingError(ctx context.Context, ch publishChannel, msg amqp091.Delivery, queueName string, retries int) {
	// If message has been retried too often, send to dead-letter
	if retries >= MaxRetries {
		dlqName := queueName + "_dlq"
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName)
		if err := PublishFIFO(ctx, ch, dlqName, msg.Body, msg.Headers); err != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", err)
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(retries + 1)

	if err := PublishFIFO(ctx, ch, retryName, msg.Body, headers); err != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
