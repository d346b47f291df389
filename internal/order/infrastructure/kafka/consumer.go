package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sunchuangxin/mall/internal/order/application"
	"github.com/sunchuangxin/mall/internal/order/domain"
	"github.com/sunchuangxin/mall/pkg/idempotency"
	"github.com/sunchuangxin/mall/pkg/tracing"
)

const (
	defaultRetryBase = 500 * time.Millisecond
	defaultRetryMax  = 30 * time.Second
)

// Consumer runs one subscription and decodes every message into T. The
// group offset is a single per-partition watermark, so a failed message is
// retried in place with backoff rather than skipped: committing any later
// message would mark the failed one processed forever. A decode failure is
// poison and is committed away after logging.
type Consumer[T any] struct {
	log       *slog.Logger
	reader    *kafka.Reader
	idem      *idempotency.Store
	tracer    trace.Tracer
	spanName  string
	handle    func(ctx context.Context, ev T) error
	retryBase time.Duration
	retryMax  time.Duration
}

func NewCreationConsumer(log *slog.Logger, brokers []string, topic, group string, pipeline *application.Pipeline, idem *idempotency.Store) *Consumer[domain.OrderCreated] {
	return newConsumer(log, brokers, topic, group, idem, "ConsumeOrderCreated", pipeline.HandleOrderCreated)
}

func NewExpiryConsumer(log *slog.Logger, brokers []string, topic, group string, comp *application.Compensator, idem *idempotency.Store) *Consumer[domain.OrderExpired] {
	return newConsumer(log, brokers, topic, group, idem, "ConsumeOrderExpired", comp.HandleOrderExpired)
}

func newConsumer[T any](log *slog.Logger, brokers []string, topic, group string, idem *idempotency.Store, spanName string, handle func(ctx context.Context, ev T) error) *Consumer[T] {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer[T]{
		log:       log,
		reader:    r,
		idem:      idem,
		tracer:    otel.Tracer("order-consumer"),
		spanName:  spanName,
		handle:    handle,
		retryBase: defaultRetryBase,
		retryMax:  defaultRetryMax,
	}
}

func (c *Consumer[T]) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			c.log.Error("idempotency check failed", "err", err)
			continue
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, c.spanName)

		var ev T
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.Error("unmarshal failed, dropping message", "topic", msg.Topic, "offset", msg.Offset, "err", err)
			span.End()
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		err = c.handleWithRetry(msgCtx, ev, msg.Topic, msg.Offset)
		span.End()
		if err != nil {
			// Shutting down mid-message: release the dedupe claim so the
			// redelivered message is not skipped by the next instance.
			if ferr := c.idem.Forget(context.WithoutCancel(ctx), key); ferr != nil {
				c.log.Error("idempotency release failed", "key", key, "err", ferr)
			}
			return err
		}
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

// handleWithRetry works on one message until it succeeds or the consumer
// shuts down; the only exit besides success is ctx.Err.
func (c *Consumer[T]) handleWithRetry(ctx context.Context, ev T, topic string, offset int64) error {
	backoff := c.retryBase
	for {
		err := c.handle(ctx, ev)
		if err == nil {
			return nil
		}
		c.log.Error("message handling failed, retrying in place",
			"topic", topic, "offset", offset, "backoff", backoff, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.retryMax {
			backoff = c.retryMax
		}
	}
}
