package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/sunchuangxin/mall/internal/order/domain"
	"github.com/sunchuangxin/mall/pkg/tracing"
)

type Writer struct {
	*kafka.Writer
}

func NewWriter(brokers []string) *Writer {
	return &Writer{
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Publisher emits the two event kinds of the order flow. Messages are keyed
// by order ID so all events of one order land on one partition.
type Publisher struct {
	writer        *Writer
	creationTopic string
	expiryTopic   string
}

func NewPublisher(writer *Writer, creationTopic, expiryTopic string) *Publisher {
	return &Publisher{writer: writer, creationTopic: creationTopic, expiryTopic: expiryTopic}
}

func (p *Publisher) PublishOrderCreated(ctx context.Context, ev domain.OrderCreated) error {
	return p.publish(ctx, p.creationTopic, "OrderCreated", ev.OrderID, ev)
}

func (p *Publisher) PublishOrderExpired(ctx context.Context, orderID int64) error {
	return p.publish(ctx, p.expiryTopic, "OrderExpired", orderID, domain.OrderExpired{OrderID: orderID})
}

func (p *Publisher) publish(ctx context.Context, topic, eventType string, orderID int64, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	headers := []kafka.Header{{Key: "event_type", Value: []byte(eventType)}}
	headers = tracing.InjectKafkaHeaders(ctx, headers)

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(strconv.FormatInt(orderID, 10)),
		Value:   value,
		Headers: headers,
	})
}
