package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) PublishUnitResult(ctx context.Context, msg UnitResultMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid unit result message: %w", err)
	}
	return p.publish(ctx, ResultsQueueName, msg.UnitID, msg)
}

func (p *RabbitMQPublisher) PublishBatchFinalized(ctx context.Context, msg BatchFinalizedMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid batch finalized message: %w", err)
	}
	return p.publish(ctx, BatchesQueueName, msg.BatchID, msg)
}

func (p *RabbitMQPublisher) publish(ctx context.Context, queueName, messageID string, body any) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal export message: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    messageID,
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, "", queueName, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message to queue %q: %w", queueName, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
