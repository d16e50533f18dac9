package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// JobHandler processes one dispatch job
type JobHandler func(ctx context.Context, job *DispatchJob) error

// Consumer consumes dispatch jobs from a RabbitMQ queue
type Consumer struct {
	conn      *Connection
	queueName string
	handler   JobHandler
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewConsumer creates a new consumer instance
func NewConsumer(conn *Connection, queueName string, handler JobHandler) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if err := declareQueue(ch, queueName); err != nil {
		return nil, err
	}

	return &Consumer{
		conn:      conn,
		queueName: queueName,
		handler:   handler,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}, nil
}

// Start starts consuming jobs until Stop is called or ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	// dispatch jobs only launch background runs, so a small prefetch is enough
	if err := ch.Qos(4, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		defer close(c.doneChan)

		for {
			select {
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					log.Warn().Str("queue", c.queueName).Msg("Delivery channel closed")
					return
				}
				c.handleDelivery(ctx, d)
			}
		}
	}()

	log.Info().Str("queue", c.queueName).Msg("Consumer started")
	return nil
}

// Stop stops consuming jobs gracefully
func (c *Consumer) Stop() error {
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	<-c.doneChan

	log.Info().Str("queue", c.queueName).Msg("Consumer stopped")
	return nil
}

// handleDelivery acks handled jobs, requeues failed ones and drops malformed ones
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	job, err := decodeJob(d.Body)
	if err != nil {
		log.Error().Err(err).Str("body", string(d.Body)).Msg("Dropping malformed dispatch job")
		d.Nack(false, false)
		return
	}

	if err := c.handler(ctx, job); err != nil {
		log.Error().Err(err).Int("campaign_id", job.CampaignID).Bool("redelivered", d.Redelivered).Msg("Dispatch job failed")
		// a second failure is left to the scheduler rather than looping on the queue
		d.Nack(false, !d.Redelivered)
		return
	}
	d.Ack(false)
}

func decodeJob(body []byte) (*DispatchJob, error) {
	var job DispatchJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dispatch job: %w", err)
	}
	if job.CampaignID <= 0 {
		return nil, fmt.Errorf("dispatch job has no campaign id")
	}
	return &job, nil
}
