package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Consumer consumes dispatch jobs from a RabbitMQ queue
type Consumer struct {
	conn      *Connection
	queueName string
	handler   DispatchHandler
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// DispatchHandler processes one dispatch job.
type DispatchHandler func(job *DispatchJob) error

// NewConsumer creates a new consumer instance
func NewConsumer(conn *Connection, queueName string, handler DispatchHandler) (*Consumer, error) {
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

	// Declare queue (same settings as publisher: durable, non-auto-delete)
	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &Consumer{
		conn:      conn,
		queueName: queueName,
		handler:   handler,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}, nil
}

// Start starts consuming dispatch jobs from the queue
func (c *Consumer) Start() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	// One campaign dispatch at a time per worker; campaigns run
	// concurrently by scaling workers, not by parallel fan-out.
	err = ch.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual acknowledgement)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		defer close(c.doneChan)

		for {
			select {
			case <-c.stopChan:
				logrus.Info("Consumer stopping...")
				return
			case d, ok := <-msgs:
				if !ok {
					logrus.Warn("Delivery channel closed")
					return
				}

				if err := c.processDelivery(d); err != nil {
					logrus.WithError(err).Error("Error processing dispatch job")
					// A dispatch run is not retryable by redelivery: the
					// status CAS already decided the outcome. Drop it.
					d.Nack(false, false)
				} else {
					d.Ack(false)
				}
			}
		}
	}()

	logrus.WithField("queue", c.queueName).Info("Consumer started")
	return nil
}

// Stop stops consuming messages gracefully
func (c *Consumer) Stop() error {
	close(c.stopChan)
	<-c.doneChan

	logrus.Info("Consumer stopped")
	return nil
}

// processDelivery decodes and handles a single delivery
func (c *Consumer) processDelivery(d amqp.Delivery) error {
	var job DispatchJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		return fmt.Errorf("failed to unmarshal dispatch job: %w", err)
	}

	if err := c.handler(&job); err != nil {
		return fmt.Errorf("handler failed: %w", err)
	}

	return nil
}
