package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DispatchMode selects what a worker dispatch run processes.
type DispatchMode string

const (
	// DispatchModeStart runs the full pending-message loop (start or resume).
	DispatchModeStart DispatchMode = "start"
	// DispatchModeResendFailed re-attempts only previously failed messages.
	DispatchModeResendFailed DispatchMode = "resend_failed"
)

// DispatchJob asks a worker to run one dispatch pass over a campaign. Jobs
// are campaign-granular: the worker owns the sequential per-message loop.
type DispatchJob struct {
	JobID      string       `json:"job_id"`
	CampaignID int          `json:"campaign_id"`
	Mode       DispatchMode `json:"mode"`
}

// Publisher publishes dispatch jobs to RabbitMQ
type Publisher struct {
	conn      *Connection
	queueName string
}

// NewPublisher creates a new publisher instance
func NewPublisher(conn *Connection, queueName string) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	// Declare queue (durable, non-auto-delete, non-exclusive)
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

	return &Publisher{
		conn:      conn,
		queueName: queueName,
	}, nil
}

// PublishDispatch publishes a dispatch job for a campaign and returns the job id.
func (p *Publisher) PublishDispatch(campaignID int, mode DispatchMode) (string, error) {
	job := DispatchJob{
		JobID:      uuid.NewString(),
		CampaignID: campaignID,
		Mode:       mode,
	}

	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal dispatch job: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return "", fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.Publish(
		"",          // exchange (default)
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to publish dispatch job: %w", err)
	}

	return job.JobID, nil
}

// Close closes the publisher (no-op, connection managed externally)
func (p *Publisher) Close() error {
	return nil
}
