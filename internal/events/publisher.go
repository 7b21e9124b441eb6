// Package events publishes execution audit events to Kafka for downstream
// analytics consumers. Publishing is fire-and-forget from the trigger path's
// point of view; delivery failures are logged, never propagated.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fitflow/retention/internal/domain"
)

// ExecutionEvent is the wire shape of one recorded playbook execution.
type ExecutionEvent struct {
	ExecutionID string                 `json:"execution_id"`
	PlaybookID  string                 `json:"playbook_id"`
	MemberID    string                 `json:"member_id"`
	Status      domain.ExecutionStatus `json:"status"`
	SkipReason  domain.SkipReason      `json:"skip_reason,omitempty"`
	MessageID   *string                `json:"message_id,omitempty"`
	TriggeredAt time.Time              `json:"triggered_at"`
	EmittedAt   time.Time              `json:"emitted_at"`
}

// Publisher writes execution events to a Kafka topic, keyed by member id so
// one member's events stay ordered within a partition.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: 5 * time.Second,
		},
	}
}

// ExecutionRecorded publishes one execution event. Errors are logged and
// swallowed so a broker outage never blocks the trigger path.
func (p *Publisher) ExecutionRecorded(ctx context.Context, exec domain.PlaybookExecution) {
	evt := ExecutionEvent{
		ExecutionID: exec.ID,
		PlaybookID:  exec.PlaybookID,
		MemberID:    exec.MemberID,
		Status:      exec.Status,
		SkipReason:  exec.SkipReason,
		MessageID:   exec.MessageID,
		TriggeredAt: exec.TriggeredAt,
		EmittedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[events.Publisher] Marshal execution %s: %v", exec.ID, err)
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(exec.MemberID),
		Value: data,
	}); err != nil {
		log.Printf("[events.Publisher] Publish execution %s: %v", exec.ID, err)
	}
}

// Close closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
