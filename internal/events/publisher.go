// Package events publishes domain events over watermill. The in-process
// gochannel bus always runs (the async export worker consumes from it); a
// Kafka publisher mirrors events to external consumers when brokers are
// configured.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	TopicSchemeUpdated       = "grading.scheme.updated"
	TopicSubmissionCompleted = "grading.submission.completed"
	TopicExportJobs          = "grading.export.jobs"
	TopicExportJobFinished   = "grading.export.job.finished"
)

type SchemeUpdatedEvent struct {
	SchemeID      uint   `json:"scheme_id"`
	VersionNumber int    `json:"version_number"`
	UpdatedBy     string `json:"updated_by"`
}

type SubmissionCompletedEvent struct {
	SubmissionID      uint   `json:"submission_id"`
	SchemeID          uint   `json:"scheme_id"`
	TotalPointsEarned string `json:"total_points_earned"`
	PercentageScore   string `json:"percentage_score"`
	CompletedBy       string `json:"completed_by"`
}

type ExportJobQueuedEvent struct {
	JobID string `json:"job_id"`
}

type ExportJobFinishedEvent struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Bus wraps the in-process pub/sub plus the optional external mirror.
type Bus struct {
	local  *gochannel.GoChannel
	mirror message.Publisher
	logger *slog.Logger
}

func NewBus(logger *slog.Logger, kafkaBrokers []string) (*Bus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	local := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, wmLogger)

	bus := &Bus{local: local, logger: logger}

	if len(kafkaBrokers) > 0 {
		pub, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:   kafkaBrokers,
			Marshaler: kafka.DefaultMarshaler{},
		}, wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		bus.mirror = pub
	}

	return bus, nil
}

// Publish sends an event on the local bus and mirrors it to Kafka when
// configured. Mirror failures are logged, never propagated: domain writes
// must not fail because a broker is down.
func (b *Bus) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)

	if err := b.local.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	if b.mirror != nil {
		mirrored := message.NewMessage(watermill.NewUUID(), data)
		if err := b.mirror.Publish(topic, mirrored); err != nil {
			b.logger.Warn("failed to mirror event to kafka", "topic", topic, "error", err)
		}
	}
	return nil
}

// Subscribe returns a channel of messages for a topic on the local bus.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.local.Subscribe(ctx, topic)
}

func (b *Bus) Close() error {
	if b.mirror != nil {
		if err := b.mirror.Close(); err != nil {
			b.logger.Warn("failed to close kafka publisher", "error", err)
		}
	}
	return b.local.Close()
}
