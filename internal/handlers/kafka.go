package handlers

import (
	"context"
	"errors"
	"time"

	"callboard/internal/hub"
	"callboard/internal/metrics"
	"callboard/pkg/kafka"
	"callboard/pkg/logging"
	"callboard/pkg/validation"
)

// DeadLetterSink receives records that can never be published.
type DeadLetterSink interface {
	Send(ctx context.Context, msg kafka.Message, cause error) error
}

// KafkaIngest publishes announcements consumed from Kafka.
type KafkaIngest struct {
	board      Board
	validator  *validation.AnnouncementValidator
	deadLetter DeadLetterSink
	logger     logging.Logger
	metrics    *metrics.Metrics
}

// NewKafkaIngest creates the Kafka record handler. deadLetter may be nil.
func NewKafkaIngest(board Board, deadLetter DeadLetterSink, logger logging.Logger, m *metrics.Metrics) *KafkaIngest {
	return &KafkaIngest{
		board:      board,
		validator:  validation.NewAnnouncementValidator(),
		deadLetter: deadLetter,
		logger:     logger,
		metrics:    m,
	}
}

// HandleMessage is a kafka.Handler. Malformed records are committed; a hub
// failure is returned so the partition stops at this offset.
func (k *KafkaIngest) HandleMessage(ctx context.Context, msg kafka.Message) error {
	start := time.Now()
	log := k.logger.WithFields(logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	payload, err := k.validator.DecodeBody(msg.Value)
	if err != nil {
		log.WithError(err).Warn("Rejected Kafka announcement")
		k.metrics.KafkaRecord(msg.Topic, "invalid", time.Since(start))
		k.metrics.Published(hub.SourceKafka, "invalid")
		k.sendDeadLetter(ctx, log, msg, err)
		return nil
	}

	receipt, err := k.board.Submit(ctx, hub.SourceKafka, payload)
	if err != nil {
		k.metrics.KafkaRecord(msg.Topic, "failed", time.Since(start))
		if errors.Is(err, hub.ErrHubClosed) || ctx.Err() != nil {
			log.WithError(err).Warn("Hub unavailable, Kafka record left uncommitted")
		} else {
			log.WithError(err).Error("Failed to publish Kafka announcement")
		}
		return err
	}

	k.metrics.KafkaRecord(msg.Topic, "ok", time.Since(start))
	log.WithFields(logging.Fields{
		"announcement_id": receipt.Announcement.ID,
		"subscribers":     receipt.Subscribers,
	}).Debug("Kafka announcement published")
	return nil
}

func (k *KafkaIngest) sendDeadLetter(ctx context.Context, log logging.Entry, msg kafka.Message, cause error) {
	if k.deadLetter == nil {
		return
	}
	if err := k.deadLetter.Send(ctx, msg, cause); err != nil {
		log.WithError(err).Error("Failed to forward record to dead letter topic")
	}
}
