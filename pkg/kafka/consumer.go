package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"callboard/pkg/logging"
)

// Message is a consumed Kafka record, decoupled from the client library
type Message struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
}

// Handler processes one message. Returning an error blocks the partition:
// neither the message nor anything after it is committed.
type Handler func(ctx context.Context, msg Message) error

// LagFunc receives the distance between the last fetched offset of a
// partition and its high watermark after each poll.
type LagFunc func(topic string, partition int32, lag int64)

// ConsumerConfig configures a group consumer.
type ConsumerConfig struct {
	Brokers   []string
	GroupID   string
	ClusterID string
	ClientID  string
	OnLag     LagFunc
}

// Consumer polls a consumer group and routes records to per-topic handlers
type Consumer struct {
	client    *kgo.Client
	logger    logging.Logger
	clusterID string
	groupID   string
	onLag     LagFunc
	handlers  map[string]Handler
	mu        sync.RWMutex
}

// NewConsumer creates a new Kafka consumer. Offsets are committed manually
// after successful handling.
func NewConsumer(cfg ConsumerConfig, logger logging.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: no brokers configured")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Consumer{
		client:    client,
		logger:    logger,
		clusterID: cfg.ClusterID,
		groupID:   cfg.GroupID,
		onLag:     cfg.OnLag,
		handlers:  make(map[string]Handler),
	}, nil
}

// AddHandler registers a handler for a specific topic and subscribes to it
func (c *Consumer) AddHandler(topic string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[topic] = handler
	if c.client != nil {
		c.client.AddConsumeTopics(topic)
	}
}

// Close closes the underlying client
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// Ping checks broker connectivity.
func (c *Consumer) Ping(ctx context.Context) error {
	if c.client == nil {
		return errors.New("kafka client not initialised")
	}
	if err := c.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka ping: %w", err)
	}
	return nil
}

// Start polls until ctx is done. A cancelled context is a clean stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.WithFields(logging.Fields{
		"group_id":   c.groupID,
		"cluster_id": c.clusterID,
	}).Info("Kafka consumer started")

	for {
		if ctx.Err() != nil {
			return nil
		}

		fetches := c.client.PollFetches(ctx)
		if errs := fetches.Errors(); len(errs) > 0 {
			if ctx.Err() != nil {
				return nil
			}
			for _, fe := range errs {
				c.logger.WithError(fe.Err).WithFields(logging.Fields{
					"topic":     fe.Topic,
					"partition": fe.Partition,
				}).Error("Kafka fetch error")
			}
			continue
		}

		c.reportLag(fetches)

		records := make([]*kgo.Record, 0, fetches.NumRecords())
		iter := fetches.RecordIter()
		for !iter.Done() {
			records = append(records, iter.Next())
		}

		commitRecords := c.processRecords(ctx, records)
		if len(commitRecords) > 0 {
			if err := c.client.CommitRecords(ctx, commitRecords...); err != nil {
				c.logger.WithError(err).Error("Failed to commit records")
			}
		}
	}
}

func (c *Consumer) reportLag(fetches kgo.Fetches) {
	if c.onLag == nil {
		return
	}
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		if len(p.Records) == 0 {
			return
		}
		c.onLag(p.Topic, p.Partition, partitionLag(p.HighWatermark, p.Records[len(p.Records)-1].Offset))
	})
}

func partitionLag(highWatermark, lastOffset int64) int64 {
	lag := highWatermark - lastOffset - 1
	if lag < 0 {
		return 0
	}
	return lag
}

func (c *Consumer) processRecords(ctx context.Context, records []*kgo.Record) []*kgo.Record {
	type topicPartition struct {
		topic     string
		partition int32
	}
	blocked := make(map[topicPartition]bool)
	lastSuccess := make(map[topicPartition]*kgo.Record)

	for _, record := range records {
		tp := topicPartition{topic: record.Topic, partition: record.Partition}
		if blocked[tp] {
			// committing past a failed offset would skip it on restart
			continue
		}

		c.mu.RLock()
		handler, exists := c.handlers[record.Topic]
		c.mu.RUnlock()

		if !exists {
			c.logger.WithField("topic", record.Topic).Warn("No handler registered for topic")
			lastSuccess[tp] = record
			continue
		}

		if err := handler(ctx, toMessage(record)); err != nil {
			c.logger.WithError(err).WithFields(logging.Fields{
				"topic":     record.Topic,
				"partition": record.Partition,
				"offset":    record.Offset,
			}).Error("Failed to handle message - will retry on restart")
			blocked[tp] = true
			continue
		}

		lastSuccess[tp] = record
	}

	if len(lastSuccess) == 0 {
		return nil
	}

	commitRecords := make([]*kgo.Record, 0, len(lastSuccess))
	for _, record := range lastSuccess {
		commitRecords = append(commitRecords, record)
	}
	return commitRecords
}

func toMessage(record *kgo.Record) Message {
	hdrs := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		hdrs[h.Key] = string(h.Value)
	}
	return Message{
		Key:       record.Key,
		Value:     record.Value,
		Headers:   hdrs,
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Timestamp: record.Timestamp,
	}
}
