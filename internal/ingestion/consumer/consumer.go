// Package consumer reads source webhooks from Kafka topics and feeds them
// to the ingestion processor. Offsets are committed only after a record was
// applied or dead-lettered.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"supporterhub/internal/platform/metrics"
	dErrors "supporterhub/pkg/domain-errors"
	"supporterhub/pkg/requestcontext"
)

// DLQSuffix is appended to a topic name to form its dead-letter topic.
const DLQSuffix = ".dlq"

// Config controls polling and retry behaviour.
type Config struct {
	Brokers      []string
	Group        string
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
	Partitions   int32
	Replication  int16
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 200 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5 * time.Second
	}
	if c.Partitions <= 0 {
		c.Partitions = 3
	}
	if c.Replication <= 0 {
		c.Replication = 1
	}
	return c
}

// producer is the part of *kgo.Client used for dead-lettering.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Consumer polls the routed topics with a consumer group.
type Consumer struct {
	cfg     Config
	client  *kgo.Client
	dlq     producer
	router  *Router
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Consumer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// New creates a consumer for every topic registered on the router.
func New(cfg Config, router *Router, opts ...Option) (*Consumer, error) {
	if router == nil {
		return nil, errors.New("router is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Group == "" {
		return nil, errors.New("consumer group is required")
	}
	cfg = cfg.withDefaults()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(router.Topics()...),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	c := &Consumer{
		cfg:    cfg,
		client: client,
		dlq:    client,
		router: router,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EnsureTopics creates the routed topics and their dead-letter topics.
func (c *Consumer) EnsureTopics(ctx context.Context) error {
	var topics []string
	for _, topic := range c.router.Topics() {
		topics = append(topics, topic, topic+DLQSuffix)
	}
	adm := kadm.NewClient(c.client)
	responses, err := adm.CreateTopics(ctx, c.cfg.Partitions, c.cfg.Replication, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, r := range responses.Sorted() {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Ping checks broker connectivity.
func (c *Consumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

// Run polls until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "kafka consumer started", "group", c.cfg.Group, "topics", c.router.Topics())
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.ErrorContext(ctx, "fetch error", "topic", topic, "partition", partition, "error", err)
		})

		var done []*kgo.Record
		var runErr error
		fetches.EachRecord(func(record *kgo.Record) {
			if runErr != nil {
				return
			}
			if err := c.deliver(ctx, record); err != nil {
				runErr = err
				return
			}
			done = append(done, record)
		})
		if len(done) > 0 {
			if err := c.client.CommitRecords(ctx, done...); err != nil {
				c.logger.ErrorContext(ctx, "commit offsets failed", "error", err)
			}
		}
		if runErr != nil {
			return runErr
		}
	}
}

// Close leaves the group and closes the client.
func (c *Consumer) Close() {
	c.client.Close()
}

// deliver applies one record with bounded retries. A record that cannot be
// applied is dead-lettered; only a failed dead-letter write stops the loop,
// leaving the offset uncommitted for redelivery.
func (c *Consumer) deliver(ctx context.Context, record *kgo.Record) error {
	attempts := 0
	op := func() error {
		attempts++
		recordCtx := requestcontext.WithTime(ctx, time.Now())
		err := c.router.Handle(recordCtx, record)
		if err != nil && !dErrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInitial
	policy.MaxInterval = c.cfg.RetryMax
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxAttempts-1)), ctx)

	err := backoff.Retry(op, retry)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.logger.ErrorContext(ctx, "record failed, dead-lettering",
		"topic", record.Topic,
		"partition", record.Partition,
		"offset", record.Offset,
		"attempts", attempts,
		"error", err,
	)
	return c.deadLetter(ctx, record, err, attempts)
}

func (c *Consumer) deadLetter(ctx context.Context, record *kgo.Record, cause error, attempts int) error {
	headers := append([]kgo.RecordHeader{}, record.Headers...)
	headers = append(headers,
		kgo.RecordHeader{Key: "dlq.error", Value: []byte(cause.Error())},
		kgo.RecordHeader{Key: "dlq.error_code", Value: []byte(dErrors.CodeOf(cause))},
		kgo.RecordHeader{Key: "dlq.attempts", Value: []byte(strconv.Itoa(attempts))},
		kgo.RecordHeader{Key: "dlq.source_offset", Value: []byte(strconv.FormatInt(record.Offset, 10))},
	)
	dlqTopic := record.Topic + DLQSuffix
	dead := &kgo.Record{
		Topic:   dlqTopic,
		Key:     record.Key,
		Value:   record.Value,
		Headers: headers,
	}
	if err := c.dlq.ProduceSync(ctx, dead).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", dlqTopic, err)
	}
	c.metrics.IncrementDeadLettered(record.Topic)
	return nil
}
