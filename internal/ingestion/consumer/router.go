package consumer

import (
	"context"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// TopicHandler handles records from one topic.
type TopicHandler interface {
	Handle(ctx context.Context, record *kgo.Record) error
}

// Router dispatches records to topic-specific handlers.
type Router struct {
	handlers map[string]TopicHandler
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers: make(map[string]TopicHandler),
		logger:   logger,
	}
}

// Register adds a handler for a topic.
func (r *Router) Register(topic string, handler TopicHandler) {
	r.handlers[topic] = handler
}

// Topics lists every registered topic.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	return topics
}

// Handle routes the record to its topic handler. Records for unknown topics
// are skipped so they get committed rather than redelivered forever.
func (r *Router) Handle(ctx context.Context, record *kgo.Record) error {
	handler, ok := r.handlers[record.Topic]
	if !ok {
		r.logger.WarnContext(ctx, "no handler for topic, skipping record",
			"topic", record.Topic,
			"key", string(record.Key),
		)
		return nil
	}
	return handler.Handle(ctx, record)
}
