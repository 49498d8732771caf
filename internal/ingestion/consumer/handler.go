package consumer

import (
	"context"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"supporterhub/internal/ingestion"
	id "supporterhub/pkg/domain"
	"supporterhub/pkg/requestcontext"
)

// Ingester is the processor entry point for live messages.
type Ingester interface {
	Ingest(ctx context.Context, source id.SourceSystem, msg ingestion.Message) (ingestion.Result, error)
}

// IngestHandler feeds one source topic into the processor.
type IngestHandler struct {
	source   id.SourceSystem
	ingester Ingester
	logger   *slog.Logger
}

func NewIngestHandler(source id.SourceSystem, ingester Ingester, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{source: source, ingester: ingester, logger: logger}
}

// Handle decodes the envelope and applies it. Malformed envelopes come back
// as malformed_message errors; the consumer dead-letters those at once.
func (h *IngestHandler) Handle(ctx context.Context, record *kgo.Record) error {
	msg, err := ingestion.DecodeMessage(record.Value)
	if err != nil {
		return err
	}
	if correlationID := headerValue(record, headerCorrelationID); correlationID != "" {
		ctx = requestcontext.WithCorrelationID(ctx, correlationID)
	}
	res, err := h.ingester.Ingest(ctx, h.source, msg)
	if err != nil {
		return err
	}
	h.logger.DebugContext(ctx, "record applied",
		"topic", record.Topic,
		"offset", record.Offset,
		"outcome", string(res.Outcome),
	)
	return nil
}

const headerCorrelationID = "correlation_id"

func headerValue(record *kgo.Record, key string) string {
	for _, h := range record.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
