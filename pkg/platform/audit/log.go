package audit

import (
	"context"
	"log/slog"

	"supporterhub/pkg/requestcontext"
)

// Log mirrors a committed entry into the structured log with log_type=audit.
func Log(ctx context.Context, logger *slog.Logger, entry Entry, attrList ...any) {
	if logger == nil {
		return
	}
	if corr := requestcontext.CorrelationID(ctx); corr != "" {
		attrList = append(attrList, "correlation_id", corr)
	}
	args := append(attrList,
		"audit_id", entry.ID.String(),
		"actor", entry.Actor,
		"subject_id", entry.SubjectID,
		"reason", entry.Reason,
		"event", string(entry.Action),
		"log_type", "audit",
	)
	logger.InfoContext(ctx, string(entry.Action), args...)
}
