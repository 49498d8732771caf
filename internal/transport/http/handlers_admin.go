package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	id "supporterhub/pkg/domain"
	dErrors "supporterhub/pkg/domain-errors"
	"supporterhub/pkg/platform/httputil"
	"supporterhub/pkg/requestcontext"
)

const maxBodyBytes = 64 << 10

type jobRunResponse struct {
	Job     string         `json:"job"`
	Status  string         `json:"status"`
	Summary map[string]any `json:"summary"`
}

// handleRunJob handles POST /admin/jobs/{job}/run. The run outlives the
// request if the caller disconnects.
func (h *Handler) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")
	ctx := r.Context()

	summary, err := h.jobs.Trigger(context.WithoutCancel(ctx), name)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual job run failed",
			"job", name,
			"correlation_id", requestcontext.CorrelationID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, jobRunResponse{
		Job:     name,
		Status:  summary.Status(),
		Summary: attrMap(summary.LogAttrs()),
	})
}

type mergeRequest struct {
	SourceID string `json:"source_id"`
	Actor    string `json:"actor"`
	Reason   string `json:"reason"`
}

// handleMerge handles POST /admin/supporters/{targetID}/merge.
func (h *Handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	targetID, err := id.ParseSupporterID(chi.URLParam(r, "targetID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid target id"))
		return
	}
	var req mergeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	sourceID, err := id.ParseSupporterID(req.SourceID)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid source id"))
		return
	}

	merged, err := h.merger.Merge(ctx, sourceID, targetID, req.Actor, req.Reason)
	if err != nil {
		h.logger.WarnContext(ctx, "merge rejected",
			"source_id", sourceID,
			"target_id", targetID,
			"actor", req.Actor,
			"correlation_id", requestcontext.CorrelationID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "supporters merged",
		"source_id", sourceID,
		"target_id", targetID,
		"actor", req.Actor,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, merged)
}

func attrMap(attrs []any) map[string]any {
	out := make(map[string]any, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		out[fmt.Sprint(attrs[i])] = attrs[i+1]
	}
	return out
}
