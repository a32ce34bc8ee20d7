package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/githubflow/githubflow-server/internal/application"
	"github.com/githubflow/githubflow-server/internal/domain"
)

// maxWebhookBody bounds the accepted webhook payload size.
const maxWebhookBody = 1 << 20

// WebhookHandler receives source-control webhook deliveries, shapes
// them through the normalizer and starts runs for the ones that
// qualify.
type WebhookHandler struct {
	Normalizer *domain.Normalizer
	Trigger    *application.TriggerService
	Logger     *slog.Logger
}

type webhookResponse struct {
	RunID   domain.RunID `json:"runId,omitempty"`
	Ignored bool         `json:"ignored,omitempty"`
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	kind := r.Header.Get("x-github-event")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	record, ok, err := h.Normalizer.Normalize(kind, body)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		// Disqualifying events are acknowledged, not rejected.
		writeJSON(w, http.StatusOK, webhookResponse{Ignored: true})
		return
	}

	runID, err := h.Trigger.Start(r.Context(), record)
	if err != nil {
		if errors.Is(err, domain.ErrDispatch) {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.Logger.Info("pipeline run started",
		slog.String("run_id", string(runID)),
		slog.String("commit", record.Commit.Version),
		slog.String("hostname", record.Deployment.Hostname),
	)
	writeJSON(w, http.StatusAccepted, webhookResponse{RunID: runID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
