package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/githubflow/githubflow-server/internal/application"
	"github.com/githubflow/githubflow-server/internal/domain"
)

// RunsHandler answers queries about archived and in-flight runs.
type RunsHandler struct {
	Runs *application.RunService
}

type runView struct {
	ID      domain.RunID                          `json:"id"`
	Status  domain.RunStatus                      `json:"status"`
	Stage   domain.StageID                        `json:"stage"`
	Record  domain.TriggerRecord                  `json:"record"`
	Results map[domain.StageID]domain.StageResult `json:"results,omitempty"`
}

func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Runs.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, toView(run))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := domain.RunID(chi.URLParam(r, "id"))

	run, err := h.Runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toView(run))
}

func toView(run domain.PipelineRun) runView {
	return runView{
		ID:      run.ID,
		Status:  run.Status,
		Stage:   run.Stage,
		Record:  run.Record,
		Results: run.Results,
	}
}
