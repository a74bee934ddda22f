package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/forensicbot/core/internal/model"
)

// DeadLetterLister is the subset of queue.Queue the ops-console needs.
type DeadLetterLister interface {
	DeadLetter(ctx context.Context, limit int) ([]model.Job, error)
}

// DeadLetterJobs serves GET /api/admin/jobs/dead-letter?limit=... for manual
// reconciliation of jobs that exhausted their retry budget.
func DeadLetterJobs(queue DeadLetterLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}

		jobs, err := queue.DeadLetter(r.Context(), limit)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to list dead-letter jobs"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: jobs})
	}
}
