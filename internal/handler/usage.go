package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/forensicbot/core/internal/model"
)

// UsageGetter is the subset of UserRepo the usage handler needs.
type UsageGetter interface {
	Get(ctx context.Context, userID int64) (*model.User, error)
}

// Usage serves GET /api/usage?userId=... — a read-only quota/tier report a
// thin ops or in-chat "/usage" surface can show a user without touching the
// conversation state machine.
func Usage(users UsageGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("userId")
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "userId must be an integer"})
			return
		}

		u, err := users.Get(r.Context(), userID)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to load usage"})
			return
		}
		if u == nil {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "user not found"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: u})
	}
}
