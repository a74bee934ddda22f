package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forensicbot/core/internal/model"
)

// ConversationRepo persists per-(chat_id, user_id) conversation state so the
// scenario state machine survives process restarts and runs correctly
// behind multiple ingress instances.
type ConversationRepo struct {
	pool *pgxpool.Pool
}

// NewConversationRepo creates a ConversationRepo.
func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

// GetOrCreate returns the conversation state for (chatID, userID), creating
// a fresh SelectingScenario state if none exists or the existing one has
// expired past its TTL.
func (r *ConversationRepo) GetOrCreate(ctx context.Context, chatID, userID int64) (model.ConversationState, error) {
	state, err := r.get(ctx, chatID, userID)
	if err == nil && !state.Expired(time.Now().UTC()) {
		return state, nil
	}
	if err != nil && err != pgx.ErrNoRows {
		return model.ConversationState{}, fmt.Errorf("repository.GetOrCreate: %w", err)
	}

	fresh := model.NewSelectingScenario(chatID, userID)
	if saveErr := r.Save(ctx, fresh); saveErr != nil {
		return model.ConversationState{}, saveErr
	}
	return fresh, nil
}

func (r *ConversationRepo) get(ctx context.Context, chatID, userID int64) (model.ConversationState, error) {
	var s model.ConversationState
	var jobID, analysisID *string
	var progressMsgID *int64
	var scenario *string

	err := r.pool.QueryRow(ctx, `
		SELECT chat_id, user_id, kind, scenario, job_id, progress_msg_id, analysis_id, updated_at
		FROM conversation_state WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID).Scan(&s.ChatID, &s.UserID, &s.Kind, &scenario, &jobID, &progressMsgID, &analysisID, &s.UpdatedAt)
	if err != nil {
		return model.ConversationState{}, err
	}

	if scenario != nil {
		s.Scenario = model.Scenario(*scenario)
	}
	if jobID != nil {
		s.JobID = *jobID
	}
	if progressMsgID != nil {
		s.ProgressMsgID = *progressMsgID
	}
	if analysisID != nil {
		s.AnalysisID = *analysisID
	}
	return s, nil
}

// Save upserts the given state, stamping UpdatedAt to now.
func (r *ConversationRepo) Save(ctx context.Context, s model.ConversationState) error {
	s.UpdatedAt = time.Now().UTC()

	var scenario, jobID, analysisID *string
	var progressMsgID *int64
	if s.Scenario != "" {
		v := string(s.Scenario)
		scenario = &v
	}
	if s.JobID != "" {
		jobID = &s.JobID
	}
	if s.ProgressMsgID != 0 {
		progressMsgID = &s.ProgressMsgID
	}
	if s.AnalysisID != "" {
		analysisID = &s.AnalysisID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_state (chat_id, user_id, kind, scenario, job_id, progress_msg_id, analysis_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET
			kind = excluded.kind, scenario = excluded.scenario, job_id = excluded.job_id,
			progress_msg_id = excluded.progress_msg_id, analysis_id = excluded.analysis_id,
			updated_at = excluded.updated_at
	`, s.ChatID, s.UserID, s.Kind, scenario, jobID, progressMsgID, analysisID, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository.SaveConversation: %w", err)
	}
	return nil
}

// Clear resets the conversation back to SelectingScenario, per the "any
// --/start--> (clear state)" transition.
func (r *ConversationRepo) Clear(ctx context.Context, chatID, userID int64) error {
	return r.Save(ctx, model.NewSelectingScenario(chatID, userID))
}
