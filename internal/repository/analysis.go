package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/forensicbot/core/internal/model"
)

// AnalysisRepo persists the durable analysis record history. It is the
// single writer per analysis; analysis_id carries a unique constraint.
type AnalysisRepo struct {
	pool *pgxpool.Pool
}

// NewAnalysisRepo creates an AnalysisRepo.
func NewAnalysisRepo(pool *pgxpool.Pool) *AnalysisRepo {
	return &AnalysisRepo{pool: pool}
}

// Create inserts a new analysis record. redFlagReasons is the flattened
// list of DetectorSignals.RedFlags reasons, stored as a Postgres text array
// so the top red-flags can be queried without unmarshalling ResultBlob.
func (r *AnalysisRepo) Create(ctx context.Context, a *model.Analysis, redFlagReasons []string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO analyses (analysis_id, user_id, scenario, verdict, confidence, reason,
			processing_time_ms, result_blob, image_sha256, red_flags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.AnalysisID, a.UserID, a.Scenario, a.Verdict, a.Confidence, a.Reason,
		a.ProcessingTimeMS, a.ResultBlob, a.ImageSHA256, pq.Array(redFlagReasons), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository.CreateAnalysis: %w", err)
	}
	return nil
}

// GetByID returns the analysis with the given analysis_id.
func (r *AnalysisRepo) GetByID(ctx context.Context, analysisID string) (*model.Analysis, error) {
	var a model.Analysis
	var redFlags []string
	err := r.pool.QueryRow(ctx, `
		SELECT analysis_id, user_id, scenario, verdict, confidence, reason,
			processing_time_ms, result_blob, image_sha256, red_flags, created_at
		FROM analyses WHERE analysis_id = $1
	`, analysisID).Scan(&a.AnalysisID, &a.UserID, &a.Scenario, &a.Verdict, &a.Confidence, &a.Reason,
		&a.ProcessingTimeMS, &a.ResultBlob, &a.ImageSHA256, pq.Array(&redFlags), &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.GetAnalysisByID: %w", err)
	}
	return &a, nil
}

// FindRecentByImageHash looks up the most recent analysis for a given user
// and image_sha256, used to resolve a perceptual-hash duplicate hit back to
// a user-visible analysis_id.
func (r *AnalysisRepo) FindRecentByImageHash(ctx context.Context, userID int64, imageSHA256 string) (*model.Analysis, error) {
	var a model.Analysis
	err := r.pool.QueryRow(ctx, `
		SELECT analysis_id, user_id, scenario, verdict, confidence, reason,
			processing_time_ms, image_sha256, created_at
		FROM analyses
		WHERE user_id = $1 AND image_sha256 = $2
		ORDER BY created_at DESC LIMIT 1
	`, userID, imageSHA256).Scan(&a.AnalysisID, &a.UserID, &a.Scenario, &a.Verdict, &a.Confidence, &a.Reason,
		&a.ProcessingTimeMS, &a.ImageSHA256, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.FindRecentByImageHash: %w", err)
	}
	return &a, nil
}
