package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forensicbot/core/internal/model"
)

// UserRepo handles user and quota persistence.
type UserRepo struct {
	pool           *pgxpool.Pool
	dailyFreeQuota int
}

// NewUserRepo creates a UserRepo. dailyFreeQuota seeds new free-tier users
// and is the value a quota rolls over to on each new day.
func NewUserRepo(pool *pgxpool.Pool, dailyFreeQuota int) *UserRepo {
	return &UserRepo{pool: pool, dailyFreeQuota: dailyFreeQuota}
}

// EnsureUser creates a user record if it doesn't already exist.
func (r *UserRepo) EnsureUser(ctx context.Context, userID int64, handle string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (user_id, handle, tier, daily_quota_remaining, quota_reset_date, created_at)
		VALUES ($1, $2, 'free', $3, CURRENT_DATE, now())
		ON CONFLICT (user_id) DO NOTHING
	`, userID, handle, r.dailyFreeQuota)
	if err != nil {
		return fmt.Errorf("repository.EnsureUser: %w", err)
	}
	return nil
}

// Get returns a user by ID, rolling its quota over to today's allotment
// first if quota_reset_date has passed.
func (r *UserRepo) Get(ctx context.Context, userID int64) (*model.User, error) {
	if err := r.rolloverIfNeeded(ctx, userID); err != nil {
		return nil, err
	}

	var u model.User
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, handle, tier, daily_quota_remaining, quota_reset_date::text, created_at
		FROM users WHERE user_id = $1
	`, userID).Scan(&u.UserID, &u.Handle, &u.Tier, &u.DailyQuotaRemaining, &u.QuotaResetDate, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("repository.GetUser: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) rolloverIfNeeded(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users
		SET daily_quota_remaining = $2, quota_reset_date = CURRENT_DATE
		WHERE user_id = $1 AND quota_reset_date < CURRENT_DATE
	`, userID, r.dailyFreeQuota)
	if err != nil {
		return fmt.Errorf("repository.rolloverIfNeeded: %w", err)
	}
	return nil
}

// DecrementQuota atomically decrements daily_quota_remaining if it is
// positive, rolling the quota over to today's allotment first if needed.
// Returns ok=false without mutating state if the quota is already
// exhausted — daily_quota_remaining must never go below 0.
func (r *UserRepo) DecrementQuota(ctx context.Context, userID int64) (ok bool, err error) {
	if err := r.rolloverIfNeeded(ctx, userID); err != nil {
		return false, err
	}

	var remaining int
	err = r.pool.QueryRow(ctx, `
		UPDATE users
		SET daily_quota_remaining = daily_quota_remaining - 1
		WHERE user_id = $1 AND daily_quota_remaining > 0
		RETURNING daily_quota_remaining
	`, userID).Scan(&remaining)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository.DecrementQuota: %w", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO daily_usage (user_id, date, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, date) DO UPDATE SET count = daily_usage.count + 1
	`, userID, today); err != nil {
		return false, fmt.Errorf("repository.DecrementQuota: record usage: %w", err)
	}

	return true, nil
}

// RefundQuota compensates a prior successful decrement. Any pipeline
// failure after decrement must call this within 60 s so the quota
// conservation invariant holds.
func (r *UserRepo) RefundQuota(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET daily_quota_remaining = daily_quota_remaining + 1
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("repository.RefundQuota: %w", err)
	}
	return nil
}

// Ping satisfies handler.DBPinger.
func (r *UserRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
