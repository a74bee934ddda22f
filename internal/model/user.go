package model

import "time"

// Tier controls a user's priority in the job queue and daily quota.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// DefaultDailyQuota is the number of free-tier analyses granted per day.
const DefaultDailyQuota = 3

// User represents a chat-platform account. UserID is the stable 64-bit
// integer the chat platform assigns; it is never reused and never deleted
// during normal operation.
type User struct {
	UserID              int64     `json:"userId"`
	Handle              string    `json:"handle"`
	Tier                Tier      `json:"tier"`
	DailyQuotaRemaining int       `json:"dailyQuotaRemaining"`
	QuotaResetDate      string    `json:"quotaResetDate"` // YYYY-MM-DD
	CreatedAt           time.Time `json:"createdAt"`
}
