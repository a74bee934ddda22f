package model

import "time"

// Priority is the job queue's strict dequeue ordering: high before default
// before low. Workers scan in that order; it is not a weighted scheme.
type Priority string

const (
	PriorityHigh    Priority = "high"
	PriorityDefault Priority = "default"
	PriorityLow     Priority = "low"
)

// JobTimeout bounds a single worker's execution of one job. Exceeding it
// moves the job to the failure zone.
const JobTimeout = 5 * time.Minute

// JobRetryBackoff is the backoff schedule between the queue's 3 delivery
// attempts.
var JobRetryBackoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

const (
	JobMaxAttempts = 3
	JobResultTTL   = time.Hour
	JobFailureTTL  = 24 * time.Hour
)

// Job is the unit of work enqueued by the scenario state machine and
// consumed by an analysis worker. Every job carries a scenario; None is
// never admissible — callers must normalize with NormalizeScenario before
// constructing one.
type Job struct {
	JobID           string
	UserID          int64
	ChatID          int64
	SourceMessageID int64
	ProgressMsgID   int64
	BlobKey         string
	Tier            Tier
	Scenario        Scenario
	PreserveEXIF    bool
	PerceptualHash  string // "" if the upload format has no local decoder (HEIC)
	Priority        Priority
	Attempts        int
	CreatedAt       time.Time
}

// Valid reports whether the job satisfies the invariants the queue enforces
// at enqueue time: a scenario must be present and admissible.
func (j Job) Valid() bool {
	return j.Scenario.IsValid() && j.JobID != "" && j.BlobKey != ""
}
