// Package worker runs the analysis pipeline: a small pool of goroutines
// that dequeue one job at a time and drive it start-to-finish — blob
// retrieval, the detector API call, verdict fusion, persistence, and the
// final chat message — on a single context, never spawning a fresh one
// mid-job. That single-context discipline avoids the connection-state
// corruption a fork-per-stage pipeline would risk; every stage runs
// sequentially under one ctx and fails the job in place rather than
// forking work.
package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forensicbot/core/internal/apperr"
	"github.com/forensicbot/core/internal/chatplatform"
	"github.com/forensicbot/core/internal/detector"
	"github.com/forensicbot/core/internal/middleware"
	"github.com/forensicbot/core/internal/model"
	"github.com/forensicbot/core/internal/notify"
	"github.com/forensicbot/core/internal/retryutil"
	"github.com/forensicbot/core/internal/verdict"
)

// Dequeuer is the subset of queue.Queue a worker needs.
type Dequeuer interface {
	Dequeue(ctx context.Context) (*model.Job, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, job model.Job, causeErr error) error
	FailFatal(ctx context.Context, jobID string, reason string) error
}

// BlobGetter is the subset of blobstore.Store a worker needs. It never
// writes new blobs, only retrieves and best-effort deletes the one the job
// already references.
type BlobGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Detector abstracts the external analysis API call.
type Detector interface {
	Detect(ctx context.Context, image []byte, detail detector.DetailLevel, preserveEXIF bool) (*detector.Result, error)
}

// AnalysisStore is the subset of AnalysisRepo a worker needs.
type AnalysisStore interface {
	Create(ctx context.Context, a *model.Analysis, redFlagReasons []string) error
}

// UserStore is the subset of UserRepo a worker needs.
type UserStore interface {
	Get(ctx context.Context, userID int64) (*model.User, error)
	RefundQuota(ctx context.Context, userID int64) error
}

// ConversationStore is the subset of ConversationRepo a worker needs.
type ConversationStore interface {
	Save(ctx context.Context, s model.ConversationState) error
}

// DuplicateRecorder is the subset of cache.DuplicateIndex a worker needs;
// the worker is the only place a (userID, phash) pair is recorded, since
// only here does an analysis_id actually exist to point to.
type DuplicateRecorder interface {
	Record(ctx context.Context, userID int64, phash, analysisID string) error
}

// AuditLogger mirrors service.AuditService's logging surface.
type AuditLogger interface {
	Log(ctx context.Context, action, userID, resourceID, resourceType string) error
}

// Waker is satisfied by queue.WakeupListener: the channel a worker blocks
// on between dequeue attempts, nudged by a Pub/Sub push or a poll tick.
type Waker interface {
	Wake() <-chan struct{}
}

// Deps bundles a Pool's dependencies.
type Deps struct {
	Queue       Dequeuer
	Blobs       BlobGetter
	Detector    Detector
	Analyses    AnalysisStore
	Users       UserStore
	Convos      ConversationStore
	Dedup       DuplicateRecorder
	Chat        chatplatform.Client
	Progress    *notify.ProgressEditor
	Renderer    *notify.Renderer
	Audit       AuditLogger
	Metrics     *middleware.Metrics // nil disables verdict-distribution recording
	Waker       Waker               // nil: worker relies solely on its own poll ticker
	WorkerCount int
}

// Pool runs Deps.WorkerCount goroutines, each pulling and fully executing
// one job at a time.
type Pool struct {
	deps Deps
}

// NewPool creates a Pool. WorkerCount defaults to 3 (config.Config's
// default) if unset.
func NewPool(deps Deps) *Pool {
	if deps.WorkerCount <= 0 {
		deps.WorkerCount = 3
	}
	return &Pool{deps: deps}
}

// Run blocks all Deps.WorkerCount workers until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.deps.WorkerCount; i++ {
		wg.Add(1)
		id := i
		go func() {
			defer wg.Done()
			p.runWorker(ctx, id)
		}()
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerID int) {
	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()

	var wake <-chan struct{}
	if p.deps.Waker != nil {
		wake = p.deps.Waker.Wake()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
		case <-wake:
		}
		p.drain(ctx, workerID)
	}
}

// drain pulls and processes jobs until the queue reports empty, so a single
// wake-up clears a whole backlog rather than one job per tick.
func (p *Pool) drain(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.deps.Queue.Dequeue(ctx)
		if err != nil {
			slog.Error("worker dequeue failed", "worker_id", workerID, "error", err)
			return
		}
		if job == nil {
			return
		}
		p.process(ctx, workerID, *job)
	}
}

// process runs every stage of one job on a single bounded context. A panic
// anywhere in here is recovered and treated as a retryable (non-refunding)
// failure, since the quota/refund state at the panic point is unknown — the
// job goes back through the queue's normal backoff/dead-letter path instead.
func (p *Pool) process(ctx context.Context, workerID int, job model.Job) {
	ctx, cancel := context.WithTimeout(ctx, model.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked, requeuing via backoff", "job_id", job.JobID, "worker_id", workerID, "panic", r)
			if err := p.deps.Queue.Fail(ctx, job, fmt.Errorf("worker.process: recovered panic: %v", r)); err != nil {
				slog.Error("job fail bookkeeping failed after panic", "job_id", job.JobID, "error", err)
			}
		}
	}()

	slog.Info("job dequeued", "job_id", job.JobID, "worker_id", workerID, "scenario", job.Scenario, "attempt", job.Attempts)

	if !job.Scenario.IsValid() {
		slog.Error("job carries inadmissible scenario, dead-lettering", "job_id", job.JobID)
		_ = p.deps.Queue.FailFatal(ctx, job.JobID, "inadmissible scenario")
		_ = p.deps.Audit.Log(ctx, model.AuditJobDeadLettered, fmt.Sprintf("%d", job.UserID), job.JobID, "job")
		return
	}

	// refundAndFail is terminal for this job attempt: the quota was already
	// refunded and the user already notified, so the job must not come back
	// around for another worker attempt (that would refund and notify a
	// second time). It goes straight to the failure zone for diagnostics.
	refundAndFail := func(userText string, causeErr error) {
		if err := p.deps.Users.RefundQuota(ctx, job.UserID); err != nil {
			slog.Error("quota refund failed", "job_id", job.JobID, "error", err)
		} else {
			_ = p.deps.Audit.Log(ctx, model.AuditQuotaRefunded, fmt.Sprintf("%d", job.UserID), job.JobID, "job")
		}
		p.deps.Progress.Replace(ctx, job.ChatID, job.ProgressMsgID, userText, nil)
		if err := p.deps.Queue.FailFatal(ctx, job.JobID, causeErr.Error()); err != nil {
			slog.Error("job fail bookkeeping failed", "job_id", job.JobID, "error", err)
		}
		_ = p.deps.Audit.Log(ctx, model.AuditJobFailed, fmt.Sprintf("%d", job.UserID), job.JobID, "job")
	}

	p.deps.Progress.Edit(ctx, job.ChatID, job.ProgressMsgID, notify.StageDownloading)
	image, err := retryutil.Do(ctx, retryutil.DefaultBlobRetrieval, "worker.retrieveBlob", func() ([]byte, error) {
		return p.deps.Blobs.Get(ctx, job.BlobKey)
	})
	if err != nil {
		slog.Error("blob retrieval failed after retries", "job_id", job.JobID, "error", err)
		refundAndFail(notify.TransientFailureText, apperr.StoreTransient(err))
		return
	}

	// exif_extraction is a decorative bracket: the extraction itself
	// happens inside the detector API response below, but the progress
	// message still names it as its own step.
	p.deps.Progress.Edit(ctx, job.ChatID, job.ProgressMsgID, notify.StageEXIFExtraction)
	sleepUnlessDone(ctx, 100*time.Millisecond)

	p.deps.Progress.Edit(ctx, job.ChatID, job.ProgressMsgID, notify.StageAIDetection)
	detail := detector.DetailBasic
	if job.PreserveEXIF {
		detail = detector.DetailDetailed
	}
	detectCtx, detectCancel := context.WithTimeout(ctx, 30*time.Second)
	result, err := p.deps.Detector.Detect(detectCtx, image, detail, job.PreserveEXIF)
	detectCancel()
	if err != nil {
		if ae, ok := apperr.As(err); ok && ae.Code == apperr.CodeAnalysisTimeout {
			slog.Warn("analysis timed out", "job_id", job.JobID)
		} else {
			slog.Error("analysis API call failed", "job_id", job.JobID, "error", err)
		}
		refundAndFail(notify.TransientFailureText, err)
		return
	}

	// frequency_analysis is likewise decorative: fusion below is local and
	// effectively instantaneous, but the stage still gets its own edit.
	p.deps.Progress.Edit(ctx, job.ChatID, job.ProgressMsgID, notify.StageFrequencyAnalysis)
	sleepUnlessDone(ctx, 100*time.Millisecond)

	p.deps.Progress.Edit(ctx, job.ChatID, job.ProgressMsgID, notify.StageFinalScoring)

	// The one permitted fan-out inside a job: fetching the
	// user record runs concurrently with the pure, local
	// work of hashing the image and allocating an analysis_id.
	var user *model.User
	var imageHash, analysisID string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := p.deps.Users.Get(gctx, job.UserID)
		if err != nil {
			return fmt.Errorf("fetch user tier: %w", err)
		}
		user = u
		return nil
	})
	g.Go(func() error {
		sum := sha256.Sum256(image)
		imageHash = hex.EncodeToString(sum[:])
		analysisID = fmt.Sprintf("ANL-%s-%s", time.Now().UTC().Format("20060102"), imageHash[:8])
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Error("job finalization failed", "job_id", job.JobID, "error", err)
		refundAndFail(notify.TransientFailureText, err)
		return
	}
	_ = user // not used further: the analysis record has no tier field, and the tier travels with the job; a failed fetch still fails the job

	verdictResult := verdict.Fuse(result.Signals)
	signals := result.Signals
	resultBlob, err := json.Marshal(signals)
	if err != nil {
		slog.Error("result blob marshal failed", "job_id", job.JobID, "error", err)
		resultBlob = []byte("{}")
	}

	analysis := &model.Analysis{
		AnalysisID:       analysisID,
		UserID:           job.UserID,
		Scenario:         job.Scenario,
		Verdict:          verdictResult.Verdict,
		Confidence:       verdictResult.Confidence,
		Reason:           verdictResult.Reason,
		ProcessingTimeMS: result.ProcessingTimeMS,
		ResultBlob:       resultBlob,
		ImageSHA256:      imageHash,
		ExtractedMeta:    &signals,
		CreatedAt:        time.Now().UTC(),
	}

	redFlagReasons := make([]string, 0, len(signals.RedFlags))
	for _, rf := range signals.RedFlags {
		redFlagReasons = append(redFlagReasons, rf.Reason)
	}

	// A persistence failure after a successful analysis does not refund or
	// re-notify: the user still gets their result, and the failure is left
	// for manual reconciliation.
	if err := p.persistWithRetry(ctx, analysis, redFlagReasons); err != nil {
		slog.Error("persistence failed after retries, sending result anyway", "job_id", job.JobID, "analysis_id", analysisID, "error", err)
	} else {
		_ = p.deps.Audit.Log(ctx, model.AuditAnalysisCompleted, fmt.Sprintf("%d", job.UserID), analysisID, "analysis")
	}

	if job.PerceptualHash != "" {
		if err := p.deps.Dedup.Record(ctx, job.UserID, job.PerceptualHash, analysisID); err != nil {
			slog.Warn("duplicate index record failed", "job_id", job.JobID, "error", err)
		}
	}

	body, kb := p.deps.Renderer.RenderFinal(*analysis)
	p.deps.Progress.Replace(ctx, job.ChatID, job.ProgressMsgID, body, kb)

	if err := p.deps.Convos.Save(ctx, model.NewReviewingResult(job.ChatID, job.UserID, analysisID, job.Scenario)); err != nil {
		slog.Warn("conversation state transition to reviewing_result failed", "job_id", job.JobID, "error", err)
	}

	if err := p.deps.Queue.Complete(ctx, job.JobID); err != nil {
		slog.Error("job completion bookkeeping failed", "job_id", job.JobID, "error", err)
	}

	// Best-effort: the bucket's 24h lifecycle rule cleans up temp/ blobs
	// regardless, so a delete failure here is not worth retrying.
	if err := p.deps.Blobs.Delete(ctx, job.BlobKey); err != nil {
		slog.Warn("best-effort blob deletion failed, relying on bucket TTL", "job_id", job.JobID, "blob_key", job.BlobKey, "error", err)
	}

	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordVerdict(string(verdictResult.Verdict))
	}

	slog.Info("job completed", "job_id", job.JobID, "analysis_id", analysisID, "verdict", verdictResult.Verdict, "confidence", verdictResult.Confidence)
}

func (p *Pool) persistWithRetry(ctx context.Context, a *model.Analysis, redFlags []string) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := p.deps.Analyses.Create(ctx, a, redFlags); err != nil {
			lastErr = err
			sleepUnlessDone(ctx, time.Duration(attempt+1)*200*time.Millisecond)
			continue
		}
		return nil
	}
	return lastErr
}

func sleepUnlessDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
