package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forensicbot/core/internal/apperr"
	"github.com/forensicbot/core/internal/chatplatform"
	"github.com/forensicbot/core/internal/detector"
	"github.com/forensicbot/core/internal/model"
	"github.com/forensicbot/core/internal/notify"
	"github.com/forensicbot/core/internal/retryutil"
)

// --- fakes ---

type fakeDequeuer struct {
	completed  []string
	failed     []model.Job
	failFatal  []string
	failFatalReasons []string
}

func (f *fakeDequeuer) Dequeue(ctx context.Context) (*model.Job, error) { return nil, nil }

func (f *fakeDequeuer) Complete(ctx context.Context, jobID string) error {
	f.completed = append(f.completed, jobID)
	return nil
}

func (f *fakeDequeuer) Fail(ctx context.Context, job model.Job, causeErr error) error {
	f.failed = append(f.failed, job)
	return nil
}

func (f *fakeDequeuer) FailFatal(ctx context.Context, jobID string, reason string) error {
	f.failFatal = append(f.failFatal, jobID)
	f.failFatalReasons = append(f.failFatalReasons, reason)
	return nil
}

type fakeBlobGetter struct {
	data      []byte
	getErr    error
	getCalls  int
	deleted   []string
}

func (f *fakeBlobGetter) Get(ctx context.Context, key string) ([]byte, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.data, nil
}

func (f *fakeBlobGetter) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeDetector struct {
	result *detector.Result
	err    error
	panicWith interface{}
}

func (f *fakeDetector) Detect(ctx context.Context, image []byte, detail detector.DetailLevel, preserveEXIF bool) (*detector.Result, error) {
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeAnalysisStore struct {
	created  []*model.Analysis
	failN    int // number of leading calls that fail
	calls    int
}

func (f *fakeAnalysisStore) Create(ctx context.Context, a *model.Analysis, redFlagReasons []string) error {
	f.calls++
	if f.calls <= f.failN {
		return errors.New("persistence unavailable")
	}
	f.created = append(f.created, a)
	return nil
}

type fakeUserStore struct {
	user     *model.User
	refunded int
}

func (f *fakeUserStore) Get(ctx context.Context, userID int64) (*model.User, error) {
	return f.user, nil
}

func (f *fakeUserStore) RefundQuota(ctx context.Context, userID int64) error {
	f.refunded++
	return nil
}

type fakeConvoStore struct {
	saved []model.ConversationState
}

func (f *fakeConvoStore) Save(ctx context.Context, s model.ConversationState) error {
	f.saved = append(f.saved, s)
	return nil
}

type fakeDuplicateRecorder struct {
	recorded int
}

func (f *fakeDuplicateRecorder) Record(ctx context.Context, userID int64, phash, analysisID string) error {
	f.recorded++
	return nil
}

type fakeAuditLogger struct {
	logged []string
}

func (f *fakeAuditLogger) Log(ctx context.Context, action, userID, resourceID, resourceType string) error {
	f.logged = append(f.logged, action)
	return nil
}

type fakeChat struct {
	edits []string
	msgID int64
}

func (f *fakeChat) SendMessage(ctx context.Context, chatID int64, text string, kb *chatplatform.Keyboard) (int64, error) {
	f.msgID++
	return f.msgID, nil
}

func (f *fakeChat) EditMessage(ctx context.Context, chatID, messageID int64, text string, kb *chatplatform.Keyboard) error {
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeChat) AnswerCallback(ctx context.Context, callbackID string, text string) error { return nil }

func (f *fakeChat) Download(ctx context.Context, fileID string) ([]byte, error) { return nil, nil }

func hasLogged(logged []string, action string) bool {
	for _, l := range logged {
		if l == action {
			return true
		}
	}
	return false
}

func sampleJob() model.Job {
	return model.Job{
		JobID: "job-1", UserID: 1, ChatID: 2, ProgressMsgID: 3,
		BlobKey: "temp/1/abc.jpg", Tier: model.TierFree, Scenario: model.ScenarioGeneral,
		PerceptualHash: "abcd1234", Priority: model.PriorityDefault, Attempts: 1,
	}
}

func newTestPool(t *testing.T, queue *fakeDequeuer, blobs *fakeBlobGetter, det *fakeDetector,
	analyses *fakeAnalysisStore, users *fakeUserStore, convos *fakeConvoStore, dedup *fakeDuplicateRecorder,
	chat *fakeChat, audit *fakeAuditLogger) *Pool {
	t.Helper()
	return NewPool(Deps{
		Queue: queue, Blobs: blobs, Detector: det, Analyses: analyses, Users: users,
		Convos: convos, Dedup: dedup, Chat: chat,
		Progress: notify.NewProgressEditor(chat), Renderer: notify.NewRenderer(nil),
		Audit: audit, WorkerCount: 1,
	})
}

func sampleDetectResult() *detector.Result {
	return &detector.Result{
		Signals: model.DetectorSignals{AIHeuristic: 10, FFTScore: 5, MetadataRisk: 5},
		ProcessingTimeMS: 120,
	}
}

// --- happy path: full stage sequence ---

func TestProcess_HappyPathCompletesAndRecordsDuplicate(t *testing.T) {
	queue := &fakeDequeuer{}
	blobs := &fakeBlobGetter{data: []byte("fake-image-bytes")}
	det := &fakeDetector{result: sampleDetectResult()}
	analyses := &fakeAnalysisStore{}
	users := &fakeUserStore{user: &model.User{UserID: 1, Tier: model.TierFree}}
	convos := &fakeConvoStore{}
	dedup := &fakeDuplicateRecorder{}
	chat := &fakeChat{}
	audit := &fakeAuditLogger{}

	p := newTestPool(t, queue, blobs, det, analyses, users, convos, dedup, chat, audit)
	p.process(context.Background(), 0, sampleJob())

	if len(queue.completed) != 1 || queue.completed[0] != "job-1" {
		t.Errorf("queue.completed = %v, want [job-1]", queue.completed)
	}
	if len(analyses.created) != 1 {
		t.Fatalf("analyses created = %d, want 1", len(analyses.created))
	}
	if dedup.recorded != 1 {
		t.Errorf("dedup.recorded = %d, want 1 (job carried a perceptual hash)", dedup.recorded)
	}
	if len(convos.saved) != 1 || convos.saved[0].Kind != model.StateReviewingResult {
		t.Errorf("conversation not saved as ReviewingResult: %+v", convos.saved)
	}
	if len(blobs.deleted) != 1 {
		t.Errorf("blob not deleted after success: %v", blobs.deleted)
	}
	if users.refunded != 0 {
		t.Errorf("refunded = %d, want 0 on success", users.refunded)
	}
	if !hasLogged(audit.logged, model.AuditAnalysisCompleted) {
		t.Errorf("audit log %v missing %s", audit.logged, model.AuditAnalysisCompleted)
	}
}

// --- inadmissible scenario: dead-lettered without touching anything else ---

func TestProcess_InadmissibleScenarioDeadLetters(t *testing.T) {
	queue := &fakeDequeuer{}
	blobs := &fakeBlobGetter{data: []byte("x")}
	det := &fakeDetector{result: sampleDetectResult()}
	analyses := &fakeAnalysisStore{}
	users := &fakeUserStore{user: &model.User{UserID: 1}}
	convos := &fakeConvoStore{}
	dedup := &fakeDuplicateRecorder{}
	chat := &fakeChat{}
	audit := &fakeAuditLogger{}

	p := newTestPool(t, queue, blobs, det, analyses, users, convos, dedup, chat, audit)

	job := sampleJob()
	job.Scenario = "not_a_real_scenario"
	p.process(context.Background(), 0, job)

	if len(queue.failFatal) != 1 {
		t.Fatalf("queue.FailFatal calls = %d, want 1", len(queue.failFatal))
	}
	if blobs.getCalls != 0 {
		t.Errorf("blob.Get calls = %d, want 0 (rejected before any work)", blobs.getCalls)
	}
	if !hasLogged(audit.logged, model.AuditJobDeadLettered) {
		t.Errorf("audit log %v missing %s", audit.logged, model.AuditJobDeadLettered)
	}
}

// --- blob retrieval failure after retries: refundAndFail (S5-adjacent path) ---

func TestProcess_BlobRetrievalFailureRefundsAndDeadLetters(t *testing.T) {
	orig := retryutil.DefaultBlobRetrieval
	retryutil.DefaultBlobRetrieval = retryutil.Config{Delays: []time.Duration{1 * time.Millisecond, 1 * time.Millisecond}}
	defer func() { retryutil.DefaultBlobRetrieval = orig }()

	queue := &fakeDequeuer{}
	blobs := &fakeBlobGetter{getErr: errors.New("object not found")}
	det := &fakeDetector{result: sampleDetectResult()}
	analyses := &fakeAnalysisStore{}
	users := &fakeUserStore{user: &model.User{UserID: 1}}
	convos := &fakeConvoStore{}
	dedup := &fakeDuplicateRecorder{}
	chat := &fakeChat{}
	audit := &fakeAuditLogger{}

	p := newTestPool(t, queue, blobs, det, analyses, users, convos, dedup, chat, audit)
	p.process(context.Background(), 0, sampleJob())

	if blobs.getCalls != 3 {
		t.Errorf("blob.Get calls = %d, want 3 (1 try + 2 retries)", blobs.getCalls)
	}
	if users.refunded != 1 {
		t.Errorf("refunded = %d, want 1", users.refunded)
	}
	if len(queue.failFatal) != 1 {
		t.Errorf("queue.FailFatal calls = %d, want 1 (terminal, no further retry)", len(queue.failFatal))
	}
	if len(queue.failed) != 0 {
		t.Errorf("queue.Fail calls = %d, want 0 (this is a terminal failure, not a retryable one)", len(queue.failed))
	}
	if !hasLogged(audit.logged, model.AuditQuotaRefunded) || !hasLogged(audit.logged, model.AuditJobFailed) {
		t.Errorf("audit log %v missing refund/failed entries", audit.logged)
	}
}

// --- S5: detector timeout ---

func TestProcess_DetectorTimeoutRefundsAndDeadLetters(t *testing.T) {
	queue := &fakeDequeuer{}
	blobs := &fakeBlobGetter{data: []byte("x")}
	det := &fakeDetector{err: apperr.AnalysisTimeout()}
	analyses := &fakeAnalysisStore{}
	users := &fakeUserStore{user: &model.User{UserID: 1}}
	convos := &fakeConvoStore{}
	dedup := &fakeDuplicateRecorder{}
	chat := &fakeChat{}
	audit := &fakeAuditLogger{}

	p := newTestPool(t, queue, blobs, det, analyses, users, convos, dedup, chat, audit)
	p.process(context.Background(), 0, sampleJob())

	if users.refunded != 1 {
		t.Errorf("refunded = %d, want 1", users.refunded)
	}
	if len(queue.failFatal) != 1 {
		t.Errorf("queue.FailFatal calls = %d, want 1", len(queue.failFatal))
	}
	if len(analyses.created) != 0 {
		t.Errorf("analyses created = %d, want 0 (timeout happens before fusion)", len(analyses.created))
	}
}

// --- persistWithRetry: exhaustion is log-and-continue, not a failure ---

func TestProcess_PersistenceFailureStillCompletesJobAndNotifiesUser(t *testing.T) {
	queue := &fakeDequeuer{}
	blobs := &fakeBlobGetter{data: []byte("x")}
	det := &fakeDetector{result: sampleDetectResult()}
	analyses := &fakeAnalysisStore{failN: 3} // persistWithRetry tries exactly 3 times
	users := &fakeUserStore{user: &model.User{UserID: 1}}
	convos := &fakeConvoStore{}
	dedup := &fakeDuplicateRecorder{}
	chat := &fakeChat{}
	audit := &fakeAuditLogger{}

	p := newTestPool(t, queue, blobs, det, analyses, users, convos, dedup, chat, audit)
	p.process(context.Background(), 0, sampleJob())

	if analyses.calls != 3 {
		t.Errorf("persist attempts = %d, want 3 (exhausted)", analyses.calls)
	}
	if len(analyses.created) != 0 {
		t.Errorf("analyses created = %d, want 0 (every attempt failed)", len(analyses.created))
	}
	if len(queue.completed) != 1 {
		t.Errorf("queue.completed = %v, want the job still marked done", queue.completed)
	}
	if users.refunded != 0 {
		t.Errorf("refunded = %d, want 0 (persistence failure after a real result is not refunded)", users.refunded)
	}
	if hasLogged(audit.logged, model.AuditAnalysisCompleted) {
		t.Errorf("audit log %v should not record analysis_completed when persistence never succeeded", audit.logged)
	}
	// The user still gets their verdict via the progress-message replace.
	if len(chat.edits) == 0 {
		t.Errorf("chat.edits is empty, want the final result message sent despite persistence failure")
	}
}

// --- panic recovery: retryable Fail, not FailFatal ---

func TestProcess_PanicRecoversAndFailsRetryable(t *testing.T) {
	queue := &fakeDequeuer{}
	blobs := &fakeBlobGetter{data: []byte("x")}
	det := &fakeDetector{panicWith: "simulated panic"}
	analyses := &fakeAnalysisStore{}
	users := &fakeUserStore{user: &model.User{UserID: 1}}
	convos := &fakeConvoStore{}
	dedup := &fakeDuplicateRecorder{}
	chat := &fakeChat{}
	audit := &fakeAuditLogger{}

	p := newTestPool(t, queue, blobs, det, analyses, users, convos, dedup, chat, audit)
	p.process(context.Background(), 0, sampleJob())

	if len(queue.failed) != 1 {
		t.Fatalf("queue.Fail calls = %d, want 1", len(queue.failed))
	}
	if len(queue.failFatal) != 0 {
		t.Errorf("queue.FailFatal calls = %d, want 0 (panic is retryable via normal backoff)", len(queue.failFatal))
	}
	if users.refunded != 0 {
		t.Errorf("refunded = %d, want 0 (quota state at panic point is unknown, so no refund)", users.refunded)
	}
}
