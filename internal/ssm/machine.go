// Package ssm is the per-(chat_id, user_id) scenario state machine: it owns
// scenario selection, the upload handler's seven-step critical transition,
// and the legacy-state hint reset. Conversation state itself is a persisted
// tagged union (internal/model.ConversationState), generalized from a
// get-or-create session pattern to "one active conversation per chat".
package ssm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/forensicbot/core/internal/apperr"
	"github.com/forensicbot/core/internal/blobstore"
	"github.com/forensicbot/core/internal/chatplatform"
	"github.com/forensicbot/core/internal/imagevalidate"
	"github.com/forensicbot/core/internal/model"
	"github.com/forensicbot/core/internal/notify"
)

// Callback data for the scenario-selection and teenager-gate keyboards.
// These are handled by the state machine directly; every other callback
// (the post-result action buttons) is routed straight to internal/actions.
const (
	CallbackSelectAdult    = "select_adult"
	CallbackSelectTeenager = "select_teenager"
	CallbackSelectGeneral  = "select_general"
	CallbackTeenagerReady  = "teenager_ready"
)

// Event is a single inbound chat occurrence handed to the machine by the
// ingress gateway, after the middleware chain has run.
type Event struct {
	ChatID       int64
	UserID       int64
	Handle       string
	MessageID    int64
	IsStartCmd   bool
	CallbackData string                    // "" if this is not a callback tap
	CallbackID   string                    // platform id, required to answer a callback
	Attachment   *chatplatform.Attachment  // non-nil for photo/document uploads
}

// UserStore is the subset of UserRepo the machine needs.
type UserStore interface {
	EnsureUser(ctx context.Context, userID int64, handle string) error
	Get(ctx context.Context, userID int64) (*model.User, error)
	DecrementQuota(ctx context.Context, userID int64) (bool, error)
	RefundQuota(ctx context.Context, userID int64) error
}

// ConversationStore is the subset of ConversationRepo the machine needs.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, chatID, userID int64) (model.ConversationState, error)
	Save(ctx context.Context, s model.ConversationState) error
	Clear(ctx context.Context, chatID, userID int64) error
}

// AnalysisStore is the subset of AnalysisRepo the machine needs for the
// watermark short-circuit path, which persists a record without a worker.
type AnalysisStore interface {
	Create(ctx context.Context, a *model.Analysis, redFlagReasons []string) error
}

// Enqueuer is the subset of queue.Queue the machine needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job model.Job) error
}

// BlobPutter is the subset of blobstore.Store the machine needs: it only
// ever writes a fresh blob, never reads or deletes one (the worker owns
// that side of the lifecycle once a job exists).
type BlobPutter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// DuplicateLookup is the subset of cache.DuplicateIndex the machine needs:
// it only ever looks up, the worker is the one place that Records a hit
// once an analysis_id actually exists.
type DuplicateLookup interface {
	Lookup(ctx context.Context, userID int64, phash string) (analysisID string, found bool)
}

// AuditLogger mirrors service.AuditService's logging surface, narrowed to
// what the machine calls.
type AuditLogger interface {
	Log(ctx context.Context, action, userID, resourceID, resourceType string) error
}

// Machine implements the scenario state machine.
type Machine struct {
	users         UserStore
	convos        ConversationStore
	analyses      AnalysisStore
	blobs         BlobPutter
	jobs          Enqueuer
	dedup         DuplicateLookup
	chat          chatplatform.Client
	progress      *notify.ProgressEditor
	renderer      *notify.Renderer
	audit         AuditLogger
	watermark     imagevalidate.WatermarkProbe
	maxUploadBytes int64
}

// Deps bundles Machine's dependencies for NewMachine.
type Deps struct {
	Users          UserStore
	Convos         ConversationStore
	Analyses       AnalysisStore
	Blobs          BlobPutter
	Jobs           Enqueuer
	Dedup          DuplicateLookup
	Chat           chatplatform.Client
	Progress       *notify.ProgressEditor
	Renderer       *notify.Renderer
	Audit          AuditLogger
	Watermark      imagevalidate.WatermarkProbe // nil defaults to NoopWatermarkProbe
	MaxUploadBytes int64
}

// NewMachine creates a Machine.
func NewMachine(d Deps) *Machine {
	wp := d.Watermark
	if wp == nil {
		wp = imagevalidate.NoopWatermarkProbe{}
	}
	return &Machine{
		users: d.Users, convos: d.Convos, analyses: d.Analyses, blobs: d.Blobs,
		jobs: d.Jobs, dedup: d.Dedup, chat: d.Chat, progress: d.Progress,
		renderer: d.Renderer, audit: d.Audit, watermark: wp, maxUploadBytes: d.MaxUploadBytes,
	}
}

// Handle dispatches a single event through the state machine.
func (m *Machine) Handle(ctx context.Context, ev Event) error {
	if err := m.users.EnsureUser(ctx, ev.UserID, ev.Handle); err != nil {
		return fmt.Errorf("ssm.Handle: ensure user: %w", err)
	}

	if ev.IsStartCmd {
		return m.handleStart(ctx, ev)
	}

	state, err := m.convos.GetOrCreate(ctx, ev.ChatID, ev.UserID)
	if err != nil {
		return fmt.Errorf("ssm.Handle: get conversation: %w", err)
	}

	if ev.CallbackData != "" {
		return m.handleCallback(ctx, ev, state)
	}

	if ev.Attachment != nil {
		return m.handleUpload(ctx, ev, state)
	}

	return nil
}

func (m *Machine) handleStart(ctx context.Context, ev Event) error {
	if err := m.convos.Clear(ctx, ev.ChatID, ev.UserID); err != nil {
		return fmt.Errorf("ssm.handleStart: %w", err)
	}
	_, err := m.chat.SendMessage(ctx, ev.ChatID, "What would you like help with?", notify.ScenarioSelectionKeyboard())
	return err
}

func (m *Machine) handleCallback(ctx context.Context, ev Event, state model.ConversationState) error {
	_ = m.chat.AnswerCallback(ctx, ev.CallbackID, "")

	switch {
	case ev.CallbackData == CallbackSelectAdult && state.Kind == model.StateSelectingScenario:
		next := model.NewAdultWaitingForEvidence(ev.ChatID, ev.UserID)
		if err := m.convos.Save(ctx, next); err != nil {
			return err
		}
		_, err := m.chat.SendMessage(ctx, ev.ChatID, notify.ScenarioIntroText(model.ScenarioAdultBlackmail), nil)
		return err

	case ev.CallbackData == CallbackSelectTeenager && state.Kind == model.StateSelectingScenario:
		next := model.NewTeenagerStopShown(ev.ChatID, ev.UserID)
		if err := m.convos.Save(ctx, next); err != nil {
			return err
		}
		_, err := m.chat.SendMessage(ctx, ev.ChatID, notify.TeenagerStopShownText, notify.TeenagerReadyKeyboard())
		return err

	case ev.CallbackData == CallbackSelectGeneral && state.Kind == model.StateSelectingScenario:
		_, err := m.chat.SendMessage(ctx, ev.ChatID, notify.ScenarioIntroText(model.ScenarioGeneral), nil)
		return err

	case ev.CallbackData == CallbackTeenagerReady && state.Kind == model.StateTeenagerStopShown:
		next := model.NewTeenagerWaitingForPhoto(ev.ChatID, ev.UserID)
		if err := m.convos.Save(ctx, next); err != nil {
			return err
		}
		_, err := m.chat.SendMessage(ctx, ev.ChatID, notify.TeenagerWaitingPromptText, nil)
		return err

	default:
		// Action-button callbacks never reach here (the ingress gateway
		// routes those straight to internal/actions); an unrecognized
		// callback in this scope is a no-op.
		return nil
	}
}

// handleUpload is the critical transition: seven numbered steps, each able
// to abort the rest with a compensating quota refund.
func (m *Machine) handleUpload(ctx context.Context, ev Event, state model.ConversationState) error {
	scenario, ok := scenarioForUpload(state)
	if !ok {
		if err := m.convos.Clear(ctx, ev.ChatID, ev.UserID); err != nil {
			return err
		}
		_, err := m.chat.SendMessage(ctx, ev.ChatID, notify.UnhandledUploadHintText, notify.ScenarioSelectionKeyboard())
		return err
	}

	// Step 1: atomic quota decrement.
	user, err := m.users.Get(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("ssm.handleUpload: get user: %w", err)
	}
	ok, err = m.users.DecrementQuota(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("ssm.handleUpload: decrement quota: %w", err)
	}
	if !ok {
		_, sendErr := m.chat.SendMessage(ctx, ev.ChatID, notify.QuotaExhaustedText, nil)
		return sendErr
	}
	_ = m.audit.Log(ctx, model.AuditQuotaDecremented, fmt.Sprintf("%d", ev.UserID), "", "")

	refund := func(reason string) error {
		if err := m.users.RefundQuota(ctx, ev.UserID); err != nil {
			slog.Error("ssm.handleUpload: refund failed", "error", err)
		} else {
			_ = m.audit.Log(ctx, model.AuditQuotaRefunded, fmt.Sprintf("%d", ev.UserID), "", "")
		}
		_, sendErr := m.chat.SendMessage(ctx, ev.ChatID, reason, nil)
		return sendErr
	}

	// Attachment bytes must be fetched before validation can run.
	data, err := m.chat.Download(ctx, ev.Attachment.FileID)
	if err != nil {
		return refund(notify.TransientFailureText)
	}

	// Step 2: pre-validate.
	result, err := imagevalidate.Validate(data, m.maxUploadBytes)
	if err != nil {
		if ae, ok := apperr.As(err); ok {
			return refund(notify.UnsupportedMediaText(ae.Message))
		}
		return refund(notify.TransientFailureText)
	}

	if generator, hit := m.watermark.Detect(result.Image); hit {
		return m.shortCircuitWatermark(ctx, ev, scenario, data, generator)
	}

	// Step 3: duplicate detection. The worker records (userID, phash) ->
	// analysis_id once the analysis completes and an id actually exists;
	// this step only ever looks up, never records.
	var phash string
	if ph, ok := imagevalidate.PerceptualHash(result.Image); ok {
		phash = ph
		if analysisID, found := m.dedup.Lookup(ctx, ev.UserID, phash); found {
			_ = m.audit.Log(ctx, model.AuditDuplicateHit, fmt.Sprintf("%d", ev.UserID), analysisID, "analysis")
			return refund(notify.DuplicateUploadText(analysisID))
		}
	}

	// Step 4: upload blob.
	ext := result.Format.Extension()
	key := blobstore.NewKey(ev.UserID, ext)
	if _, err := m.blobs.Put(ctx, key, data, result.Format.ContentType()); err != nil {
		return refund(notify.TransientFailureText)
	}

	// Step 5: post progress message.
	progressMsgID, err := m.progress.Post(ctx, ev.ChatID)
	if err != nil {
		return refund(notify.TransientFailureText)
	}

	// Step 6: enqueue job.
	priority := model.PriorityDefault
	if user.Tier == model.TierPro {
		priority = model.PriorityHigh
	}
	job := model.Job{
		UserID:          ev.UserID,
		ChatID:          ev.ChatID,
		SourceMessageID: ev.MessageID,
		ProgressMsgID:   progressMsgID,
		BlobKey:         key,
		Tier:            user.Tier,
		Scenario:        scenario,
		PreserveEXIF:    ev.Attachment.IsDocument,
		PerceptualHash:  phash,
		Priority:        priority,
	}
	if err := m.jobs.Enqueue(ctx, job); err != nil {
		return refund(notify.TransientFailureText)
	}
	_ = m.audit.Log(ctx, model.AuditJobEnqueued, fmt.Sprintf("%d", ev.UserID), job.JobID, "job")

	// Step 7: transition state.
	next := model.NewAnalysisInFlight(ev.ChatID, ev.UserID, job.JobID, progressMsgID, scenario)
	return m.convos.Save(ctx, next)
}

// shortCircuitWatermark handles the watermark short-circuit: a
// visually-detected AI watermark skips remote analysis entirely and goes
// straight to a persisted ai_generated/0.98 verdict.
func (m *Machine) shortCircuitWatermark(ctx context.Context, ev Event, scenario model.Scenario, data []byte, generator string) error {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	analysisID := fmt.Sprintf("ANL-%s-%s", time.Now().UTC().Format("20060102"), hash[:8])

	a := &model.Analysis{
		AnalysisID:       analysisID,
		UserID:           ev.UserID,
		Scenario:         scenario,
		Verdict:          model.VerdictAIGenerated,
		Confidence:       0.98,
		Reason:           fmt.Sprintf("visual watermark identifies %s as the generator", generator),
		ProcessingTimeMS: 0,
		ResultBlob:       []byte("{}"),
		ImageSHA256:      hash,
		CreatedAt:        time.Now().UTC(),
	}
	if err := m.analyses.Create(ctx, a, nil); err != nil {
		return fmt.Errorf("ssm.shortCircuitWatermark: persist: %w", err)
	}
	_ = m.audit.Log(ctx, model.AuditAnalysisCompleted, fmt.Sprintf("%d", ev.UserID), analysisID, "analysis")

	progressMsgID, err := m.progress.Post(ctx, ev.ChatID)
	if err != nil {
		return fmt.Errorf("ssm.shortCircuitWatermark: post progress: %w", err)
	}
	body, kb := m.renderer.RenderFinal(*a)
	m.progress.Replace(ctx, ev.ChatID, progressMsgID, body, kb)

	next := model.NewReviewingResult(ev.ChatID, ev.UserID, analysisID, scenario)
	return m.convos.Save(ctx, next)
}

// scenarioForUpload maps the current conversation state to the scenario an
// upload in that state carries, per the §4.2 transition table. ok is false
// for states that don't expect an upload at all (the "unhandled upload in
// legacy state" branch).
func scenarioForUpload(state model.ConversationState) (model.Scenario, bool) {
	switch state.Kind {
	case model.StateSelectingScenario:
		return model.ScenarioGeneral, true // legacy path
	case model.StateAdultWaitingForEvidence:
		return model.ScenarioAdultBlackmail, true
	case model.StateTeenagerWaitingForPhoto:
		return model.ScenarioTeenagerSOS, true
	default:
		return "", false
	}
}
