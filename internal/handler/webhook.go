package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/forensicbot/core/internal/actions"
	"github.com/forensicbot/core/internal/apperr"
	"github.com/forensicbot/core/internal/chatplatform"
	"github.com/forensicbot/core/internal/model"
	"github.com/forensicbot/core/internal/notify"
	"github.com/forensicbot/core/internal/ssm"
)

// webhookTimeout bounds the synchronous part of handling one update: quota
// checks, upload validation, and job enqueue. The analysis itself runs
// async in internal/worker.
const webhookTimeout = 25 * time.Second

// MachineHandler is the subset of ssm.Machine the gateway needs.
type MachineHandler interface {
	Handle(ctx context.Context, ev ssm.Event) error
}

// ActionExecutor is the subset of actions.Executor the gateway needs.
type ActionExecutor interface {
	Execute(ctx context.Context, action, callbackID string, chatID, userID int64, scenario model.Scenario, analysisID string) error
}

// ConversationLookup resolves a chat's current state, used only to route an
// action-button tap (the scenario/analysis_id it needs live on the
// conversation, not on the tap itself).
type ConversationLookup interface {
	GetOrCreate(ctx context.Context, chatID, userID int64) (model.ConversationState, error)
}

// RateLimiter is the subset of cache.RateLimiter the gateway needs.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, int)
}

// WebhookDeps bundles the ingress gateway's dependencies.
type WebhookDeps struct {
	Machine     MachineHandler
	Actions     ActionExecutor
	Convos      ConversationLookup
	Chat        chatplatform.Client
	RateLimiter RateLimiter // nil disables rate limiting
}

// actionCallbacks is the closed set of post-result callback_data values the
// ingress gateway routes to internal/actions instead of the state machine.
var actionCallbacks = map[string]bool{
	notify.ActionGetPDF:           true,
	notify.ActionCounterMeasures:  true,
	notify.ActionBackToMenu:       true,
	notify.ActionHowToTellParents: true,
	notify.ActionStopSpread:       true,
	notify.ActionWhatIsSextortion: true,
	notify.ActionWhatIsAI:         true,
	notify.ActionHowToSpotFake:    true,
	notify.ActionShareResult:      true,
}

// Webhook is the C1 ingress gateway: it decodes one inbound chat-platform
// update, applies the per-user rate limit, and dispatches to either the
// scenario state machine or the post-result action executor. It always
// answers 200 so the platform does not retry-storm a transient internal
// error — failures are logged and, where possible, surfaced to the user as
// a chat message instead.
func Webhook(deps WebhookDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			w.WriteHeader(http.StatusOK)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), webhookTimeout)
		defer cancel()

		chatID, userID, handle, ok := identity(update)
		if !ok {
			w.WriteHeader(http.StatusOK)
			return
		}

		if deps.RateLimiter != nil {
			key := fmt.Sprintf("ratelimit:%d", userID)
			if allowed, retryAfter := deps.RateLimiter.Allow(ctx, key); !allowed {
				_, _ = deps.Chat.SendMessage(ctx, chatID, notify.RateLimitedText(retryAfter), nil)
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		if update.CallbackQuery != nil && actionCallbacks[update.CallbackQuery.Data] {
			handleAction(ctx, deps, update, chatID, userID)
			w.WriteHeader(http.StatusOK)
			return
		}

		ev := toEvent(update, chatID, userID, handle)
		if err := deps.Machine.Handle(ctx, ev); err != nil {
			if ae, ok := apperr.As(err); ok {
				slog.Warn("machine handle returned app error", "code", ae.Code, "error", err)
			} else {
				slog.Error("machine handle failed", "error", err)
			}
		}

		w.WriteHeader(http.StatusOK)
	}
}

func handleAction(ctx context.Context, deps WebhookDeps, update tgbotapi.Update, chatID, userID int64) {
	state, err := deps.Convos.GetOrCreate(ctx, chatID, userID)
	if err != nil {
		slog.Error("action lookup: get conversation failed", "error", err)
		return
	}
	cb := update.CallbackQuery
	if err := deps.Actions.Execute(ctx, cb.Data, cb.ID, chatID, userID, state.Scenario, state.AnalysisID); err != nil {
		if ae, ok := apperr.As(err); ok && ae.Code == apperr.CodeFatalBadJob {
			slog.Warn("action rejected", "action", cb.Data, "reason", ae.Message)
			return
		}
		slog.Error("action execute failed", "action", cb.Data, "error", err)
	}
}

// identity extracts the (chat, user, display-handle) triple common to both
// message and callback updates.
func identity(update tgbotapi.Update) (chatID, userID int64, handle string, ok bool) {
	switch {
	case update.Message != nil && update.Message.From != nil:
		return update.Message.Chat.ID, update.Message.From.ID, update.Message.From.UserName, true
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		chatID := int64(0)
		if update.CallbackQuery.Message != nil {
			chatID = update.CallbackQuery.Message.Chat.ID
		}
		return chatID, update.CallbackQuery.From.ID, update.CallbackQuery.From.UserName, chatID != 0
	default:
		return 0, 0, "", false
	}
}

// toEvent maps a platform update to a ssm.Event. Only photo and
// document-with-image attachments are treated as uploads; the document
// channel is how a user sends a lossless original and is what sets
// PreserveEXIF upstream in the machine via Attachment.IsDocument.
func toEvent(update tgbotapi.Update, chatID, userID int64, handle string) ssm.Event {
	ev := ssm.Event{ChatID: chatID, UserID: userID, Handle: handle}

	if update.CallbackQuery != nil {
		ev.CallbackData = update.CallbackQuery.Data
		ev.CallbackID = update.CallbackQuery.ID
		return ev
	}

	msg := update.Message
	if msg == nil {
		return ev
	}
	ev.MessageID = int64(msg.MessageID)
	ev.IsStartCmd = msg.IsCommand() && msg.Command() == "start"

	switch {
	case len(msg.Photo) > 0:
		best := msg.Photo[len(msg.Photo)-1]
		ev.Attachment = &chatplatform.Attachment{FileID: best.FileID, IsDocument: false}
	case msg.Document != nil && isImageMIME(msg.Document.MimeType):
		ev.Attachment = &chatplatform.Attachment{FileID: msg.Document.FileID, IsDocument: true}
	}

	return ev
}

func isImageMIME(mime string) bool {
	switch mime {
	case "image/jpeg", "image/png", "image/webp", "image/heic", "image/heif":
		return true
	default:
		return false
	}
}
