// Package actions services the follow-up callback buttons the result
// keyboards attach to a final result: a timeout-plus-panic-recovery
// dispatch shape gated on scenario membership instead of an RBAC role
// check, since there is no operator role here — only the scenario the
// conversation is already in.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forensicbot/core/internal/apperr"
	"github.com/forensicbot/core/internal/chatplatform"
	"github.com/forensicbot/core/internal/model"
	"github.com/forensicbot/core/internal/notify"
)

// DefaultActionTimeout bounds a single callback action.
const DefaultActionTimeout = 10 * time.Second

// allowedByScenario is the scenario-gating table: which callback actions a
// conversation's current scenario may invoke. back_to_menu is universal.
var allowedByScenario = map[model.Scenario]map[string]bool{
	model.ScenarioAdultBlackmail: {
		notify.ActionGetPDF:          true,
		notify.ActionCounterMeasures: true,
		notify.ActionBackToMenu:      true,
	},
	model.ScenarioTeenagerSOS: {
		notify.ActionGetPDF:           true,
		notify.ActionHowToTellParents: true,
		notify.ActionStopSpread:       true,
		notify.ActionWhatIsSextortion: true,
		notify.ActionBackToMenu:       true,
	},
	model.ScenarioGeneral: {
		notify.ActionWhatIsAI:      true,
		notify.ActionHowToSpotFake: true,
		notify.ActionShareResult:   true,
		notify.ActionBackToMenu:    true,
	},
}

// PDFRenderer is the out-of-scope external PDF-rendering collaborator: it
// calls an external renderer with the persisted analysis record. No
// concrete implementation ships with this core.
type PDFRenderer interface {
	RenderReport(ctx context.Context, a model.Analysis) (url string, err error)
}

// AnalysisGetter resolves an analysis_id back to its persisted record, used
// by PDF-request and counter-measures to recover image_sha256.
type AnalysisGetter interface {
	GetByID(ctx context.Context, analysisID string) (*model.Analysis, error)
}

// ConversationStore is the subset of ConversationRepo the executor needs to
// service "Back to Main Menu".
type ConversationStore interface {
	Clear(ctx context.Context, chatID, userID int64) error
}

// Executor dispatches a tapped callback action to its handler.
type Executor struct {
	chat     chatplatform.Client
	analyses AnalysisGetter
	convos   ConversationStore
	pdf      PDFRenderer // nil: PDF requests report unavailable
}

// NewExecutor creates an Executor. pdf may be nil.
func NewExecutor(chat chatplatform.Client, analyses AnalysisGetter, convos ConversationStore, pdf PDFRenderer) *Executor {
	return &Executor{chat: chat, analyses: analyses, convos: convos, pdf: pdf}
}

// Execute runs the named action for the given conversation, after
// verifying it belongs to the conversation's current scenario. chatID
// identifies the chat where the result analysis (and its keyboard) live;
// callbackID is the platform's opaque id for AnswerCallback.
func (e *Executor) Execute(ctx context.Context, action, callbackID string, chatID, userID int64, scenario model.Scenario, analysisID string) error {
	if !allowedByScenario[scenario][action] {
		return apperr.FatalBadJob(fmt.Sprintf("action %q not permitted for scenario %q", action, scenario))
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultActionTimeout)
	defer cancel()

	return e.executeWithRecovery(ctx, action, callbackID, chatID, userID, scenario, analysisID)
}

func (e *Executor) executeWithRecovery(ctx context.Context, action, callbackID string, chatID, userID int64, scenario model.Scenario, analysisID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("action panicked", "action", action, "panic", r)
			err = fmt.Errorf("actions.Execute: recovered panic in %q", action)
		}
	}()

	switch action {
	case notify.ActionCounterMeasures:
		return e.respondWithAnalysisText(ctx, callbackID, chatID, analysisID, notify.CounterMeasuresText)
	case notify.ActionHowToTellParents:
		return e.respond(ctx, callbackID, chatID, notify.ParentHelperText)
	case notify.ActionStopSpread:
		return e.respond(ctx, callbackID, chatID, notify.StopSpreadText)
	case notify.ActionWhatIsSextortion:
		return e.respond(ctx, callbackID, chatID, notify.WhatIsSextortionText)
	case notify.ActionWhatIsAI:
		return e.respond(ctx, callbackID, chatID, notify.WhatIsAIGeneratedText)
	case notify.ActionHowToSpotFake:
		return e.respond(ctx, callbackID, chatID, notify.HowToSpotFakeText)
	case notify.ActionShareResult:
		return e.respond(ctx, callbackID, chatID, "Forward this chat message to share your result.")
	case notify.ActionGetPDF:
		return e.handlePDFRequest(ctx, callbackID, chatID, analysisID)
	case notify.ActionBackToMenu:
		if err := e.convos.Clear(ctx, chatID, userID); err != nil {
			return fmt.Errorf("actions.BackToMenu: %w", err)
		}
		_ = e.chat.AnswerCallback(ctx, callbackID, "")
		_, err := e.chat.SendMessage(ctx, chatID, "What would you like help with?", notify.ScenarioSelectionKeyboard())
		return err
	default:
		return apperr.FatalBadJob(fmt.Sprintf("unknown action %q", action))
	}
}

func (e *Executor) respond(ctx context.Context, callbackID string, chatID int64, text string) error {
	if err := e.chat.AnswerCallback(ctx, callbackID, ""); err != nil {
		slog.Warn("answer callback failed", "error", err)
	}
	_, err := e.chat.SendMessage(ctx, chatID, text, nil)
	return err
}

func (e *Executor) respondWithAnalysisText(ctx context.Context, callbackID string, chatID int64, analysisID string, render func(analysisID, imageSHA256 string) string) error {
	a, err := e.analyses.GetByID(ctx, analysisID)
	if err != nil {
		return fmt.Errorf("actions.respondWithAnalysisText: %w", err)
	}
	hash := ""
	if a != nil {
		hash = a.ImageSHA256
	}
	return e.respond(ctx, callbackID, chatID, render(analysisID, hash))
}

func (e *Executor) handlePDFRequest(ctx context.Context, callbackID string, chatID int64, analysisID string) error {
	if e.pdf == nil {
		return e.respond(ctx, callbackID, chatID, "PDF report generation isn't available yet.")
	}
	a, err := e.analyses.GetByID(ctx, analysisID)
	if err != nil || a == nil {
		return e.respond(ctx, callbackID, chatID, "Couldn't find that analysis to generate a report.")
	}
	url, err := e.pdf.RenderReport(ctx, *a)
	if err != nil {
		slog.Warn("pdf render failed", "error", err)
		return e.respond(ctx, callbackID, chatID, "Couldn't generate the PDF right now — please try again later.")
	}
	return e.respond(ctx, callbackID, chatID, "Your report is ready: "+url)
}
