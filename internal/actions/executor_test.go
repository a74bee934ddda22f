package actions

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/forensicbot/core/internal/apperr"
	"github.com/forensicbot/core/internal/chatplatform"
	"github.com/forensicbot/core/internal/model"
	"github.com/forensicbot/core/internal/notify"
)

type fakeChat struct {
	sent          []string
	answered      []string
	sendMessageErr error
}

func (f *fakeChat) SendMessage(ctx context.Context, chatID int64, text string, kb *chatplatform.Keyboard) (int64, error) {
	f.sent = append(f.sent, text)
	if f.sendMessageErr != nil {
		return 0, f.sendMessageErr
	}
	return 1, nil
}

func (f *fakeChat) EditMessage(ctx context.Context, chatID, messageID int64, text string, kb *chatplatform.Keyboard) error {
	return nil
}

func (f *fakeChat) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	f.answered = append(f.answered, callbackID)
	return nil
}

func (f *fakeChat) Download(ctx context.Context, fileID string) ([]byte, error) { return nil, nil }

type fakeAnalysisGetter struct {
	analysis *model.Analysis
	err      error
	panicOn  bool
}

func (f *fakeAnalysisGetter) GetByID(ctx context.Context, analysisID string) (*model.Analysis, error) {
	if f.panicOn {
		panic("simulated panic in GetByID")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

type fakeConvoStore struct {
	cleared int
}

func (f *fakeConvoStore) Clear(ctx context.Context, chatID, userID int64) error {
	f.cleared++
	return nil
}

type fakePDFRenderer struct {
	url string
	err error
}

func (f *fakePDFRenderer) RenderReport(ctx context.Context, a model.Analysis) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func TestExecute_RejectsActionNotAllowedForScenario(t *testing.T) {
	chat := &fakeChat{}
	e := NewExecutor(chat, &fakeAnalysisGetter{}, &fakeConvoStore{}, nil)

	err := e.Execute(context.Background(), notify.ActionCounterMeasures, "cb-1", 1, 1, model.ScenarioGeneral, "ANL-1")
	if err == nil {
		t.Fatal("Execute(CounterMeasures, general scenario) returned nil, want a rejection")
	}
	ae, ok := apperr.As(err)
	if !ok || ae.Code != apperr.CodeFatalBadJob {
		t.Errorf("error = %v, want apperr.CodeFatalBadJob", err)
	}
	if len(chat.sent) != 0 {
		t.Errorf("chat.sent = %v, want no messages sent for a rejected action", chat.sent)
	}
}

func TestExecute_AllowsCounterMeasuresForAdultScenario(t *testing.T) {
	chat := &fakeChat{}
	analyses := &fakeAnalysisGetter{analysis: &model.Analysis{AnalysisID: "ANL-1", ImageSHA256: "deadbeef"}}
	e := NewExecutor(chat, analyses, &fakeConvoStore{}, nil)

	err := e.Execute(context.Background(), notify.ActionCounterMeasures, "cb-1", 1, 1, model.ScenarioAdultBlackmail, "ANL-1")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(chat.sent) != 1 || !strings.Contains(chat.sent[0], "deadbeef") {
		t.Errorf("chat.sent = %v, want the counter-measures text carrying the image hash", chat.sent)
	}
}

func TestExecute_BackToMenuIsUniversal(t *testing.T) {
	for _, scenario := range []model.Scenario{model.ScenarioAdultBlackmail, model.ScenarioTeenagerSOS, model.ScenarioGeneral} {
		chat := &fakeChat{}
		convos := &fakeConvoStore{}
		e := NewExecutor(chat, &fakeAnalysisGetter{}, convos, nil)

		if err := e.Execute(context.Background(), notify.ActionBackToMenu, "cb-1", 1, 1, scenario, ""); err != nil {
			t.Fatalf("Execute(BackToMenu, %s) returned error: %v", scenario, err)
		}
		if convos.cleared != 1 {
			t.Errorf("scenario %s: convos.cleared = %d, want 1", scenario, convos.cleared)
		}
	}
}

func TestExecute_PDFRequestWithNilRendererReportsUnavailable(t *testing.T) {
	chat := &fakeChat{}
	e := NewExecutor(chat, &fakeAnalysisGetter{}, &fakeConvoStore{}, nil)

	if err := e.Execute(context.Background(), notify.ActionGetPDF, "cb-1", 1, 1, model.ScenarioAdultBlackmail, "ANL-1"); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(chat.sent) != 1 || !strings.Contains(chat.sent[0], "isn't available") {
		t.Errorf("chat.sent = %v, want an unavailable notice", chat.sent)
	}
}

func TestExecute_PDFRequestWithRendererSendsURL(t *testing.T) {
	chat := &fakeChat{}
	analyses := &fakeAnalysisGetter{analysis: &model.Analysis{AnalysisID: "ANL-1"}}
	pdf := &fakePDFRenderer{url: "https://example.com/report.pdf"}
	e := NewExecutor(chat, analyses, &fakeConvoStore{}, pdf)

	if err := e.Execute(context.Background(), notify.ActionGetPDF, "cb-1", 1, 1, model.ScenarioAdultBlackmail, "ANL-1"); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(chat.sent) != 1 || !strings.Contains(chat.sent[0], "https://example.com/report.pdf") {
		t.Errorf("chat.sent = %v, want the report URL", chat.sent)
	}
}

func TestExecute_PDFRequestRendererFailureReportsRetry(t *testing.T) {
	chat := &fakeChat{}
	analyses := &fakeAnalysisGetter{analysis: &model.Analysis{AnalysisID: "ANL-1"}}
	pdf := &fakePDFRenderer{err: errors.New("renderer unavailable")}
	e := NewExecutor(chat, analyses, &fakeConvoStore{}, pdf)

	if err := e.Execute(context.Background(), notify.ActionGetPDF, "cb-1", 1, 1, model.ScenarioAdultBlackmail, "ANL-1"); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(chat.sent) != 1 || !strings.Contains(chat.sent[0], "try again later") {
		t.Errorf("chat.sent = %v, want a retry-later notice", chat.sent)
	}
}

func TestExecute_PanicIsRecoveredAndReturnedAsError(t *testing.T) {
	chat := &fakeChat{}
	analyses := &fakeAnalysisGetter{panicOn: true}
	e := NewExecutor(chat, analyses, &fakeConvoStore{}, nil)

	err := e.Execute(context.Background(), notify.ActionCounterMeasures, "cb-1", 1, 1, model.ScenarioAdultBlackmail, "ANL-1")
	if err == nil {
		t.Fatal("Execute with a panicking collaborator returned nil, want a recovered error")
	}
	if !strings.Contains(err.Error(), "recovered panic") {
		t.Errorf("error = %v, want a recovered-panic message", err)
	}
}

func TestExecute_UnknownActionIsFatalBadJob(t *testing.T) {
	chat := &fakeChat{}
	e := NewExecutor(chat, &fakeAnalysisGetter{}, &fakeConvoStore{}, nil)

	err := e.Execute(context.Background(), "not_a_real_action", "cb-1", 1, 1, model.ScenarioGeneral, "")
	if err == nil {
		t.Fatal("Execute with an unregistered action returned nil, want a rejection (not permitted for any scenario)")
	}
	if ae, ok := apperr.As(err); !ok || ae.Code != apperr.CodeFatalBadJob {
		t.Errorf("error = %v, want apperr.CodeFatalBadJob", err)
	}
}
