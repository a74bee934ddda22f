package notify

import (
	"context"
	"log/slog"

	"github.com/forensicbot/core/internal/chatplatform"
)

// Stage is one step of the progressive-update protocol.
type Stage string

const (
	StagePreparing         Stage = "preparing"
	StageDownloading       Stage = "downloading"
	StageEXIFExtraction    Stage = "exif_extraction"
	StageAIDetection       Stage = "ai_detection"
	StageFrequencyAnalysis Stage = "frequency_analysis"
	StageFinalScoring      Stage = "final_scoring"
)

var stageText = map[Stage]string{
	StagePreparing:         "⏳ Preparing your image…",
	StageDownloading:       "⏳ Retrieving your upload…",
	StageEXIFExtraction:    "⏳ Reading embedded metadata…",
	StageAIDetection:       "⏳ Running AI-detection analysis…",
	StageFrequencyAnalysis: "⏳ Running frequency-domain analysis…",
	StageFinalScoring:      "⏳ Finalising the verdict…",
}

// ProgressEditor edits a single chat message in place as a job moves
// through its stages. Every edit is idempotent on (progress_msg_id, stage)
// and every failure is swallowed with a warning log — this decoration must
// never fail the analysis itself.
type ProgressEditor struct {
	client chatplatform.Client
}

// NewProgressEditor creates a ProgressEditor.
func NewProgressEditor(client chatplatform.Client) *ProgressEditor {
	return &ProgressEditor{client: client}
}

// Edit renders the given stage to the chat message at (chatID, messageID).
func (p *ProgressEditor) Edit(ctx context.Context, chatID, messageID int64, stage Stage) {
	text, ok := stageText[stage]
	if !ok {
		text = string(stage)
	}
	if err := p.client.EditMessage(ctx, chatID, messageID, text, nil); err != nil {
		slog.Warn("progress edit failed, continuing", "stage", stage, "error", err)
	}
}

// Post sends the initial progress message, returning its message ID for
// capture into the job and AnalysisInFlight conversation state.
func (p *ProgressEditor) Post(ctx context.Context, chatID int64) (int64, error) {
	return p.client.SendMessage(ctx, chatID, stageText[StagePreparing], nil)
}

// Replace swaps the progress message for the final rendered result.
func (p *ProgressEditor) Replace(ctx context.Context, chatID, messageID int64, body string, kb *chatplatform.Keyboard) {
	if err := p.client.EditMessage(ctx, chatID, messageID, body, kb); err != nil {
		slog.Warn("final result edit failed", "error", err)
	}
}
