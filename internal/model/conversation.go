package model

import "time"

// StateKind is the tag of a ConversationState's active variant.
type StateKind string

const (
	StateSelectingScenario      StateKind = "selecting_scenario"
	StateAdultWaitingForEvidence StateKind = "adult_waiting_for_evidence"
	StateTeenagerStopShown      StateKind = "teenager_stop_shown"
	StateTeenagerWaitingForPhoto StateKind = "teenager_waiting_for_photo"
	StateAnalysisInFlight       StateKind = "analysis_in_flight"
	StateReviewingResult        StateKind = "reviewing_result"
)

// ConversationStateTTL is how long a conversation survives without activity
// before it is treated as expired and reset to SelectingScenario.
const ConversationStateTTL = time.Hour

// ConversationState is a tagged union over the per-(chat_id, user_id)
// conversation. Only the fields relevant to Kind are meaningful; the
// constructors below are the only supported way to build one, so a state
// built through them never carries stray fields from another variant.
type ConversationState struct {
	ChatID   int64
	UserID   int64
	Kind     StateKind
	Scenario Scenario // AdultWaitingForEvidence, TeenagerWaitingForPhoto, AnalysisInFlight, ReviewingResult

	JobID         string // AnalysisInFlight
	ProgressMsgID int64  // AnalysisInFlight

	AnalysisID string // ReviewingResult

	UpdatedAt time.Time
}

func NewSelectingScenario(chatID, userID int64) ConversationState {
	return ConversationState{ChatID: chatID, UserID: userID, Kind: StateSelectingScenario}
}

func NewAdultWaitingForEvidence(chatID, userID int64) ConversationState {
	return ConversationState{ChatID: chatID, UserID: userID, Kind: StateAdultWaitingForEvidence, Scenario: ScenarioAdultBlackmail}
}

func NewTeenagerStopShown(chatID, userID int64) ConversationState {
	return ConversationState{ChatID: chatID, UserID: userID, Kind: StateTeenagerStopShown, Scenario: ScenarioTeenagerSOS}
}

func NewTeenagerWaitingForPhoto(chatID, userID int64) ConversationState {
	return ConversationState{ChatID: chatID, UserID: userID, Kind: StateTeenagerWaitingForPhoto, Scenario: ScenarioTeenagerSOS}
}

func NewAnalysisInFlight(chatID, userID int64, jobID string, progressMsgID int64, scenario Scenario) ConversationState {
	return ConversationState{
		ChatID: chatID, UserID: userID, Kind: StateAnalysisInFlight,
		JobID: jobID, ProgressMsgID: progressMsgID, Scenario: scenario,
	}
}

func NewReviewingResult(chatID, userID int64, analysisID string, scenario Scenario) ConversationState {
	return ConversationState{
		ChatID: chatID, UserID: userID, Kind: StateReviewingResult,
		AnalysisID: analysisID, Scenario: scenario,
	}
}

// Expired reports whether the state has outlived ConversationStateTTL
// relative to now.
func (c ConversationState) Expired(now time.Time) bool {
	return now.Sub(c.UpdatedAt) > ConversationStateTTL
}
