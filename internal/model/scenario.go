package model

// Scenario is the user-declared intent that shapes copy register, keyboard,
// and the persisted analytics tag. It propagates through the job, the
// worker, the notification, and the persisted analysis.
type Scenario string

const (
	ScenarioAdultBlackmail Scenario = "adult_blackmail"
	ScenarioTeenagerSOS    Scenario = "teenager_sos"
	ScenarioGeneral        Scenario = "general"
)

// IsValid reports whether s is one of the closed set of admitted scenarios.
func (s Scenario) IsValid() bool {
	switch s {
	case ScenarioAdultBlackmail, ScenarioTeenagerSOS, ScenarioGeneral:
		return true
	}
	return false
}

// NormalizeScenario coerces legacy/empty scenario values to general.
// A None scenario has been observed in legacy data; new writes never
// produce it.
func NormalizeScenario(s Scenario) Scenario {
	if s.IsValid() {
		return s
	}
	return ScenarioGeneral
}
