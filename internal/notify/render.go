// Package notify turns a verdict into the user-visible contract: a rendered
// body, a scenario-specific keyboard, and the bracketing progress edits.
// Copy here is intentionally templated rather than composed ad hoc, since
// the scenario tone-policy register (clinical/legal for adult, reassuring
// for teenager, educational for general) is itself a tested property.
package notify

import (
	"fmt"
	"strings"

	"github.com/forensicbot/core/internal/chatplatform"
	"github.com/forensicbot/core/internal/model"
)

// Action is the opaque callback_data carried by a keyboard button; the
// executor dispatches on these exact strings.
const (
	ActionGetPDF           = "get_pdf"
	ActionCounterMeasures  = "counter_measures"
	ActionBackToMenu       = "back_to_menu"
	ActionHowToTellParents = "how_to_tell_parents"
	ActionStopSpread       = "stop_spread"
	ActionWhatIsSextortion = "what_is_sextortion"
	ActionWhatIsAI         = "what_is_ai"
	ActionHowToSpotFake    = "how_to_spot_fake"
	ActionShareResult      = "share_result"
)

// verdictEmoji gives the header line its at-a-glance glyph.
func verdictEmoji(v model.Verdict) string {
	switch v {
	case model.VerdictReal:
		return "✅"
	case model.VerdictAIGenerated:
		return "🤖"
	case model.VerdictManipulated:
		return "⚠️"
	default:
		return "❔"
	}
}

func verdictLabel(v model.Verdict) string {
	switch v {
	case model.VerdictReal:
		return "Likely Authentic"
	case model.VerdictAIGenerated:
		return "AI-Generated"
	case model.VerdictManipulated:
		return "Manipulated"
	default:
		return "Inconclusive"
	}
}

// Renderer composes the final scenario-shaped message body and keyboard
// from a completed analysis.
type Renderer struct {
	geocoder Geocoder
}

// Geocoder resolves GPS coordinates to a human place name. ReverseGeocode
// takes no context and the renderer applies no timeout: it waits for the
// call to return. When ok is false the renderer falls back to rendering
// raw coordinates.
type Geocoder interface {
	ReverseGeocode(lat, lon float64) (place string, ok bool)
}

// NoopGeocoder never resolves a place name; the renderer then always shows
// coordinates. Reverse geocoding is an out-of-scope external collaborator
// — this keeps the body
// composition path real and testable without reaching for one.
type NoopGeocoder struct{}

// ReverseGeocode implements Geocoder.
func (NoopGeocoder) ReverseGeocode(lat, lon float64) (string, bool) { return "", false }

// NewRenderer creates a Renderer. geocoder may be nil, which is equivalent
// to NoopGeocoder.
func NewRenderer(geocoder Geocoder) *Renderer {
	if geocoder == nil {
		geocoder = NoopGeocoder{}
	}
	return &Renderer{geocoder: geocoder}
}

// RenderFinal builds the body text and keyboard for a completed analysis.
func (r *Renderer) RenderFinal(a model.Analysis) (string, *chatplatform.Keyboard) {
	var b strings.Builder

	fmt.Fprintf(&b, "%s <b>%s</b> (%.0f%% confidence)\n", verdictEmoji(a.Verdict), verdictLabel(a.Verdict), a.Confidence*100)
	if a.Reason != "" {
		fmt.Fprintf(&b, "%s\n", a.Reason)
	}

	if fp := r.renderFootprint(a.ExtractedMeta); fp != "" {
		b.WriteString("\n<b>Digital Footprint</b>\n")
		b.WriteString(fp)
	}

	if rf := renderRedFlags(a.ExtractedMeta); rf != "" {
		b.WriteString("\n<b>Red Flags</b>\n")
		b.WriteString(rf)
	}

	fmt.Fprintf(&b, "\n<i>Reference: %s</i>", a.AnalysisID)

	return b.String(), keyboardFor(a.Scenario)
}

func (r *Renderer) renderFootprint(m *model.DetectorSignals) string {
	if m == nil {
		return ""
	}
	var b strings.Builder

	if m.CaptureTimestamp != nil {
		fmt.Fprintf(&b, "• Captured: %s\n", m.CaptureTimestamp.Format("02 Jan 2006, 15:04"))
	}
	if sw := normalizeSoftware(m.Software, m.CreatorTool); sw != "" {
		fmt.Fprintf(&b, "• Software: %s\n", sw)
	}
	if dev := normalizeDevice(m.CameraMake, m.CameraModel); dev != "" {
		fmt.Fprintf(&b, "• Device: %s\n", dev)
	}
	if m.GPS != nil {
		if place, ok := r.geocoder.ReverseGeocode(m.GPS.Lat, m.GPS.Lon); ok {
			fmt.Fprintf(&b, "• Location: <a href=\"%s\">%s</a>\n", mapsLink(m.GPS.Lat, m.GPS.Lon), place)
		} else {
			fmt.Fprintf(&b, "• Location: <a href=\"%s\">%.5f, %.5f</a>\n", mapsLink(m.GPS.Lat, m.GPS.Lon), m.GPS.Lat, m.GPS.Lon)
		}
	}

	return b.String()
}

func mapsLink(lat, lon float64) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%f,%f", lat, lon)
}

// normalizeSoftware applies the bare-iOS-version rule: a bare version
// number is prefixed "iOS " since that's the only source of bare version
// strings in EXIF Software.
func normalizeSoftware(software, creatorTool string) string {
	s := software
	if s == "" {
		s = creatorTool
	}
	if s == "" {
		return ""
	}
	if isBareVersion(s) {
		return "iOS " + s
	}
	return s
}

func isBareVersion(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

// normalizeDevice properly-cases camera make/model: "apple iphone 13" ->
// "Apple iPhone 13"; Canon models get their EOS token upper-cased.
func normalizeDevice(make_, model_ string) string {
	if make_ == "" && model_ == "" {
		return ""
	}
	parts := strings.Fields(strings.TrimSpace(make_ + " " + model_))
	for i, p := range parts {
		lower := strings.ToLower(p)
		switch lower {
		case "iphone":
			parts[i] = "iPhone"
		case "eos":
			parts[i] = "EOS"
		case "apple", "samsung", "canon", "nikon", "sony", "google", "huawei", "xiaomi":
			parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
		default:
			if i == 0 {
				parts[i] = strings.ToUpper(p[:1]) + p[1:]
			}
		}
	}
	return strings.Join(parts, " ")
}

// renderRedFlags picks the top two red flags by severity.
func renderRedFlags(m *model.DetectorSignals) string {
	if m == nil || len(m.RedFlags) == 0 {
		return ""
	}
	flags := append([]model.RedFlag(nil), m.RedFlags...)
	for i := 0; i < len(flags); i++ {
		for j := i + 1; j < len(flags); j++ {
			if flags[j].Severity > flags[i].Severity {
				flags[i], flags[j] = flags[j], flags[i]
			}
		}
	}
	if len(flags) > 2 {
		flags = flags[:2]
	}
	var b strings.Builder
	for _, f := range flags {
		fmt.Fprintf(&b, "• %s\n", f.Reason)
	}
	return b.String()
}

func keyboardFor(scenario model.Scenario) *chatplatform.Keyboard {
	switch scenario {
	case model.ScenarioAdultBlackmail:
		return &chatplatform.Keyboard{Rows: [][]chatplatform.Button{
			{{Text: "Get Forensic PDF", CallbackData: ActionGetPDF}},
			{{Text: "Counter-measures", CallbackData: ActionCounterMeasures}},
			{{Text: "Back to Main Menu", CallbackData: ActionBackToMenu}},
		}}
	case model.ScenarioTeenagerSOS:
		return &chatplatform.Keyboard{Rows: [][]chatplatform.Button{
			{{Text: "Get PDF Report", CallbackData: ActionGetPDF}},
			{{Text: "How to tell my parents", CallbackData: ActionHowToTellParents}},
			{{Text: "Stop the Spread", CallbackData: ActionStopSpread}},
			{{Text: "What is sextortion?", CallbackData: ActionWhatIsSextortion}},
			{{Text: "Back to Main Menu", CallbackData: ActionBackToMenu}},
		}}
	default: // general
		return &chatplatform.Keyboard{Rows: [][]chatplatform.Button{
			{{Text: "What is AI-generated content?", CallbackData: ActionWhatIsAI}},
			{{Text: "How to spot fake images", CallbackData: ActionHowToSpotFake}},
			{{Text: "Share Result", CallbackData: ActionShareResult}},
			{{Text: "Back to Main Menu", CallbackData: ActionBackToMenu}},
		}}
	}
}

// ScenarioSelectionKeyboard is shown from SelectingScenario.
func ScenarioSelectionKeyboard() *chatplatform.Keyboard {
	return &chatplatform.Keyboard{Rows: [][]chatplatform.Button{
		{{Text: "I'm being blackmailed with a fake image", CallbackData: "select_adult"}},
		{{Text: "I'm a teenager and need help", CallbackData: "select_teenager"}},
		{{Text: "Just verify an image", CallbackData: "select_general"}},
	}}
}

// TeenagerReadyKeyboard is shown on the TeenagerStopShown state.
func TeenagerReadyKeyboard() *chatplatform.Keyboard {
	return &chatplatform.Keyboard{Rows: [][]chatplatform.Button{
		{{Text: "I understand, continue", CallbackData: "teenager_ready"}},
	}}
}
