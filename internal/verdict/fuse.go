// Package verdict implements the one rule that concentrates nearly all of
// the system's decision logic: fusing a bundle of independent detector
// signals into a single verdict. Fuse is a pure function — no I/O, no
// clock, no randomness — so it can be exercised against literal fixtures
// without a network and is guaranteed to be deterministic across runs.
package verdict

import (
	"fmt"
	"strings"

	"github.com/forensicbot/core/internal/model"
)

type trustStrength int

const (
	trustNone trustStrength = iota
	trustMedium
	trustStrong
)

// Fuse combines a DetectorSignals bundle into one {verdict, confidence,
// reason} triple per the priority cascade: an earlier-numbered rule always
// wins over a later one.
func Fuse(s model.DetectorSignals) model.VerdictResult {
	if s.VisualWatermark != nil {
		return model.VerdictResult{
			Verdict:    model.VerdictAIGenerated,
			Confidence: 0.98,
			Reason:     fmt.Sprintf("visual watermark identifies %s as the generator", s.VisualWatermark.Generator),
		}
	}

	if s.C2PAWatermark {
		return model.VerdictResult{
			Verdict:    model.VerdictAIGenerated,
			Confidence: 0.95,
			Reason:     "C2PA content-provenance manifest present",
		}
	}

	if s.AISoftwareInEXIF {
		return model.VerdictResult{
			Verdict:    model.VerdictAIGenerated,
			Confidence: 0.98,
			Reason:     "EXIF metadata names AI image-generation software",
		}
	}

	if s.ScreenshotDetected {
		return model.VerdictResult{
			Verdict:    model.VerdictManipulated,
			Confidence: 0.95,
			Reason:     "screenshot detected with high certainty",
		}
	}

	if s.MetadataRisk >= 80 {
		v := model.VerdictManipulated
		if s.MetadataRisk >= 90 {
			v = model.VerdictAIGenerated
		}
		return model.VerdictResult{
			Verdict:    v,
			Confidence: min(s.MetadataRisk/100, 0.98),
			Reason:     fmt.Sprintf("metadata fraud score %.0f is in the high-risk range", s.MetadataRisk),
		}
	}

	return weightedFusion(s)
}

func weightedFusion(s model.DetectorSignals) model.VerdictResult {
	faceTerm := 0.0
	if s.FaceDetected {
		faceTerm = s.FaceSwapScore
	}

	combined := 0.35*s.AIHeuristic + 0.30*s.FFTScore + 0.25*(s.MetadataRisk/100) + 0.10*faceTerm

	switch trustedSoftwareStrength(s.Software, s.CreatorTool) {
	case trustStrong:
		combined -= 0.30
	case trustMedium:
		combined -= 0.15
	}

	switch serialCount(s.DeviceSerial, s.LensSerial) {
	case 2:
		combined -= 0.30
	case 1:
		combined -= 0.20
	}

	if s.MetadataRisk < 40 && (s.CameraMake != "" || s.CameraModel != "") {
		bonus := (40 - s.MetadataRisk) / 100
		if combined >= 0.35 && combined < 0.50 && bonus > 0 {
			return model.VerdictResult{
				Verdict:    model.VerdictReal,
				Confidence: max(0.70, 1-combined+bonus),
				Reason:     "camera metadata is coherent and fraud score is low",
			}
		}
	}

	switch {
	case combined >= 0.70:
		return model.VerdictResult{
			Verdict:    model.VerdictAIGenerated,
			Confidence: min(combined, 0.95),
			Reason:     "combined detector score is high across heuristic and frequency analysis",
		}
	case combined >= 0.50:
		if s.AIHeuristic >= s.FFTScore {
			return model.VerdictResult{Verdict: model.VerdictAIGenerated, Confidence: combined, Reason: "AI heuristic score dominates the combined signal"}
		}
		return model.VerdictResult{Verdict: model.VerdictManipulated, Confidence: combined, Reason: "frequency-domain score dominates the combined signal"}
	case combined >= 0.35:
		return model.VerdictResult{Verdict: model.VerdictInconclusive, Confidence: 1 - combined, Reason: "combined detector score is in the inconclusive band"}
	default:
		return model.VerdictResult{Verdict: model.VerdictReal, Confidence: clamp(1-combined, 0.70, 0.95), Reason: "combined detector score is low across all signals"}
	}
}

// trustedSoftwareStrength reports how strongly the EXIF Software / XMP
// CreatorTool fields name a trusted photo editor. Lightroom and Capture One
// are strong signals (serious post-processing workflows rarely paired with
// generative fraud); plain Photoshop is a medium signal.
func trustedSoftwareStrength(software, creatorTool string) trustStrength {
	combined := strings.ToLower(software + " " + creatorTool)
	if strings.Contains(combined, "lightroom") || strings.Contains(combined, "capture one") {
		return trustStrong
	}
	if strings.Contains(combined, "photoshop") {
		return trustMedium
	}
	return trustNone
}

func serialCount(deviceSerial, lensSerial string) int {
	n := 0
	if deviceSerial != "" {
		n++
	}
	if lensSerial != "" {
		n++
	}
	return n
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
