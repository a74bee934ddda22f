package model

import "time"

// Verdict is the closed outcome set produced by verdict fusion.
type Verdict string

const (
	VerdictReal         Verdict = "real"
	VerdictAIGenerated  Verdict = "ai_generated"
	VerdictManipulated  Verdict = "manipulated"
	VerdictInconclusive Verdict = "inconclusive"
)

// GPSCoordinates is optional EXIF GPS metadata extracted by the detection API.
type GPSCoordinates struct {
	Lat float64  `json:"lat"`
	Lon float64  `json:"lon"`
	Alt *float64 `json:"alt,omitempty"`
}

// VisualWatermark is a visually-detected AI-generator tag (e.g. an OCR hit
// on "made with google ai").
type VisualWatermark struct {
	Generator  string  `json:"generator"`
	Text       string  `json:"text"`
	Location   string  `json:"location"`
	Confidence float64 `json:"confidence"`
}

// RedFlag is one suspicious signal surfaced by the detection API, ranked by
// severity for the notification renderer's "top two" selection.
type RedFlag struct {
	Reason     string  `json:"reason"`
	Severity   float64 `json:"severity"`
	TrustLevel string  `json:"trustLevel,omitempty"`
}

// DetectorSignals is the bundle of independent, per-detector scores that
// verdict fusion (internal/verdict) combines into one verdict. It is
// consumed, never owned: the core never computes these scores itself.
type DetectorSignals struct {
	AIHeuristic   float64 `json:"aiHeuristic"`
	FFTScore      float64 `json:"fftScore"`
	MetadataRisk  float64 `json:"metadataRisk"` // 0-100, higher = more suspicious
	FaceSwapScore float64 `json:"faceSwapScore"`
	FaceDetected  bool    `json:"faceDetected"`

	VisualWatermark   *VisualWatermark `json:"visualWatermark,omitempty"`
	C2PAWatermark     bool             `json:"c2paWatermark"`
	AISoftwareInEXIF  bool             `json:"aiSoftwareInExif"`
	ScreenshotDetected bool            `json:"screenshotDetected"`

	RedFlags []RedFlag `json:"redFlags,omitempty"`

	CameraMake       string          `json:"cameraMake,omitempty"`
	CameraModel      string          `json:"cameraModel,omitempty"`
	Software         string          `json:"software,omitempty"`
	CreatorTool      string          `json:"creatorTool,omitempty"`
	CaptureTimestamp *time.Time      `json:"captureTimestamp,omitempty"`
	GPS              *GPSCoordinates `json:"gps,omitempty"`
	EXIFFieldCount   int             `json:"exifFieldCount"`
	DeviceSerial     string          `json:"deviceSerial,omitempty"`
	LensSerial       string          `json:"lensSerial,omitempty"`
}

// VerdictResult is the output of fusing a DetectorSignals bundle: a single
// {verdict, confidence, reason} triple. Given the same input bundle, fusion
// must reproduce byte-identical output across runs.
type VerdictResult struct {
	Verdict    Verdict
	Confidence float64
	Reason     string
}

// Analysis is the durable record persisted after an analysis completes. It
// outlives the job; image_sha256 is the canonical cryptographic identifier
// used in forensic messages, analysis_id is the user-visible one.
type Analysis struct {
	AnalysisID       string
	UserID           int64
	Scenario         Scenario
	Verdict          Verdict
	Confidence       float64
	Reason           string
	ProcessingTimeMS int
	ResultBlob       []byte // opaque JSON from the detector, stored as-is
	ImageSHA256      string
	ExtractedMeta    *DetectorSignals // subset surfaced to the notification renderer
	CreatedAt        time.Time
}
