// Package detector is the HTTP client for the external image-forensics
// detection API. The API itself is out of scope — this package
// only speaks its form-encoded request contract and decodes its response
// into the DetectorSignals bundle that internal/verdict fuses.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/forensicbot/core/internal/apperr"
	"github.com/forensicbot/core/internal/model"
)

// DetailLevel selects how much EXIF the detection API is asked to extract.
type DetailLevel string

const (
	DetailBasic    DetailLevel = "basic"
	DetailDetailed DetailLevel = "detailed"
)

// Client calls the external detection API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Client with the given hard per-call timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// rawResponse mirrors the detection API's JSON shape verbatim.
// The core tolerates any subset of Details being absent and never fails on
// unknown extra keys — json.Unmarshal already affords both for free.
type rawResponse struct {
	Verdict            string          `json:"verdict"`
	Confidence         float64         `json:"confidence"`
	VerdictReason      string          `json:"verdict_reason"`
	WatermarkDetected  bool            `json:"watermark_detected"`
	WatermarkAnalysis  json.RawMessage `json:"watermark_analysis"`
	ProcessingTimeMS   int             `json:"processing_time_ms"`
	Details            rawDetails      `json:"details"`
}

type rawDetails struct {
	AIDetectionScore  float64        `json:"ai_detection_score"`
	FFTScore          float64        `json:"fft_score"`
	MetadataFraud     float64        `json:"metadata_fraud_score"`
	FaceSwapScore     float64        `json:"face_swap_score"`
	FaceDetected      bool           `json:"face_detected"`
	RedFlags          []rawRedFlag   `json:"red_flags"`
	CameraMake        string         `json:"camera_make"`
	CameraModel       string         `json:"camera_model"`
	Software          string         `json:"software"`
	CreatorTool       string         `json:"creator_tool"`
	CaptureTimestamp  *time.Time     `json:"capture_timestamp"`
	GPS               *rawGPS        `json:"gps"`
	EXIFFieldCount    int            `json:"exif_field_count"`
	ScreenshotDetect  bool           `json:"screenshot_detected"`
	C2PAPresent       bool           `json:"c2pa_present"`
	AISoftwareInEXIF  bool           `json:"ai_software_in_exif"`
	VisualWatermark   *rawWatermark  `json:"visual_watermark"`
	DeviceSerial      string         `json:"device_serial"`
	LensSerial        string         `json:"lens_serial"`
}

type rawRedFlag struct {
	Reason     string  `json:"reason"`
	Severity   float64 `json:"severity"`
	TrustLevel string  `json:"trust_level"`
}

type rawGPS struct {
	Lat float64  `json:"lat"`
	Lon float64  `json:"lon"`
	Alt *float64 `json:"alt"`
}

type rawWatermark struct {
	Generator  string  `json:"generator"`
	Text       string  `json:"text"`
	Location   string  `json:"location"`
	Confidence float64 `json:"confidence"`
}

// Result bundles the decoded DetectorSignals with the fields the worker
// needs outside of fusion (confidence/reason are the API's own opinion, not
// the fused verdict).
type Result struct {
	Signals          model.DetectorSignals
	ProcessingTimeMS int
}

// Detect calls the detection API with the image bytes and detail options,
// and decodes the response into a DetectorSignals bundle. ctx must already
// carry the caller's 30s hard deadline — this function does not retry, so
// a slow or hung upstream surfaces as
// apperr.AnalysisTimeout exactly once.
func (c *Client) Detect(ctx context.Context, image []byte, detail DetailLevel, preserveEXIF bool) (*Result, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("image", "upload.bin")
	if err != nil {
		return nil, fmt.Errorf("detector.Detect: create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("detector.Detect: write image: %w", err)
	}
	_ = w.WriteField("detail_level", string(detail))
	_ = w.WriteField("preserve_exif", fmt.Sprintf("%t", preserveEXIF))
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("detector.Detect: close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, &body)
	if err != nil {
		return nil, fmt.Errorf("detector.Detect: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperr.AnalysisTimeout()
		}
		return nil, apperr.AnalysisError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, apperr.AnalysisError(fmt.Errorf("detector API returned status %d", resp.StatusCode))
	}

	var raw rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, apperr.AnalysisError(fmt.Errorf("decode response: %w", err))
	}

	return &Result{Signals: toSignals(raw), ProcessingTimeMS: raw.ProcessingTimeMS}, nil
}

func toSignals(raw rawResponse) model.DetectorSignals {
	d := raw.Details
	s := model.DetectorSignals{
		AIHeuristic:        d.AIDetectionScore,
		FFTScore:           d.FFTScore,
		MetadataRisk:       d.MetadataFraud,
		FaceSwapScore:      d.FaceSwapScore,
		FaceDetected:       d.FaceDetected,
		C2PAWatermark:      d.C2PAPresent,
		AISoftwareInEXIF:   d.AISoftwareInEXIF,
		ScreenshotDetected: d.ScreenshotDetect,
		CameraMake:         d.CameraMake,
		CameraModel:        d.CameraModel,
		Software:           d.Software,
		CreatorTool:        d.CreatorTool,
		CaptureTimestamp:   d.CaptureTimestamp,
		EXIFFieldCount:     d.EXIFFieldCount,
		DeviceSerial:       d.DeviceSerial,
		LensSerial:         d.LensSerial,
	}

	if d.GPS != nil {
		s.GPS = &model.GPSCoordinates{Lat: d.GPS.Lat, Lon: d.GPS.Lon, Alt: d.GPS.Alt}
	}
	if d.VisualWatermark != nil {
		s.VisualWatermark = &model.VisualWatermark{
			Generator:  d.VisualWatermark.Generator,
			Text:       d.VisualWatermark.Text,
			Location:   d.VisualWatermark.Location,
			Confidence: d.VisualWatermark.Confidence,
		}
	}
	for _, rf := range d.RedFlags {
		s.RedFlags = append(s.RedFlags, model.RedFlag{Reason: rf.Reason, Severity: rf.Severity, TrustLevel: rf.TrustLevel})
	}

	return s
}
