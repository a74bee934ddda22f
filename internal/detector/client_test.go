package detector

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/forensicbot/core/internal/apperr"
)

func TestDetect_SendsExpectedMultipartFields(t *testing.T) {
	var gotDetail, gotPreserveEXIF, gotImageField string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Fatalf("parse content type: %v", err)
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("next part: %v", err)
			}
			switch part.FormName() {
			case "detail_level":
				b, _ := io.ReadAll(part)
				gotDetail = string(b)
			case "preserve_exif":
				b, _ := io.ReadAll(part)
				gotPreserveEXIF = string(b)
			case "image":
				b, _ := io.ReadAll(part)
				gotImageField = string(b)
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"verdict": "real", "confidence": 0.9})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.Detect(context.Background(), []byte("imagebytes"), DetailDetailed, true)
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}

	if gotDetail != "detailed" {
		t.Errorf("detail_level = %q, want %q", gotDetail, "detailed")
	}
	if gotPreserveEXIF != "true" {
		t.Errorf("preserve_exif = %q, want %q", gotPreserveEXIF, "true")
	}
	if gotImageField != "imagebytes" {
		t.Errorf("image field = %q, want %q", gotImageField, "imagebytes")
	}
}

func TestDetect_DecodesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"verdict":            "ai_generated",
			"confidence":         0.97,
			"processing_time_ms": 250,
			"details": map[string]any{
				"ai_detection_score": 88.5,
				"fft_score":          72.0,
				"face_detected":      true,
				"red_flags": []map[string]any{
					{"reason": "fft anomaly", "severity": 0.8, "trust_level": "high"},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	result, err := c.Detect(context.Background(), []byte("x"), DetailBasic, false)
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}

	if result.ProcessingTimeMS != 250 {
		t.Errorf("ProcessingTimeMS = %d, want 250", result.ProcessingTimeMS)
	}
	if result.Signals.AIHeuristic != 88.5 {
		t.Errorf("AIHeuristic = %v, want 88.5", result.Signals.AIHeuristic)
	}
	if !result.Signals.FaceDetected {
		t.Error("FaceDetected = false, want true")
	}
	if len(result.Signals.RedFlags) != 1 || result.Signals.RedFlags[0].Reason != "fft anomaly" {
		t.Errorf("RedFlags = %+v, want one entry with reason 'fft anomaly'", result.Signals.RedFlags)
	}
}

func TestDetect_ToleratesUnknownExtraJSONKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"verdict":"real","confidence":0.5,"totally_unexpected_field":{"nested":true},"details":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	if _, err := c.Detect(context.Background(), []byte("x"), DetailBasic, false); err != nil {
		t.Fatalf("Detect returned error on unknown extra keys: %v", err)
	}
}

func TestDetect_NonTwoXXStatusReturnsAnalysisError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.Detect(context.Background(), []byte("x"), DetailBasic, false)
	if err == nil {
		t.Fatal("Detect returned nil error on a 500 response, want apperr.AnalysisError")
	}
	ae, ok := apperr.As(err)
	if !ok || ae.Code != apperr.CodeAnalysisError {
		t.Errorf("error = %v, want apperr.CodeAnalysisError", err)
	}
}

func TestDetect_ContextDeadlineExceededReturnsAnalysisTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"verdict": "real"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := c.Detect(ctx, []byte("x"), DetailBasic, false)
	if err == nil {
		t.Fatal("Detect returned nil error past its deadline, want apperr.AnalysisTimeout")
	}
	ae, ok := apperr.As(err)
	if !ok || ae.Code != apperr.CodeAnalysisTimeout {
		t.Errorf("error = %v, want apperr.CodeAnalysisTimeout", err)
	}
}
