// Package imagevalidate implements the cheap, local, pre-network checks on
// an upload: size, format, decodability, and the perceptual hash used by
// the duplicate-upload middleware. It never calls the detection API —
// everything here runs before a job is ever enqueued.
package imagevalidate

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/corona10/goimagehash"
	"golang.org/x/image/webp"

	"github.com/forensicbot/core/internal/apperr"
)

// MaxUploadBytes is overridden by callers via Validate's maxBytes argument;
// this is only the package-level fallback used by tests.
const MaxUploadBytes = 20 * 1024 * 1024

// Format is one of the closed set of admitted upload formats. HEIC is recognized by magic bytes only — it has no
// pure-Go decoder in the ecosystem, so it is validated structurally but
// not decoded to image.Image (and so never contributes a perceptual hash).
// sniffFormat never returns FormatMPO: an MPO upload carries the JPEG SOI
// marker, so it is sniffed, decoded and hashed as FormatJPEG.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatHEIC Format = "heic"
	FormatMPO  Format = "mpo"
)

// sniffFormat detects the format from magic bytes. MPO reuses the JPEG SOI
// marker (it is a multi-picture JPEG container), so it cannot be
// distinguished from a plain JPEG by header alone; callers that need to
// tell them apart rely on the originating upload channel instead.
func sniffFormat(data []byte) (Format, error) {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return FormatJPEG, nil
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return FormatPNG, nil
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP, nil
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) &&
		(bytes.Contains(data[8:12], []byte("heic")) || bytes.Contains(data[8:12], []byte("mif1")) || bytes.Contains(data[8:12], []byte("heix"))):
		return FormatHEIC, nil
	default:
		return "", fmt.Errorf("imagevalidate: unrecognized format")
	}
}

// Result is the outcome of a successful validation.
type Result struct {
	Format Format
	Image  image.Image // nil for HEIC, which is not decoded locally
}

// Validate enforces: size <= maxBytes, format in the admitted set, and
// (where a decoder exists) that the bytes actually decode.
// Failures return *apperr.Error with CodeUnsupportedMedia. The caller
// (ssm.Machine.handleUpload) decrements the quota before this check and
// refunds it when Validate fails.
func Validate(data []byte, maxBytes int64) (*Result, error) {
	if int64(len(data)) > maxBytes {
		return nil, apperr.UnsupportedMedia(fmt.Sprintf("image exceeds the %d MB limit", maxBytes/(1024*1024)))
	}

	format, err := sniffFormat(data)
	if err != nil {
		return nil, apperr.UnsupportedMedia("unsupported image format")
	}

	switch format {
	case FormatJPEG, FormatPNG:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, apperr.UnsupportedMedia("image failed to decode")
		}
		return &Result{Format: format, Image: img}, nil
	case FormatWebP:
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, apperr.UnsupportedMedia("image failed to decode")
		}
		return &Result{Format: format, Image: img}, nil
	default: // HEIC: header-validated only
		return &Result{Format: format}, nil
	}
}

// PerceptualHash computes a stable fingerprint over decoded pixels, used by
// the duplicate-upload middleware to resist the trivial
// noise evasion a plain byte hash would miss. Returns ok=false for formats
// with no local decoder (HEIC) — those uploads simply skip dedup.
func PerceptualHash(img image.Image) (hash string, ok bool) {
	if img == nil {
		return "", false
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", false
	}
	return h.ToString(), true
}

// Extension returns the file extension used in blob_key construction
// ("{user_id}/{uuid}.{ext}").
func (f Format) Extension() string {
	switch f {
	case FormatJPEG, FormatMPO:
		return "jpg"
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	case FormatHEIC:
		return "heic"
	default:
		return "bin"
	}
}

// ContentType returns the MIME type for the blob store Put call.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG, FormatMPO:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatHEIC:
		return "image/heic"
	default:
		return "application/octet-stream"
	}
}

// WatermarkProbe is a cheap, local, pre-network check for a
// visually-burned-in AI-generator tag (e.g. "made with google ai"). A
// positive hit lets the state machine short-circuit straight to verdict
// ai_generated/confidence=0.98 without ever calling the detection API.
// Running a real OCR engine in-process is out of this core's scope, for
// the same reason the detection engine itself is treated as an external
// service; the interface lets a deployment plug one in, and the default
// implementation below always reports no match so the pipeline degrades
// to the normal remote-analysis path.
type WatermarkProbe interface {
	Detect(img image.Image) (generator string, found bool)
}

// NoopWatermarkProbe is the default WatermarkProbe: it never reports a hit.
// Visual-watermark detection still happens authoritatively inside the
// detection API's response,
// which verdict fusion's cascade already gives first priority; this probe
// is purely a latency optimization for the obvious cases.
type NoopWatermarkProbe struct{}

// Detect implements WatermarkProbe.
func (NoopWatermarkProbe) Detect(img image.Image) (string, bool) { return "", false }

// ScreenshotHeuristic is a cheap, local companion check. It looks for the
// signature of a device screenshot — a pixel
// aspect ratio matching a common screen/viewport rather than a camera
// sensor — purely as an informational signal; unlike the watermark probe it
// never short-circuits validation (the authoritative screenshot_detected
// flag comes back from the detection API and drives verdict fusion's
// cascade item 4).
func ScreenshotHeuristic(img image.Image) bool {
	if img == nil {
		return false
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return false
	}
	for _, ratio := range commonScreenRatios {
		if closeRatio(float64(w)/float64(h), ratio) || closeRatio(float64(h)/float64(w), ratio) {
			return true
		}
	}
	return false
}

var commonScreenRatios = []float64{16.0 / 9.0, 18.0 / 9.0, 19.5 / 9.0, 4.0 / 3.0}

func closeRatio(a, b float64) bool {
	const epsilon = 0.01
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < epsilon
}
