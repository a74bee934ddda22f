package notify

import (
	"fmt"

	"github.com/forensicbot/core/internal/model"
)

// QuotaExhaustedText is the user-visible refusal when the daily free quota
// is spent.
const QuotaExhaustedText = "You've used today's free analyses. Your quota resets at midnight UTC — upgrade to Pro for unlimited checks."

// RateLimitedText is the wait-hint shown by the rate-limit middleware.
func RateLimitedText(retryAfterSeconds int) string {
	return fmt.Sprintf("Too many requests, wait %d seconds and try again.", retryAfterSeconds)
}

// UnsupportedMediaText is shown when validation rejects an upload.
func UnsupportedMediaText(reason string) string {
	return "That file couldn't be processed: " + reason + ". Please send a JPEG, PNG, HEIC, WebP, or MPO image under 20 MB."
}

// DuplicateUploadText is shown on a perceptual-hash duplicate hit.
func DuplicateUploadText(analysisID string) string {
	return "This image was already analysed — reusing the prior result (" + analysisID + ")."
}

// TransientFailureText covers StoreTransient and AnalysisTimeout/AnalysisError:
// a short, non-technical explanation with no internal detail.
const TransientFailureText = "Something went wrong while analysing your image. Your quota has been refunded — please try again in a moment."

// OverloadedText is the fail-fast backpressure message.
const OverloadedText = "The system is temporarily overloaded. Your quota has been refunded — please try again shortly."

// ScenarioIntroText introduces each scenario on selection, in its own tone
// register.
func ScenarioIntroText(s model.Scenario) string {
	switch s {
	case model.ScenarioAdultBlackmail:
		return "Upload the image in question. We will produce a forensic analysis you can use as evidence: capture metadata, provenance signals, and a verdict with confidence." // clinical/legal register
	case model.ScenarioTeenagerSOS:
		return TeenagerStopShownText
	default:
		return "Send a photo or image file and we'll check whether it looks AI-generated or manipulated."
	}
}

// TeenagerStopShownText is shown immediately on selecting the teenager
// scenario, before any upload is accepted — reassuring, age-appropriate,
// and explicit that the user is not at fault.
const TeenagerStopShownText = "This is not your fault, and you did the right thing by reaching out. Before you upload anything: do not pay or engage with whoever sent this. When you're ready, send the image and we'll check it together."

// TeenagerWaitingPromptText nudges the user from TeenagerStopShown into
// TeenagerWaitingForPhoto.
const TeenagerWaitingPromptText = "Whenever you're ready, go ahead and send the image."

// UnhandledUploadHintText is shown when an upload arrives in a state that
// doesn't expect one.
const UnhandledUploadHintText = "Let's start over — choose what you'd like help with first."

// CounterMeasuresText is the adult-scenario "Counter-measures" callback
// body: clinical/legal register, cites the forensic identity triple, and
// links to external reporting services.
func CounterMeasuresText(analysisID, imageSHA256 string) string {
	return "Recommended steps:\n" +
		"1. Do not pay. Payment rarely stops further demands.\n" +
		"2. Preserve all messages and this analysis as evidence (Reference: " + analysisID + ", image hash: " + imageSHA256 + ").\n" +
		"3. Report the image for removal: StopNCII.org (https://stopncii.org)\n" +
		"4. Report the extortion attempt: FBI IC3 (https://ic3.gov)\n" +
		"5. Contact local law enforcement with the evidence above."
}

// ParentHelperText is the teenager-scenario "How to tell my parents"
// callback body: reassuring register with a concrete script.
const ParentHelperText = "You don't have to do this alone. Here's a way to start the conversation:\n\n" +
	"\"Something happened online that I need help with. I'm not in trouble, but I need you to see something with me.\"\n\n" +
	"Show them the analysis result — it backs up what you're telling them. If you don't feel safe telling a parent, a trusted adult, school counselor, or a helpline can help instead."

// StopSpreadText explains NCMEC's Take It Down service.
const StopSpreadText = "NCMEC's Take It Down service (https://takeitdown.ncmec.org) can help get images removed from participating platforms without you having to send the image to anyone. It's free and confidential."

// WhatIsSextortionText is the teenager-scenario educational callback.
const WhatIsSextortionText = "Sextortion is when someone threatens to share a real or fake intimate image unless you pay or send more images. It is a crime, and reporting it is the right move — not something to be ashamed of."

// WhatIsAIGeneratedText is the general-scenario educational callback.
const WhatIsAIGeneratedText = "AI-generated images are produced by models trained on large image datasets. Detection tools look for statistical artifacts, frequency-domain patterns, and metadata inconsistencies that differ from camera-captured photos."

// HowToSpotFakeText is the general-scenario educational callback.
const HowToSpotFakeText = "Common signs: inconsistent lighting or shadows, distorted hands or text, unnatural skin texture, and missing or implausible camera metadata. No single sign is conclusive — that's why this tool fuses several."
