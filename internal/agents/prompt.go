package agents

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/roostlabs/roost/internal/util/canonjson"
	"github.com/roostlabs/roost/internal/util/timefmt"
)

// Prompt capture confidence levels.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Prompt capture sources.
const (
	CaptureNotify    = "notify"
	CaptureTelemetry = "telemetry"
	CaptureHistory   = "history"
)

// PromptRecord is one captured user prompt. Text is nil when the agent
// reports a prompt happened without exposing its content.
type PromptRecord struct {
	Text              *string `json:"text"`
	Hash              string  `json:"hash"`
	Confidence        string  `json:"confidence"`
	CaptureSource     string  `json:"captureSource"`
	ProviderEventName string  `json:"providerEventName"`
	ObservedAt        string  `json:"observedAt"`
}

// newPromptRecord builds a record and stamps its identity hash:
// sha256 over the provider event name, the prompt text and the
// canonical form of the raw payload.
func newPromptRecord(text *string, confidence, source, eventName string, payload map[string]any, observedAt time.Time) *PromptRecord {
	h := sha256.New()
	h.Write([]byte(eventName))
	if text != nil {
		h.Write([]byte(*text))
	}
	if payload != nil {
		if b, err := canonjson.Marshal(payload); err == nil {
			h.Write(b)
		}
	}
	return &PromptRecord{
		Text:              text,
		Hash:              hex.EncodeToString(h.Sum(nil)),
		Confidence:        confidence,
		CaptureSource:     source,
		ProviderEventName: eventName,
		ObservedAt:        timefmt.Format(observedAt),
	}
}

// payloadString returns payload[key] when it is a non-empty string.
func payloadString(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
