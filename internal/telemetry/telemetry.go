// Package telemetry normalizes agent-emitted signals (OTLP/HTTP JSON
// and history JSONL files) into a single event shape the session layer
// consumes. Parsing is tolerant: anything that does not decode is
// dropped, never fatal.
package telemetry

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/roostlabs/roost/internal/util/canonjson"
	"github.com/roostlabs/roost/internal/util/timefmt"
)

// Source says which pipeline produced an event. Status transitions
// treat sources differently: traces and history never revive a session.
type Source string

const (
	SourceOTLPLog    Source = "otlp-log"
	SourceOTLPMetric Source = "otlp-metric"
	SourceOTLPTrace  Source = "otlp-trace"
	SourceHistory    Source = "history"
)

// Status hints derived during ingest.
const (
	HintNeedsInput = "needs-input"
	HintCompleted  = "completed"
	HintRunning    = "running"
)

// TurnDurationMetric is the Codex end-of-turn metric; its arrival marks
// a turn as completed even though its name carries no completion word.
const TurnDurationMetric = "codex.turn.e2e_duration_ms"

// Event is one normalized telemetry record.
type Event struct {
	Source           Source         `json:"source"`
	ObservedAt       time.Time      `json:"-"`
	EventName        string         `json:"eventName,omitempty"`
	Severity         string         `json:"severity,omitempty"`
	Summary          string         `json:"summary,omitempty"`
	ProviderThreadID string         `json:"providerThreadId,omitempty"`
	StatusHint       string         `json:"statusHint,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
}

// hint tables, checked in order: needs-input wins over completed wins
// over running.
var (
	needsInputMarkers = []string{"needs-input", "approval denied"}
	completedMarkers  = []string{"turn-complete", "response.completed", "completed"}
	runningMarkers    = []string{"user_prompt", "api_request", "response.created"}
)

// DeriveStatusHint maps an event name and summary onto a status hint by
// case-insensitive substring lookup, the event name taking precedence.
// An empty result means the event carries no status signal.
func DeriveStatusHint(eventName, summary string) string {
	if eventName == TurnDurationMetric {
		return HintCompleted
	}
	for _, text := range []string{eventName, summary} {
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		for _, m := range needsInputMarkers {
			if strings.Contains(lower, m) {
				return HintNeedsInput
			}
		}
		for _, m := range completedMarkers {
			if strings.Contains(lower, m) {
				return HintCompleted
			}
		}
		for _, m := range runningMarkers {
			if strings.Contains(lower, m) {
				return HintRunning
			}
		}
	}
	return ""
}

var threadKeyPattern = regexp.MustCompile(`(?i)^(?:thread|session|conversation)[-_]?id$`)

const threadScanMaxDepth = 4

// ScanProviderThreadID walks the payload breadth-first looking for the
// provider's thread identifier. Keys are visited in sorted order so the
// result is deterministic; the first non-empty string value under a
// matching key wins. The walk stops four levels deep.
func ScanProviderThreadID(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	type item struct {
		value any
		depth int
	}
	queue := []item{{payload, 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		switch v := cur.value.(type) {
		case map[string]any:
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if threadKeyPattern.MatchString(k) {
					if s, ok := v[k].(string); ok && s != "" {
						return s
					}
				}
			}
			if cur.depth < threadScanMaxDepth {
				for _, k := range keys {
					queue = append(queue, item{v[k], cur.depth + 1})
				}
			}
		case []any:
			if cur.depth < threadScanMaxDepth {
				for _, e := range v {
					queue = append(queue, item{e, cur.depth + 1})
				}
			}
		}
	}
	return ""
}

// Fingerprint identifies an event for dedupe purposes. Identical
// records ingested twice (OTLP retries, overlapping history reads)
// produce identical fingerprints.
func Fingerprint(sessionID string, ev Event) string {
	h := sha1.New()
	for _, part := range []string{
		string(ev.Source),
		sessionID,
		ev.ProviderThreadID,
		ev.EventName,
		timefmt.Format(ev.ObservedAt),
		canonjson.String(ev.Payload),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Deduper remembers recently seen fingerprints per session with FIFO
// eviction. Not safe for concurrent use; the owning session serializes.
type Deduper struct {
	max   int
	seen  map[string]struct{}
	order []string
}

const DefaultDedupeWindow = 4096

func NewDeduper(max int) *Deduper {
	if max <= 0 {
		max = DefaultDedupeWindow
	}
	return &Deduper{max: max, seen: make(map[string]struct{})}
}

// Seen reports whether fp was already recorded, recording it otherwise.
func (d *Deduper) Seen(fp string) bool {
	if _, ok := d.seen[fp]; ok {
		return true
	}
	d.seen[fp] = struct{}{}
	d.order = append(d.order, fp)
	if len(d.order) > d.max {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return false
}
