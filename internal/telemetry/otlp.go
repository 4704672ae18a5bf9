package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/roostlabs/roost/internal/util/sanitize"
)

// Signal is the OTLP signal class taken from the ingest URL.
type Signal string

const (
	SignalLogs    Signal = "logs"
	SignalMetrics Signal = "metrics"
	SignalTraces  Signal = "traces"
)

const maxSummaryLen = 512

// ParseOTLP decodes an OTLP/HTTP JSON export payload into normalized
// events. Records that fail to decode are skipped; only an unreadable
// envelope is an error. ingestAt stamps records that carry no usable
// timestamp.
func ParseOTLP(signal Signal, body []byte, ingestAt time.Time) ([]Event, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode otlp %s payload: %w", signal, err)
	}

	var events []Event
	switch signal {
	case SignalLogs:
		forEachRecord(root, "resourceLogs", "scopeLogs", "logRecords", func(rec, resource map[string]any) {
			events = append(events, logEvent(rec, resource, ingestAt))
		})
	case SignalMetrics:
		forEachRecord(root, "resourceMetrics", "scopeMetrics", "metrics", func(rec, resource map[string]any) {
			events = append(events, metricEvent(rec, resource, ingestAt))
		})
	case SignalTraces:
		forEachRecord(root, "resourceSpans", "scopeSpans", "spans", func(rec, resource map[string]any) {
			events = append(events, spanEvent(rec, resource, ingestAt))
		})
	default:
		return nil, fmt.Errorf("unknown otlp signal %q", signal)
	}
	return events, nil
}

// forEachRecord walks the uniform OTLP resource/scope/record nesting,
// handing each record to fn together with its resource block.
func forEachRecord(root map[string]any, resourceKey, scopeKey, recordKey string, fn func(rec, resource map[string]any)) {
	for _, r := range asSlice(root[resourceKey]) {
		rm, ok := r.(map[string]any)
		if !ok {
			continue
		}
		resource, _ := rm["resource"].(map[string]any)
		for _, s := range asSlice(rm[scopeKey]) {
			sm, ok := s.(map[string]any)
			if !ok {
				continue
			}
			for _, rec := range asSlice(sm[recordKey]) {
				recm, ok := rec.(map[string]any)
				if !ok {
					continue
				}
				fn(recm, resource)
			}
		}
	}
}

func logEvent(rec, resource map[string]any, ingestAt time.Time) Event {
	payload := payloadFromRecord(rec, resource)

	name := asString(rec["eventName"])
	if name == "" {
		if attrs, ok := payload["attributes"].(map[string]any); ok {
			name = asString(attrs["event.name"])
			if name == "" {
				name = asString(attrs["event_name"])
			}
		}
	}

	summary := bodyText(rec["body"])
	observedAt := recordTime(ingestAt, rec["timeUnixNano"], rec["observedTimeUnixNano"])

	ev := Event{
		Source:     SourceOTLPLog,
		ObservedAt: observedAt,
		EventName:  name,
		Severity:   asString(rec["severityText"]),
		Summary:    sanitize.Summary(summary, maxSummaryLen),
		Payload:    payload,
	}
	finish(&ev)
	return ev
}

func metricEvent(rec, resource map[string]any, ingestAt time.Time) Event {
	payload := payloadFromRecord(rec, resource)

	// The first data point supplies the timestamp, whichever shape the
	// metric takes.
	var firstPoint map[string]any
	for _, kind := range []string{"sum", "gauge", "histogram"} {
		body, ok := rec[kind].(map[string]any)
		if !ok {
			continue
		}
		points := asSlice(body["dataPoints"])
		if len(points) == 0 {
			continue
		}
		if pm, ok := points[0].(map[string]any); ok {
			firstPoint = pm
			break
		}
	}
	var observedAt time.Time
	if firstPoint != nil {
		observedAt = recordTime(ingestAt, firstPoint["timeUnixNano"], firstPoint["startTimeUnixNano"])
		payload["attributes"] = flattenAttrs(firstPoint["attributes"])
	} else {
		observedAt = ingestAt
	}

	ev := Event{
		Source:     SourceOTLPMetric,
		ObservedAt: observedAt,
		EventName:  asString(rec["name"]),
		Summary:    sanitize.Summary(asString(rec["description"]), maxSummaryLen),
		Payload:    payload,
	}
	finish(&ev)
	return ev
}

func spanEvent(rec, resource map[string]any, ingestAt time.Time) Event {
	payload := payloadFromRecord(rec, resource)
	observedAt := recordTime(ingestAt, rec["endTimeUnixNano"], rec["startTimeUnixNano"])

	ev := Event{
		Source:     SourceOTLPTrace,
		ObservedAt: observedAt,
		EventName:  asString(rec["name"]),
		Payload:    payload,
	}
	finish(&ev)
	return ev
}

// finish fills the fields every record derives the same way.
func finish(ev *Event) {
	ev.StatusHint = DeriveStatusHint(ev.EventName, ev.Summary)
	ev.ProviderThreadID = ScanProviderThreadID(ev.Payload)
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = time.Now()
	}
}

// payloadFromRecord copies the record with attribute lists flattened to
// maps so downstream key scans see them naturally.
func payloadFromRecord(rec, resource map[string]any) map[string]any {
	payload := make(map[string]any, len(rec)+1)
	for k, v := range rec {
		if k == "attributes" {
			payload[k] = flattenAttrs(v)
			continue
		}
		payload[k] = v
	}
	if resource != nil {
		payload["resource"] = map[string]any{
			"attributes": flattenAttrs(resource["attributes"]),
		}
	}
	return payload
}

// flattenAttrs converts the OTLP [{key, value:{stringValue:...}}] list
// into a plain map.
func flattenAttrs(v any) map[string]any {
	out := make(map[string]any)
	for _, e := range asSlice(v) {
		em, ok := e.(map[string]any)
		if !ok {
			continue
		}
		key := asString(em["key"])
		if key == "" {
			continue
		}
		out[key] = anyValue(em["value"])
	}
	return out
}

// anyValue unwraps an OTLP AnyValue, returning the raw value otherwise.
func anyValue(v any) any {
	vm, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for _, k := range []string{"stringValue", "boolValue"} {
		if inner, ok := vm[k]; ok {
			return inner
		}
	}
	// intValue is encoded as a JSON string; doubleValue as a number.
	if inner, ok := vm["intValue"]; ok {
		if n, err := asInt64(inner); err == nil {
			return n
		}
		return inner
	}
	if inner, ok := vm["doubleValue"]; ok {
		return inner
	}
	if inner, ok := vm["arrayValue"].(map[string]any); ok {
		vals := asSlice(inner["values"])
		out := make([]any, 0, len(vals))
		for _, e := range vals {
			out = append(out, anyValue(e))
		}
		return out
	}
	if inner, ok := vm["kvlistValue"].(map[string]any); ok {
		return flattenAttrs(inner["values"])
	}
	return vm
}

// recordTime picks the first candidate that parses as unix
// nanoseconds, falling back to ingestAt. OTLP encodes nanos as strings
// but some emitters send numbers; both are accepted.
func recordTime(ingestAt time.Time, candidates ...any) time.Time {
	for _, c := range candidates {
		ns, err := asInt64(c)
		if err != nil || ns <= 0 {
			continue
		}
		return time.Unix(0, ns).UTC()
	}
	return ingestAt
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// bodyText extracts readable text from an OTLP body AnyValue.
func bodyText(v any) string {
	switch b := v.(type) {
	case string:
		return b
	case map[string]any:
		return asString(b["stringValue"])
	default:
		return ""
	}
}
