package timefmt

import "time"

// ISO8601 is the ISO-8601 format used for timestamp serialization.
const ISO8601 = "2006-01-02T15:04:05.000Z"

// Format formats a time.Time to the standard string representation.
func Format(t time.Time) string {
	return t.UTC().Format(ISO8601)
}

// Parse parses a timestamp in the standard representation. It also accepts
// RFC 3339 with higher sub-second precision or a zone offset, since agent
// telemetry is not uniform about either.
func Parse(s string) (time.Time, error) {
	if t, err := time.Parse(ISO8601, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FromUnixNano converts a nanosecond epoch (the OTLP timeUnixNano encoding)
// to a UTC time.
func FromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
