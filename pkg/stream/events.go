package stream

import "strings"

// Sentinel payloads carry protocol meaning rather than content.
const (
	// EndSentinel is the backend's end-of-stream marker.
	EndSentinel = "[END]"

	// ErrorPrefix marks a protocol-level failure payload; the remainder is a
	// human-readable description.
	ErrorPrefix = "Error:"
)

// Event is one decoded stream event: either a payload fragment of the
// assistant's output or a transport error.
type Event struct {
	Data string
	Err  error
}

// IsEnd reports whether the event is the end-of-stream sentinel.
func (e Event) IsEnd() bool {
	return e.Err == nil && e.Data == EndSentinel
}

// ErrorPayload returns the description of a protocol error payload, if the
// event is one.
func (e Event) ErrorPayload() (string, bool) {
	if e.Err != nil || !strings.HasPrefix(e.Data, ErrorPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(e.Data, ErrorPrefix)), true
}
