package task

import (
	"strconv"
	"strings"
)

// Payload is the handler-specific input of a task.
type Payload map[string]any

// Envelope is a normalized inbound task. Internal code only sees this form.
type Envelope struct {
	Task      string  `json:"task"`
	Payload   Payload `json:"payload"`
	ParentJob int64   `json:"parent_job,omitempty"`
}

// New builds an envelope from a handler name and its payload.
func New(name string, payload Payload) Envelope {
	if payload == nil {
		payload = Payload{}
	}
	return Envelope{
		Task:      NormalizeName(name),
		Payload:   payload,
		ParentJob: parentJob(payload),
	}
}

// FromMap normalizes a caller mapping. A mapping carrying a "payload" object
// uses that object as the payload and ignores every other key except "task";
// otherwise the whole mapping is the payload.
func FromMap(m map[string]any) Envelope {
	if m == nil {
		return New("", nil)
	}
	name, _ := m["task"].(string)
	if raw, ok := m["payload"]; ok {
		if inner, ok := asMap(raw); ok {
			return New(name, Payload(inner))
		}
	}
	payload := make(Payload, len(m))
	for k, v := range m {
		payload[k] = v
	}
	return New(name, payload)
}

func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Payload:
		return map[string]any(t), true
	}
	return nil, false
}

func parentJob(p Payload) int64 {
	switch v := p["parent_job"].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err == nil {
			return n
		}
	}
	return 0
}

// String returns the payload value for key as a trimmed string, or def when
// the key is missing or empty.
func (p Payload) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return def
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

// Clone returns a shallow copy so callers can extend a payload without
// mutating the original envelope.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
