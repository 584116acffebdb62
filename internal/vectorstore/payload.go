package vectorstore

// PayloadView wraps a raw payload mapping read back from the store. Payloads
// arrive as opaque JSON maps; accessors parse them defensively instead of
// trusting shapes.
type PayloadView struct {
	raw map[string]any
}

// NewPayloadView wraps a payload map. A nil map yields an all-defaults view.
func NewPayloadView(raw map[string]any) PayloadView {
	return PayloadView{raw: raw}
}

// GetString returns the string at key, or "" if absent or not a string.
func (v PayloadView) GetString(key string) string {
	if v.raw == nil {
		return ""
	}
	if s, ok := v.raw[key].(string); ok {
		return s
	}
	return ""
}

// GetNumber returns the number at key, or fallback if absent or not numeric.
// JSON numbers decode as float64; integer-typed values are accepted too.
func (v PayloadView) GetNumber(key string, fallback float64) float64 {
	if v.raw == nil {
		return fallback
	}
	switch n := v.raw[key].(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return fallback
	}
}

// GetInt returns the number at key truncated to int, or fallback.
func (v PayloadView) GetInt(key string, fallback int) int {
	return int(v.GetNumber(key, float64(fallback)))
}

// Raw returns the underlying map for round-tripping unknown keys.
func (v PayloadView) Raw() map[string]any {
	return v.raw
}
