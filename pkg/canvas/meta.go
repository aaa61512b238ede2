package canvas

import (
	"math"
	"time"
)

// Metadata keys attached to every shape.
const (
	MetaSource    = "source"
	MetaAuthor    = "author"
	MetaTimestamp = "timestamp"

	SourceAI    = "ai"
	SourceHuman = "human"
)

// SanitizeMeta reduces shape metadata to values that survive JSON
// round-tripping: strings, bools, finite numbers, and plain maps/slices of
// the same. Everything else is dropped.
func SanitizeMeta(meta map[string]any) map[string]any {
	return sanitizeValueMap(meta)
}

// StampHuman fills in authorship for shapes that arrived without it. Shapes
// already marked as AI-authored keep their metadata.
func StampHuman(meta map[string]any, author string, now time.Time) map[string]any {
	if meta == nil {
		meta = map[string]any{}
	}
	if src, _ := meta[MetaSource].(string); src == SourceAI {
		return meta
	}
	meta[MetaSource] = SourceHuman
	if a, _ := meta[MetaAuthor].(string); a == "" {
		meta[MetaAuthor] = author
	}
	meta[MetaTimestamp] = now.UnixMilli()
	return meta
}

// StampAI returns the metadata attached to agent-created shapes.
func StampAI(author string, now time.Time) map[string]any {
	return map[string]any{
		MetaSource:    SourceAI,
		MetaAuthor:    author,
		MetaTimestamp: now.UnixMilli(),
	}
}

func sanitizeValueMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if clean, ok := sanitizeValue(v); ok {
			out[k] = clean
		}
	}
	return out
}

func sanitizeValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case string, bool:
		return t, true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, false
		}
		return t, true
	case float32:
		return sanitizeValue(float64(t))
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case map[string]any:
		return sanitizeValueMap(t), true
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if clean, ok := sanitizeValue(e); ok {
				out = append(out, clean)
			}
		}
		return out, true
	default:
		// Channels, funcs, custom structs: not plain JSON, drop.
		return nil, false
	}
}
