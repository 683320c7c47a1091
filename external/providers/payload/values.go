// Package payload holds loose accessors for decoded provider JSON. Every
// getter tolerates missing keys and wrong types by returning the zero value
// or nil, so a single malformed field never aborts a whole record.
package payload

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Decode parses a JSON object body. Non-object bodies are rejected.
func Decode(body []byte) (map[string]any, error) {
	var doc map[string]any
	if err := sonic.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// HasKeys reports whether every key is present at the top level.
func HasKeys(doc map[string]any, keys ...string) bool {
	for _, key := range keys {
		if _, ok := doc[key]; !ok {
			return false
		}
	}
	return true
}

func Map(src map[string]any, key string) map[string]any {
	if src == nil {
		return nil
	}
	value, _ := src[key].(map[string]any)
	return value
}

// Path walks nested objects, e.g. Path(doc, "header", "season").
func Path(src map[string]any, keys ...string) map[string]any {
	current := src
	for _, key := range keys {
		current = Map(current, key)
		if current == nil {
			return nil
		}
	}
	return current
}

func Slice(src map[string]any, key string) []any {
	if src == nil {
		return nil
	}
	value, _ := src[key].([]any)
	return value
}

// Maps returns the object elements of an array, skipping anything else.
func Maps(src map[string]any, key string) []map[string]any {
	items := Slice(src, key)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func String(src map[string]any, key string) string {
	if src == nil {
		return ""
	}
	switch typed := src[key].(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		if typed == math.Trunc(typed) {
			return strconv.FormatInt(int64(typed), 10)
		}
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return ""
	}
}

func FirstNonEmpty(values ...string) string {
	for _, item := range values {
		if strings.TrimSpace(item) != "" {
			return strings.TrimSpace(item)
		}
	}
	return ""
}

// Int reads a whole number from a JSON number or a numeric string. Blank
// strings, placeholders such as "-" and fractional values yield nil.
func Int(src map[string]any, key string) *int {
	if src == nil {
		return nil
	}
	return IntValue(src[key])
}

func IntValue(raw any) *int {
	switch typed := raw.(type) {
	case float64:
		if typed != math.Trunc(typed) {
			return nil
		}
		v := int(typed)
		return &v
	case int64:
		v := int(typed)
		return &v
	case int:
		return &typed
	case string:
		return ParseInt(typed)
	default:
		return nil
	}
}

func ParseInt(raw string) *int {
	text := strings.TrimSpace(raw)
	if text == "" || text == "-" || text == "--" {
		return nil
	}
	v, err := strconv.Atoi(text)
	if err != nil {
		return nil
	}
	return &v
}

func Float(src map[string]any, key string) *float64 {
	if src == nil {
		return nil
	}
	switch typed := src[key].(type) {
	case float64:
		return finite(typed)
	case int64:
		v := float64(typed)
		return &v
	case string:
		text := strings.TrimSpace(typed)
		if text == "" {
			return nil
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil
		}
		return finite(v)
	default:
		return nil
	}
}

// finite drops NaN and infinities, which ParseFloat accepts as text.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func Bool(src map[string]any, key string) *bool {
	if src == nil {
		return nil
	}
	switch typed := src[key].(type) {
	case bool:
		return &typed
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "1", "true", "yes", "y":
			v := true
			return &v
		case "0", "false", "no", "n":
			v := false
			return &v
		}
	case float64:
		v := typed != 0
		return &v
	}
	return nil
}

// MadeAttempted splits a "made-attempted" pair such as "5-10".
func MadeAttempted(raw string) (*int, *int) {
	made, attempted, ok := strings.Cut(strings.TrimSpace(raw), "-")
	if !ok {
		return nil, nil
	}
	return ParseInt(made), ParseInt(attempted)
}

// Minutes parses "34", "34.5" or "34:30" into fractional minutes.
func Minutes(raw string) *float64 {
	text := strings.TrimSpace(raw)
	if text == "" || text == "-" || text == "--" {
		return nil
	}
	if mins, secs, ok := strings.Cut(text, ":"); ok {
		m, errM := strconv.Atoi(mins)
		s, errS := strconv.Atoi(secs)
		if errM != nil || errS != nil || s < 0 || s >= 60 {
			return nil
		}
		v := float64(m) + float64(s)/60
		return &v
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil
	}
	return finite(v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// Time parses the timestamp formats providers use. Values without a zone
// are read as UTC.
func Time(src map[string]any, key string) *time.Time {
	return ParseTime(String(src, key))
}

func ParseTime(raw string) *time.Time {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
