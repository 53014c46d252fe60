package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoJSONObject = errors.New("response carries no JSON object")

// ParseJSONResponse extracts the field object from raw model text. Fenced
// responses are sliced between the outermost braces (or brackets) first. An
// array response yields its object elements merged in order, earlier wins.
func ParseJSONResponse(text string) (map[string]any, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = unfence(s)
	}

	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("invalid JSON in response: %w", err)
	}

	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		out := map[string]any{}
		for _, el := range t {
			obj, ok := el.(map[string]any)
			if !ok {
				continue
			}
			for k, val := range obj {
				if _, seen := out[k]; !seen {
					out[k] = val
				}
			}
		}
		if len(out) == 0 {
			return nil, ErrNoJSONObject
		}
		return out, nil
	default:
		return nil, ErrNoJSONObject
	}
}

func unfence(s string) string {
	obj := strings.IndexByte(s, '{')
	arr := strings.IndexByte(s, '[')
	if arr >= 0 && (obj < 0 || arr < obj) {
		if end := strings.LastIndexByte(s, ']'); end > arr {
			return s[arr : end+1]
		}
	}
	if obj >= 0 {
		if end := strings.LastIndexByte(s, '}'); end > obj {
			return s[obj : end+1]
		}
	}
	return s
}
