package llm

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/health-reports/constants"
	"github.com/joseph-ayodele/health-reports/internal/core/report"
)

// SanitizeFields normalizes raw model output into the field map:
//   - keys are lower-cased and synonyms renamed to their canonical key
//   - keys outside the whitelist are dropped
//   - null and empty values are dropped
//   - numeric strings become numbers; blood_pressure is reduced to "S/D"
//
// It returns the cleaned map and a sorted list of what was dropped.
func SanitizeFields(raw map[string]any, logger *slog.Logger) (report.Fields, []string) {
	if logger == nil {
		logger = slog.Default()
	}
	out := report.Fields{}
	var dropped []string

	// canonical keys first so they win over synonyms
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		_, si := constants.Canonicalize(keys[i])
		_, sj := constants.Canonicalize(keys[j])
		if si != sj {
			return !si
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		v := raw[k]
		key, renamed := constants.Canonicalize(k)
		if !constants.IsFallbackField(key) {
			dropped = append(dropped, k+"(unknown)")
			continue
		}
		val, ok := cleanValue(key, v)
		if !ok {
			dropped = append(dropped, k+"(empty)")
			continue
		}
		if _, exists := out[key]; exists {
			if renamed {
				dropped = append(dropped, k+"->"+key+"(dup)")
			}
			continue
		}
		out[key] = val
	}

	sort.Strings(dropped)
	if len(dropped) > 0 {
		logger.Debug("llm.fallback.sanitize", "dropped", dropped)
	}
	return out, dropped
}

var reBloodPressure = regexp.MustCompile(`(\d{2,3})\s*[/\\]\s*(\d{2,3})`)

func cleanValue(key string, v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
			return nil, false
		}
		switch key {
		case constants.FieldBloodPressure:
			if m := reBloodPressure.FindStringSubmatch(s); m != nil {
				return m[1] + "/" + m[2], true
			}
			return s, true
		case constants.FieldExaminationDate:
			return s, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		return s, true
	case float64, bool:
		return t, true
	case []any:
		if len(t) == 0 {
			return nil, false
		}
		return t, true
	case map[string]any:
		if len(t) == 0 {
			return nil, false
		}
		return t, true
	default:
		return t, true
	}
}
