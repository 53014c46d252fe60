package report

import (
	"github.com/joseph-ayodele/health-reports/constants"
)

// Score returns present/|required| over the fixed required-field set.
// A field is present when its value is neither nil nor the empty string.
func Score(fields Fields) float64 {
	required := constants.RequiredFields()
	if len(fields) == 0 {
		return 0.0
	}
	present := 0
	for _, key := range required {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		present++
	}
	return float64(present) / float64(len(required))
}

// MissingRequired lists the required keys not present in fields.
func MissingRequired(fields Fields) []string {
	var missing []string
	for _, key := range constants.RequiredFields() {
		v, ok := fields[key]
		if !ok || v == nil {
			missing = append(missing, key)
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			missing = append(missing, key)
		}
	}
	return missing
}
