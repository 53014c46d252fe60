// Package report holds the extraction data model shared by every pipeline stage.
package report

import (
	"github.com/joseph-ayodele/health-reports/constants"
)

// HealthMetric is one recognized vital sign.
type HealthMetric struct {
	Name           string              `json:"name"`
	Value          float64             `json:"value"`
	Unit           string              `json:"unit"`
	ReferenceRange string              `json:"reference_range,omitempty"`
	RiskLevel      constants.RiskLevel `json:"risk_level"`
}

// Fields is the flat field map scored for completeness and merged across sources.
type Fields map[string]any

// ExtractionResult is produced once per (file, extraction attempt).
type ExtractionResult struct {
	Fields           Fields                  `json:"fields"`
	VitalSigns       map[string]HealthMetric `json:"vital_signs,omitempty"`
	PatientInfo      map[string]any          `json:"patient_info,omitempty"`
	LifestyleFactors map[string]any          `json:"lifestyle_factors,omitempty"`
	TestDate         string                  `json:"test_date,omitempty"`
	RawText          string                  `json:"raw_text,omitempty"`
	ConfidenceScore  float64                 `json:"confidence_score"`
	Completeness     float64                 `json:"completeness"`
	Source           constants.Source        `json:"source"`
	Errors           []string                `json:"errors,omitempty"`
}

// NewExtractionResult returns a result with all maps allocated.
func NewExtractionResult() ExtractionResult {
	return ExtractionResult{
		Fields:           Fields{},
		VitalSigns:       map[string]HealthMetric{},
		PatientInfo:      map[string]any{},
		LifestyleFactors: map[string]any{},
	}
}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
