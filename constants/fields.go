package constants

import (
	"strings"
)

type RiskLevel string

const (
	RiskNormal         RiskLevel = "normal"
	RiskBorderline     RiskLevel = "borderline"
	RiskBorderlineHigh RiskLevel = "borderline_high"
	RiskElevated       RiskLevel = "elevated"
	RiskStage1         RiskLevel = "stage1"
	RiskHigh           RiskLevel = "high"
	RiskCritical       RiskLevel = "critical"
	RiskUnknown        RiskLevel = "unknown"
)

// Canonical field keys used for completeness scoring and merging.
const (
	FieldBloodPressure    = "blood_pressure"
	FieldCholesterol      = "cholesterol"
	FieldGlucose          = "glucose"
	FieldBMI              = "bmi"
	FieldHeartRate        = "heart_rate"
	FieldTemperature      = "temperature"
	FieldOxygenSaturation = "oxygen_saturation"

	FieldWeight          = "weight"
	FieldHeight          = "height"
	FieldExaminationDate = "examination_date"
)

// Metric names emitted by the OCR field extractor.
const (
	MetricTotalCholesterol = "total_cholesterol"
	MetricLDL              = "ldl_cholesterol"
	MetricHDL              = "hdl_cholesterol"
	MetricTriglycerides    = "triglycerides"
	MetricSystolicBP       = "systolic_bp"
	MetricDiastolicBP      = "diastolic_bp"
	MetricFastingGlucose   = "fasting_glucose"
	MetricHbA1c            = "hba1c"
	MetricWaist            = "waist_circumference"
	MetricHeartRate        = "heart_rate"
	MetricTemperature      = "temperature"
	MetricSpO2             = "oxygen_saturation"
)

var requiredFields = []string{
	FieldBloodPressure,
	FieldCholesterol,
	FieldGlucose,
	FieldBMI,
	FieldHeartRate,
	FieldTemperature,
	FieldOxygenSaturation,
}

// RequiredFields returns a copy of the fixed required-field set, in a stable order.
func RequiredFields() []string {
	out := make([]string, len(requiredFields))
	copy(out, requiredFields)
	return out
}

// FallbackFields is the whitelist of keys the LLM fallback may return.
var FallbackFields = []string{
	"blood_pressure",
	"systolic",
	"diastolic",
	"cholesterol",
	"hdl_cholesterol",
	"ldl_cholesterol",
	"triglycerides",
	"glucose",
	"blood_glucose",
	"bmi",
	"weight",
	"height",
	"heart_rate",
	"pulse",
	"temperature",
	"oxygen_saturation",
	"respiratory_rate",
	"hba1c",
	"tsh",
	"total_protein",
	"albumin",
	"globulin",
	"aspartate_aminotransferase",
	"alanine_aminotransferase",
	"alkaline_phosphatase",
	"total_bilirubin",
	"direct_bilirubin",
	"creatinine",
	"blood_urea_nitrogen",
	"sodium",
	"potassium",
	"chloride",
	"co2",
	"calcium",
	"phosphorus",
	"magnesium",
	"hemoglobin",
	"hematocrit",
	"white_blood_cells",
	"red_blood_cells",
	"platelets",
	"examination_date",
}

// fieldSynonyms maps alternative names to their canonical key.
var fieldSynonyms = map[string]string{
	"pulse":             FieldHeartRate,
	"blood_glucose":     FieldGlucose,
	"fasting_glucose":   FieldGlucose,
	"total_cholesterol": FieldCholesterol,
	"spo2":              FieldOxygenSaturation,
	"body_temperature":  FieldTemperature,
	"exam_date":         FieldExaminationDate,
	"test_date":         FieldExaminationDate,
}

// Canonicalize maps a field name to its canonical key. The second return
// value reports whether the input was a known synonym.
func Canonicalize(input string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}
	if key, ok := fieldSynonyms[normalized]; ok {
		return key, true
	}
	return normalized, false
}

// IsFallbackField reports whether key is in the LLM fallback whitelist.
func IsFallbackField(key string) bool {
	for _, f := range FallbackFields {
		if f == key {
			return true
		}
	}
	return false
}
