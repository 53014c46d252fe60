package llm

import (
	"strings"

	"github.com/joseph-ayodele/health-reports/constants"
)

// fieldHints describes each whitelisted key for the model.
var fieldHints = map[string]string{
	"blood_pressure":             "format: systolic/diastolic in mmHg",
	"systolic":                   "numeric only",
	"diastolic":                  "numeric only",
	"cholesterol":                "total cholesterol in mg/dL",
	"hdl_cholesterol":            "HDL in mg/dL",
	"ldl_cholesterol":            "LDL in mg/dL",
	"triglycerides":              "in mg/dL",
	"glucose":                    "fasting glucose in mg/dL",
	"blood_glucose":              "alternative name",
	"bmi":                        "body mass index, numeric",
	"weight":                     "in kg",
	"height":                     "in cm",
	"heart_rate":                 "beats per minute",
	"pulse":                      "alternative name",
	"temperature":                "in Celsius",
	"oxygen_saturation":          "SpO2 in %",
	"respiratory_rate":           "breaths per minute",
	"hba1c":                      "hemoglobin A1c in %",
	"tsh":                        "thyroid stimulating hormone",
	"total_protein":              "in g/dL",
	"albumin":                    "in g/dL",
	"globulin":                   "in g/dL",
	"aspartate_aminotransferase": "AST in U/L",
	"alanine_aminotransferase":   "ALT in U/L",
	"alkaline_phosphatase":       "ALP in U/L",
	"total_bilirubin":            "in mg/dL",
	"direct_bilirubin":           "in mg/dL",
	"creatinine":                 "in mg/dL",
	"blood_urea_nitrogen":        "BUN in mg/dL",
	"sodium":                     "Na in mEq/L",
	"potassium":                  "K in mEq/L",
	"chloride":                   "Cl in mEq/L",
	"co2":                        "bicarbonate in mEq/L",
	"calcium":                    "in mg/dL",
	"phosphorus":                 "in mg/dL",
	"magnesium":                  "in mg/dL",
	"hemoglobin":                 "Hb in g/dL",
	"hematocrit":                 "Hct in %",
	"white_blood_cells":          "WBC in x10^9/L",
	"red_blood_cells":            "RBC in x10^12/L",
	"platelets":                  "in x10^9/L",
	"examination_date":           "format: YYYY-MM-DD if available",
}

const imagePlaceholder = "[Image analysis]"

// BuildExtractionPrompt returns the fixed extraction prompt with content
// appended. The output depends only on content.
func BuildExtractionPrompt(content string) string {
	var b strings.Builder
	b.WriteString("You are a medical data extraction specialist. Analyze the provided health report image or text and extract all health metrics.\n\n")
	b.WriteString("IMPORTANT: You MUST respond with valid JSON only, no other text.\n\n")
	b.WriteString("Extract the following fields if present:\n")
	for _, f := range constants.FallbackFields {
		b.WriteString("- ")
		b.WriteString(f)
		if hint := fieldHints[f]; hint != "" {
			b.WriteString(" (")
			b.WriteString(hint)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nFor any field that is NOT present, OMIT it from the JSON (do not include with null/empty value).\n\n")
	b.WriteString("Return ONLY a valid JSON object with the extracted values. Example format:\n")
	b.WriteString(`{"blood_pressure": "120/80", "systolic": 120, "diastolic": 80, "cholesterol": 200, "glucose": 100, "bmi": 22.5, "heart_rate": 72}`)
	b.WriteString("\n\nHealth Report Content:\n")
	if strings.TrimSpace(content) == "" {
		content = imagePlaceholder
	}
	b.WriteString(content)
	b.WriteString("\n\nRESPOND WITH VALID JSON ONLY:")
	return b.String()
}
