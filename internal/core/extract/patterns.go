// Package extract turns recognized report text into structured health fields
// using ordered tables of bilingual patterns.
package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/health-reports/constants"
	"github.com/joseph-ayodele/health-reports/internal/core/report"
)

const num = `(\d+(?:\.\d+)?)`

// ApplyFunc stores a match into r. Returning false rejects the match and the
// next rule for the same field is tried.
type ApplyFunc func(m []string, r *report.ExtractionResult) bool

// Rule is one pattern alternative for a field.
type Rule struct {
	Field   string
	Pattern *regexp.Regexp
	Apply   ApplyFunc
}

// Table is an ordered rule list. For each field the first accepted match wins.
type Table []Rule

// Run evaluates t over text in order.
func (t Table) Run(text string, r *report.ExtractionResult) {
	done := make(map[string]bool, len(t))
	for _, rule := range t {
		if done[rule.Field] {
			continue
		}
		m := rule.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if rule.Apply(m, r) {
			done[rule.Field] = true
		}
	}
}

// Tables groups the rule tables applied by the extractor.
type Tables struct {
	Patient Table
	Vitals  Table
	Dates   Table
}

func (t Tables) clone() Tables {
	return Tables{
		Patient: append(Table(nil), t.Patient...),
		Vitals:  append(Table(nil), t.Vitals...),
		Dates:   append(Table(nil), t.Dates...),
	}
}

type metricSpec struct {
	Name  string
	Unit  string
	Range string
	Risk  RiskFunc
}

var metricSpecs = map[string]metricSpec{
	constants.MetricTotalCholesterol: {"Total Cholesterol", "mg/dL", "<200", AssessCholesterol},
	constants.MetricLDL:              {"LDL Cholesterol", "mg/dL", "<100", AssessLDL},
	constants.MetricHDL:              {"HDL Cholesterol", "mg/dL", ">40 (men), >50 (women)", AssessHDL},
	constants.MetricTriglycerides:    {"Triglycerides", "mg/dL", "<150", AssessTriglycerides},
	constants.MetricSystolicBP:       {"Systolic Blood Pressure", "mmHg", "<120", AssessSystolic},
	constants.MetricDiastolicBP:      {"Diastolic Blood Pressure", "mmHg", "<80", AssessDiastolic},
	constants.MetricFastingGlucose:   {"Fasting Glucose", "mg/dL", "<100", AssessFastingGlucose},
	constants.MetricHbA1c:            {"HbA1c", "%", "<5.7", AssessHbA1c},
	constants.MetricWaist:            {"Waist Circumference", "cm", "<90 (men), <80 (women)", AssessWaist},
	constants.MetricHeartRate:        {"Heart Rate", "bpm", "60-100", assessUnknown},
	constants.MetricTemperature:      {"Body Temperature", "°C", "36.1-37.2", assessUnknown},
	constants.MetricSpO2:             {"Oxygen Saturation", "%", ">=95", assessUnknown},
}

func newMetric(key string, v float64) report.HealthMetric {
	spec := metricSpecs[key]
	return report.HealthMetric{
		Name:           spec.Name,
		Value:          v,
		Unit:           spec.Unit,
		ReferenceRange: spec.Range,
		RiskLevel:      spec.Risk(v),
	}
}

func metricApply(key string) ApplyFunc {
	return func(m []string, r *report.ExtractionResult) bool {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return false
		}
		r.VitalSigns[key] = newMetric(key, v)
		return true
	}
}

// bloodPressureApply accepts only a complete systolic/diastolic pair.
func bloodPressureApply(m []string, r *report.ExtractionResult) bool {
	if len(m) < 3 || m[1] == "" || m[2] == "" {
		return false
	}
	sys, err1 := strconv.ParseFloat(m[1], 64)
	dia, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return false
	}
	r.VitalSigns[constants.MetricSystolicBP] = newMetric(constants.MetricSystolicBP, sys)
	r.VitalSigns[constants.MetricDiastolicBP] = newMetric(constants.MetricDiastolicBP, dia)
	return true
}

func intApply(key string) ApplyFunc {
	return func(m []string, r *report.ExtractionResult) bool {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return false
		}
		r.PatientInfo[key] = n
		return true
	}
}

func floatApply(key string) ApplyFunc {
	return func(m []string, r *report.ExtractionResult) bool {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return false
		}
		r.PatientInfo[key] = v
		return true
	}
}

func constApply(key string, value any) ApplyFunc {
	return func(_ []string, r *report.ExtractionResult) bool {
		r.PatientInfo[key] = value
		return true
	}
}

func nameApply(m []string, r *report.ExtractionResult) bool {
	name := strings.TrimSpace(m[1])
	if name == "" || len([]rune(name)) >= 50 {
		return false
	}
	r.PatientInfo["name"] = name
	return true
}

func stringApply(key string) ApplyFunc {
	return func(m []string, r *report.ExtractionResult) bool {
		r.PatientInfo[key] = m[1]
		return true
	}
}

func rule(field, pattern string, apply ApplyFunc) Rule {
	return Rule{Field: field, Pattern: regexp.MustCompile(pattern), Apply: apply}
}

func metricRules(key string, patterns ...string) []Rule {
	out := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, rule(key, `(?i)`+p, metricApply(key)))
	}
	return out
}

func concat(groups ...[]Rule) Table {
	var t Table
	for _, g := range groups {
		t = append(t, g...)
	}
	return t
}

// Chinese labels that may directly follow a name once OCR spacing is folded
const nextLabel = `(?:性別|年齡|出生日期|出生|生日|身分證|病歷號|身高|體重|電話)`

// start of line or a non-word, non-hyphen byte, so "Non-HDL" is not read as HDL
const notNon = `(?m:^|[^\w-])`

var patientRules = Table{
	rule("age", `年齡\s*:\s*(\d+)`, intApply("age")),
	rule("age", `(?i)\bage\s*:\s*(\d+)`, intApply("age")),
	rule("age", `(\d+)\s*歲`, intApply("age")),

	rule("gender", `(?i)性別\s*:\s*[男M]`, constApply("gender", "M")),
	rule("gender", `(?i)性別\s*:\s*[女F]`, constApply("gender", "F")),
	rule("gender", `(?i)\bgender\s*:\s*(?:male|m)\b`, constApply("gender", "M")),
	rule("gender", `(?i)\bgender\s*:\s*(?:female|f)\b`, constApply("gender", "F")),
	rule("gender", `(?i)\bmale\b|男`, constApply("gender", "M")),
	rule("gender", `(?i)\bfemale\b|女`, constApply("gender", "F")),

	rule("height_cm", `(?i)身高\s*:\s*`+num+`\s*cm`, floatApply("height_cm")),
	rule("height_cm", `(?i)\bheight\s*:\s*`+num+`\s*cm`, floatApply("height_cm")),

	rule("weight_kg", `(?i)體重\s*:\s*`+num+`\s*kg`, floatApply("weight_kg")),
	rule("weight_kg", `(?i)\bweight\s*:\s*`+num+`\s*kg`, floatApply("weight_kg")),

	rule("bmi", `(?i)\bBMI\s*:\s*`+num, floatApply("bmi")),

	// name runs to the next known label (glued or not), to the next "label:"
	// after a space, or to end of line
	rule("name", `(?im)姓名\s*:\s*([^\n:]{1,60}?)(?:\s*`+nextLabel+`\s*:|\s+[^\s:]+\s*:|$)`, nameApply),
	rule("name", `(?im)\bname\s*:\s*([^\n:]{1,60}?)(?:\s+[^\s:]+\s*:|$)`, nameApply),

	rule("id_number", `\b([A-Z]\d{9})\b`, stringApply("id_number")),
}

var vitalRules = concat(
	metricRules(constants.MetricTotalCholesterol,
		`總膽固醇\s*:\s*`+num,
		`total\s+cholesterol\s*:\s*`+num,
		`\bTC\s*:\s*`+num,
	),
	metricRules(constants.MetricLDL,
		notNon+`LDL(?:-C)?\s*[-:]?\s*(?:膽固醇)?\s*:?\s*`+num,
		notNon+`ldl\s+cholesterol\s*:\s*`+num,
		`低密度脂蛋白(?:膽固醇)?\s*:\s*`+num,
	),
	metricRules(constants.MetricHDL,
		notNon+`HDL(?:-C)?\s*[-:]?\s*(?:膽固醇)?\s*:?\s*`+num,
		notNon+`hdl\s+cholesterol\s*:\s*`+num,
		`高密度脂蛋白(?:膽固醇)?\s*:\s*`+num,
	),
	metricRules(constants.MetricTriglycerides,
		`三酸甘油酯\s*:\s*`+num,
		`\btriglycerides?\s*:\s*`+num,
		`\bTG\s*:\s*`+num,
	),
	[]Rule{
		rule(constants.FieldBloodPressure, `(?i)血壓\s*:\s*(\d+)\s*[/\\]\s*(\d+)`, bloodPressureApply),
		rule(constants.FieldBloodPressure, `(?i)\bblood\s+pressure\s*:\s*(\d+)\s*[/\\]\s*(\d+)`, bloodPressureApply),
		rule(constants.FieldBloodPressure, `(?i)\bBP\s*:\s*(\d+)\s*[/\\]\s*(\d+)`, bloodPressureApply),
	},
	metricRules(constants.MetricFastingGlucose,
		`空腹血糖\s*:\s*`+num,
		`\bfasting\s+glucose\s*:\s*`+num,
		`\bAC\s*:\s*`+num,
	),
	metricRules(constants.MetricHbA1c,
		`\bHbA1c\s*:\s*`+num,
		`\bglycated\s+hemoglobin\s*:\s*`+num,
		`糖化血(?:紅蛋白|色素)\s*:\s*`+num,
	),
	metricRules(constants.MetricWaist,
		`腰圍\s*:\s*`+num,
		`\bwaist\s+circumference\s*:\s*`+num,
	),
	metricRules(constants.MetricHeartRate,
		`(?:脈搏|心跳|心率)\s*:\s*(\d+)`,
		`\b(?:heart\s+rate|pulse)\s*:\s*(\d+)`,
		`\bHR\s*:\s*(\d+)`,
	),
	metricRules(constants.MetricTemperature,
		`體溫\s*:\s*`+num,
		`\b(?:body\s+)?temperature\s*:\s*`+num,
	),
	metricRules(constants.MetricSpO2,
		`血氧(?:飽和度)?\s*:\s*`+num,
		`\b(?:SpO2|oxygen\s+saturation)\s*:\s*`+num,
	),
)

var builtin = Tables{
	Patient: patientRules,
	Vitals:  vitalRules,
	Dates:   dateRules,
}

// DefaultTables returns a copy of the built-in rule tables.
func DefaultTables() Tables { return builtin.clone() }

// deriveBMI fills bmi from height and weight when no direct value was read.
func deriveBMI(info map[string]any) {
	if _, ok := info["bmi"]; ok {
		return
	}
	h, okH := info["height_cm"].(float64)
	w, okW := info["weight_kg"].(float64)
	if !okH || !okW || h <= 0 {
		return
	}
	m := h / 100
	info["bmi"] = math.Round(w/(m*m)*10) / 10
}
