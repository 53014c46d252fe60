package extract

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/health-reports/constants"
	"github.com/joseph-ayodele/health-reports/internal/common"
)

// Overlay is the YAML shape of a pattern file. Patterns are appended after
// the built-in alternatives for the same field.
//
//	vitals:
//	  total_cholesterol: ['血清總膽固醇\s*:\s*(\d+)']
//	  blood_pressure: ['收縮壓/舒張壓\s*:\s*(\d+)/(\d+)']
//	patient:
//	  age: ['年紀\s*:\s*(\d+)']
//	dates: ['檢查日\s*:\s*(\d{2,4})\.(\d{1,2})\.(\d{1,2})']
type Overlay struct {
	Vitals  map[string][]string `yaml:"vitals"`
	Patient map[string][]string `yaml:"patient"`
	Dates   []string            `yaml:"dates"`
}

var patientAppliers = map[string]ApplyFunc{
	"age":       intApply("age"),
	"height_cm": floatApply("height_cm"),
	"weight_kg": floatApply("weight_kg"),
	"bmi":       floatApply("bmi"),
	"name":      nameApply,
	"id_number": stringApply("id_number"),
}

// LoadPatternFile reads a YAML overlay and returns the built-in tables
// extended with it.
func LoadPatternFile(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, common.NewAppError("CONFIG_ERROR", "read pattern file "+path, err)
	}
	return ParseOverlay(data)
}

// ParseOverlay decodes YAML overlay bytes and extends the built-in tables.
func ParseOverlay(data []byte) (Tables, error) {
	var ov Overlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return Tables{}, common.NewAppError("CONFIG_ERROR", "decode pattern file", err)
	}
	return ov.Apply(DefaultTables())
}

// Apply compiles the overlay and appends its rules to base.
func (ov Overlay) Apply(base Tables) (Tables, error) {
	out := base.clone()

	for _, field := range sortedKeys(ov.Vitals) {
		var apply ApplyFunc
		groups := 1
		switch {
		case field == constants.FieldBloodPressure:
			apply, groups = bloodPressureApply, 2
		case metricSpecs[field].Risk != nil:
			apply = metricApply(field)
		default:
			return Tables{}, overlayErr("vitals", field, "unknown metric")
		}
		for _, p := range ov.Vitals[field] {
			r, err := compileRule(field, p, groups, apply)
			if err != nil {
				return Tables{}, err
			}
			out.Vitals = append(out.Vitals, r)
		}
	}

	for _, field := range sortedKeys(ov.Patient) {
		apply, ok := patientAppliers[field]
		if !ok {
			return Tables{}, overlayErr("patient", field, "unsupported field")
		}
		for _, p := range ov.Patient[field] {
			r, err := compileRule(field, p, 1, apply)
			if err != nil {
				return Tables{}, err
			}
			out.Patient = append(out.Patient, r)
		}
	}

	for _, p := range ov.Dates {
		r, err := compileRule(dateField, p, 3, ymdApply)
		if err != nil {
			return Tables{}, err
		}
		out.Dates = append(out.Dates, r)
	}
	return out, nil
}

func compileRule(field, pattern string, groups int, apply ApplyFunc) (Rule, error) {
	re, err := regexp.Compile(`(?i)` + pattern)
	if err != nil {
		return Rule{}, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("pattern for %s", field), err)
	}
	if re.NumSubexp() < groups {
		return Rule{}, overlayErr("pattern", field, fmt.Sprintf("needs %d capture groups, has %d", groups, re.NumSubexp()))
	}
	return Rule{Field: field, Pattern: re, Apply: apply}, nil
}

func overlayErr(section, field, msg string) error {
	return common.NewAppError("CONFIG_ERROR", fmt.Sprintf("%s.%s: %s", section, field, msg), common.ErrInvalidInput)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
