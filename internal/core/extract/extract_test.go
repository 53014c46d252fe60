package extract

import (
	"context"
	"errors"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/joseph-ayodele/health-reports/constants"
	"github.com/joseph-ayodele/health-reports/internal/common"
	"github.com/joseph-ayodele/health-reports/internal/core/ocr"
	"github.com/joseph-ayodele/health-reports/internal/core/report"
)

func parse(t *testing.T, text ...string) report.ExtractionResult {
	t.Helper()
	lines := make([]ocr.Line, len(text))
	for i, s := range text {
		lines[i] = ocr.Line{Text: s, Confidence: 0.9}
	}
	return NewExtractor(nil).ParseLines(lines)
}

func TestRiskBoundaries(t *testing.T) {
	tests := []struct {
		name string
		fn   RiskFunc
		in   float64
		want constants.RiskLevel
	}{
		{"cholesterol 199", AssessCholesterol, 199, constants.RiskNormal},
		{"cholesterol 200", AssessCholesterol, 200, constants.RiskBorderline},
		{"cholesterol 239", AssessCholesterol, 239, constants.RiskBorderline},
		{"cholesterol 240", AssessCholesterol, 240, constants.RiskHigh},
		{"ldl 99", AssessLDL, 99, constants.RiskNormal},
		{"ldl 100", AssessLDL, 100, constants.RiskBorderline},
		{"ldl 130", AssessLDL, 130, constants.RiskBorderlineHigh},
		{"ldl 160", AssessLDL, 160, constants.RiskHigh},
		{"hdl 60", AssessHDL, 60, constants.RiskNormal},
		{"hdl 40", AssessHDL, 40, constants.RiskBorderline},
		{"hdl 39", AssessHDL, 39, constants.RiskHigh},
		{"tg 149", AssessTriglycerides, 149, constants.RiskNormal},
		{"tg 150", AssessTriglycerides, 150, constants.RiskBorderline},
		{"tg 200", AssessTriglycerides, 200, constants.RiskHigh},
		{"systolic 119", AssessSystolic, 119, constants.RiskNormal},
		{"systolic 120", AssessSystolic, 120, constants.RiskElevated},
		{"systolic 130", AssessSystolic, 130, constants.RiskStage1},
		{"systolic 140", AssessSystolic, 140, constants.RiskHigh},
		{"diastolic 79", AssessDiastolic, 79, constants.RiskNormal},
		{"diastolic 80", AssessDiastolic, 80, constants.RiskStage1},
		{"diastolic 90", AssessDiastolic, 90, constants.RiskHigh},
		{"glucose 99", AssessFastingGlucose, 99, constants.RiskNormal},
		{"glucose 100", AssessFastingGlucose, 100, constants.RiskBorderline},
		{"glucose 126", AssessFastingGlucose, 126, constants.RiskHigh},
		{"hba1c 5.6", AssessHbA1c, 5.6, constants.RiskNormal},
		{"hba1c 5.7", AssessHbA1c, 5.7, constants.RiskBorderline},
		{"hba1c 6.5", AssessHbA1c, 6.5, constants.RiskHigh},
		{"waist 79", AssessWaist, 79, constants.RiskNormal},
		{"waist 80", AssessWaist, 80, constants.RiskBorderline},
		{"waist 90", AssessWaist, 90, constants.RiskHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBloodPressure(t *testing.T) {
	tests := []struct {
		line          string
		sys, dia      float64
		sysRisk       constants.RiskLevel
		diaRisk       constants.RiskLevel
		flattenedPair string
	}{
		{"血壓：130/85", 130, 85, constants.RiskStage1, constants.RiskStage1, "130/85"},
		{"BP: 118/76", 118, 76, constants.RiskNormal, constants.RiskNormal, "118/76"},
		{"Blood Pressure : 145 / 95 mmHg", 145, 95, constants.RiskHigh, constants.RiskHigh, "145/95"},
		{"血壓：１２０／８０", 120, 80, constants.RiskElevated, constants.RiskStage1, "120/80"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			res := parse(t, tt.line)
			sys, ok := res.VitalSigns[constants.MetricSystolicBP]
			if !ok {
				t.Fatalf("systolic missing: %+v", res.VitalSigns)
			}
			dia := res.VitalSigns[constants.MetricDiastolicBP]
			if sys.Value != tt.sys || dia.Value != tt.dia {
				t.Errorf("bp = %v/%v, want %v/%v", sys.Value, dia.Value, tt.sys, tt.dia)
			}
			if sys.RiskLevel != tt.sysRisk || dia.RiskLevel != tt.diaRisk {
				t.Errorf("risk = %s/%s, want %s/%s", sys.RiskLevel, dia.RiskLevel, tt.sysRisk, tt.diaRisk)
			}
			if got := res.Fields[constants.FieldBloodPressure]; got != tt.flattenedPair {
				t.Errorf("blood_pressure field = %v, want %q", got, tt.flattenedPair)
			}
		})
	}
}

func TestBloodPressureRequiresBothSides(t *testing.T) {
	res := parse(t, "血壓：130/", "BP: 125")
	if _, ok := res.VitalSigns[constants.MetricSystolicBP]; ok {
		t.Errorf("partial blood pressure accepted: %+v", res.VitalSigns)
	}
	if _, ok := res.Fields[constants.FieldBloodPressure]; ok {
		t.Error("blood_pressure field set from partial match")
	}
}

func TestLipidsAndGlucose(t *testing.T) {
	res := parse(t,
		"總膽固醇：210",
		"LDL-C: 135",
		"HDL 膽固醇: 38",
		"三酸甘油酯：150",
		"空腹血糖：101",
		"HbA1c: 6.5 %",
		"腰圍：88 cm",
		"脈搏：72 bpm",
		"體溫：36.5",
		"SpO2: 98",
	)
	want := map[string]struct {
		v    float64
		risk constants.RiskLevel
	}{
		constants.MetricTotalCholesterol: {210, constants.RiskBorderline},
		constants.MetricLDL:              {135, constants.RiskBorderlineHigh},
		constants.MetricHDL:              {38, constants.RiskHigh},
		constants.MetricTriglycerides:    {150, constants.RiskBorderline},
		constants.MetricFastingGlucose:   {101, constants.RiskBorderline},
		constants.MetricHbA1c:            {6.5, constants.RiskHigh},
		constants.MetricWaist:            {88, constants.RiskBorderline},
		constants.MetricHeartRate:        {72, constants.RiskUnknown},
		constants.MetricTemperature:      {36.5, constants.RiskUnknown},
		constants.MetricSpO2:             {98, constants.RiskUnknown},
	}
	for key, w := range want {
		m, ok := res.VitalSigns[key]
		if !ok {
			t.Errorf("%s missing", key)
			continue
		}
		if m.Value != w.v || m.RiskLevel != w.risk {
			t.Errorf("%s = %v (%s), want %v (%s)", key, m.Value, m.RiskLevel, w.v, w.risk)
		}
	}
	if res.Fields[constants.FieldCholesterol] != 210.0 {
		t.Errorf("cholesterol alias = %v", res.Fields[constants.FieldCholesterol])
	}
	if res.Fields[constants.FieldGlucose] != 101.0 {
		t.Errorf("glucose alias = %v", res.Fields[constants.FieldGlucose])
	}
	// heart rate, temperature, oxygen saturation, cholesterol, glucose
	if got := report.Score(res.Fields); math.Abs(got-5.0/7.0) > 1e-9 {
		t.Errorf("completeness = %v, want 5/7", got)
	}
}

func TestFirstAlternativeWins(t *testing.T) {
	res := parse(t, "TC: 180", "總膽固醇：250")
	if got := res.VitalSigns[constants.MetricTotalCholesterol].Value; got != 250 {
		t.Errorf("total cholesterol = %v, want the Chinese label value 250", got)
	}
}

func TestPatientInfo(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  map[string]any
	}{
		{
			name:  "chinese labels on one line",
			lines: []string{"姓名：王小明 性別：男 年齡：45", "身高：175cm 體重：70kg", "身分證 A123456789"},
			want: map[string]any{
				"name": "王小明", "gender": "M", "age": 45,
				"height_cm": 175.0, "weight_kg": 70.0, "bmi": 22.9, "id_number": "A123456789",
			},
		},
		{
			name:  "english labels",
			lines: []string{"Name: Jane Doe", "Gender: Female", "Age: 38", "BMI: 21.4", "Height: 160 cm", "Weight: 60 kg"},
			want: map[string]any{
				"name": "Jane Doe", "gender": "F", "age": 38, "bmi": 21.4,
				"height_cm": 160.0, "weight_kg": 60.0,
			},
		},
		{
			name:  "name glued to next label",
			lines: []string{"姓名:李大華性別:女 出生日期:1980/01/02"},
			want:  map[string]any{"name": "李大華", "gender": "F"},
		},
		{
			name:  "age suffix",
			lines: []string{"陳先生 52歲"},
			want:  map[string]any{"age": 52},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := parse(t, tt.lines...)
			for k, want := range tt.want {
				if got := res.PatientInfo[k]; got != want {
					t.Errorf("%s = %#v, want %#v", k, got, want)
				}
			}
		})
	}
}

func TestNonHDLIsNotHDL(t *testing.T) {
	res := parse(t, "Non-HDL: 165", "HDL: 52", "non-LDL cholesterol: 170", "LDL cholesterol: 98")
	hdl := res.VitalSigns[constants.MetricHDL]
	if hdl.Value != 52 || hdl.RiskLevel != constants.RiskBorderline {
		t.Errorf("hdl = %+v, want 52 borderline", hdl)
	}
	if got := res.VitalSigns[constants.MetricLDL].Value; got != 98 {
		t.Errorf("ldl = %v, want 98", got)
	}
}

func TestBMINotDerivedWhenStated(t *testing.T) {
	res := parse(t, "BMI: 30.1", "身高：175cm", "體重：70kg")
	if got := res.PatientInfo["bmi"]; got != 30.1 {
		t.Errorf("bmi = %v, want stated 30.1", got)
	}
	if got := res.Fields[constants.FieldBMI]; got != 30.1 {
		t.Errorf("bmi field = %v", got)
	}
}

func TestTestDate(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"檢查日期：113年11月15日", "2024-11-15"},
		{"報告日期 2024年11月15日", "2024-11-15"},
		{"Date: 2024/03/05", "2024-03-05"},
		{"Date: 2024-3-5", "2024-03-05"},
		{"日期 113/11/15", "2024-11-15"},
		{"Reported Nov 15, 2024", "2024-11-15"},
		{"Reported 5 March 2024", "2024-03-05"},
		{"113年02月30日 2024/04/01", "2024-04-01"},
		{"no date here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			res := parse(t, tt.line)
			if res.TestDate != tt.want {
				t.Errorf("TestDate = %q, want %q", res.TestDate, tt.want)
			}
			if tt.want != "" && res.Fields[constants.FieldExaminationDate] != tt.want {
				t.Errorf("examination_date = %v", res.Fields[constants.FieldExaminationDate])
			}
		})
	}
}

func TestFormatDate(t *testing.T) {
	if _, ok := FormatDate(2023, 2, 29); ok {
		t.Error("2023-02-29 accepted")
	}
	if s, ok := FormatDate(2024, 2, 29); !ok || s != "2024-02-29" {
		t.Errorf("FormatDate(2024,2,29) = %q, %v", s, ok)
	}
	if _, ok := FormatDate(2024, 4, 31); ok {
		t.Error("2024-04-31 accepted")
	}
}

func TestLifestyle(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  map[string]any
	}{
		{
			name:  "chinese",
			lines: []string{"吸菸：否", "運動：每週3次 慢跑", "飲酒：是", "飲酒量：2 杯"},
			want: map[string]any{
				"smoking_status": "never", "exercise_frequency": 3, "exercise_period": "weekly",
				"exercise_description": "每週3次慢跑", "alcohol_consumption": "yes", "drinks_per_week": 2.0,
			},
		},
		{
			name:  "english",
			lines: []string{"Current smoker", "Exercise: 1 time per day", "Alcohol: no"},
			want: map[string]any{
				"smoking_status": "current", "exercise_frequency": 1, "exercise_period": "daily",
				"alcohol_consumption": "no",
			},
		},
		{
			name:  "former smoker",
			lines: []string{"吸菸史：已戒菸五年"},
			want:  map[string]any{"smoking_status": "former"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := parse(t, tt.lines...)
			for k, want := range tt.want {
				if got := res.LifestyleFactors[k]; got != want {
					t.Errorf("%s = %#v, want %#v", k, got, want)
				}
			}
		})
	}
}

type fakeRecognizer struct {
	lines []ocr.Line
	err   error
}

func (f fakeRecognizer) Recognize(context.Context, image.Image) ([]ocr.Line, error) {
	return f.lines, f.err
}

func TestExtract(t *testing.T) {
	rec := fakeRecognizer{lines: []ocr.Line{
		{Text: "血壓：120/80", Confidence: 0.9},
		{Text: "總膽固醇：200", Confidence: 0.7},
	}}
	res, err := NewExtractor(rec).Extract(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if math.Abs(res.ConfidenceScore-0.8) > 1e-9 {
		t.Errorf("confidence = %v, want 0.8", res.ConfidenceScore)
	}
	if res.RawText != "血壓：120/80\n總膽固醇：200" {
		t.Errorf("raw text = %q", res.RawText)
	}
	if got := report.Score(res.Fields); math.Abs(got-2.0/7.0) > 1e-9 {
		t.Errorf("completeness = %v, want 2/7", got)
	}

	boom := errors.New("engine crashed")
	if _, err := NewExtractor(fakeRecognizer{err: boom}).Extract(context.Background(), nil); !errors.Is(err, boom) {
		t.Errorf("Extract() err = %v, want %v", err, boom)
	}
}

func TestExtractNoLines(t *testing.T) {
	res, err := NewExtractor(fakeRecognizer{}).Extract(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ConfidenceScore != 0 || len(res.Fields) != 0 {
		t.Errorf("empty OCR produced %+v", res)
	}
}

func TestParseText(t *testing.T) {
	res := NewExtractor(nil).ParseText("Blood Pressure: 150/95\nGlucose AC: 130", 1.0)
	if res.ConfidenceScore != 1.0 {
		t.Errorf("confidence = %v", res.ConfidenceScore)
	}
	if res.Fields[constants.FieldBloodPressure] != "150/95" {
		t.Errorf("blood_pressure = %v", res.Fields[constants.FieldBloodPressure])
	}
	if m := res.VitalSigns[constants.MetricFastingGlucose]; m.Value != 130 || m.RiskLevel != constants.RiskHigh {
		t.Errorf("fasting glucose = %+v", m)
	}
}

func TestPatternOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	data := `
vitals:
  total_cholesterol:
    - 'chol\s*=\s*(\d+)'
  blood_pressure:
    - '收縮壓/舒張壓\s*:\s*(\d+)/(\d+)'
patient:
  age:
    - '年紀\s*:\s*(\d+)'
dates:
  - '檢查日\s*:\s*(\d{2,4})\.(\d{1,2})\.(\d{1,2})'
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	tables, err := LoadPatternFile(path)
	if err != nil {
		t.Fatalf("LoadPatternFile() error = %v", err)
	}
	if len(tables.Vitals) != len(DefaultTables().Vitals)+2 {
		t.Errorf("vitals = %d rules", len(tables.Vitals))
	}

	lines := []ocr.Line{
		{Text: "CHOL = 245"}, {Text: "收縮壓/舒張壓：128/82"}, {Text: "年紀：61"}, {Text: "檢查日：112.7.4"},
	}
	res := NewExtractor(nil, WithTables(tables)).ParseLines(lines)
	if m := res.VitalSigns[constants.MetricTotalCholesterol]; m.Value != 245 || m.RiskLevel != constants.RiskHigh {
		t.Errorf("overlay cholesterol = %+v", m)
	}
	if res.Fields[constants.FieldBloodPressure] != "128/82" {
		t.Errorf("overlay bp = %v", res.Fields[constants.FieldBloodPressure])
	}
	if res.PatientInfo["age"] != 61 {
		t.Errorf("overlay age = %v", res.PatientInfo["age"])
	}
	if res.TestDate != "2023-07-04" {
		t.Errorf("overlay date = %q", res.TestDate)
	}

	// built-in tables stay untouched
	if got := NewExtractor(nil).ParseLines(lines); len(got.VitalSigns) != 0 {
		t.Errorf("default tables picked up overlay: %+v", got.VitalSigns)
	}
}

func TestPatternOverlayErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown metric", "vitals:\n  cortisol: ['x(\\d+)']\n"},
		{"unsupported patient field", "patient:\n  gender: ['(M|F)']\n"},
		{"missing groups", "vitals:\n  blood_pressure: ['bp (\\d+)']\n"},
		{"bad regex", "dates: ['(\\d+']\n"},
		{"bad yaml", "vitals: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOverlay([]byte(tt.yaml))
			var appErr *common.AppError
			if !errors.As(err, &appErr) || appErr.Code != "CONFIG_ERROR" {
				t.Errorf("err = %v, want CONFIG_ERROR", err)
			}
		})
	}
	if _, err := LoadPatternFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing pattern file accepted")
	}
}
