package extract

import (
	"context"
	"image"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/health-reports/constants"
	"github.com/joseph-ayodele/health-reports/internal/core/ocr"
	"github.com/joseph-ayodele/health-reports/internal/core/report"
)

// Recognizer is the OCR capability the extractor needs. *ocr.Pool satisfies it.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]ocr.Line, error)
}

// Extractor runs OCR over a normalized page and applies the pattern tables.
type Extractor struct {
	rec    Recognizer
	tables Tables
	logger *slog.Logger
}

type Option func(*Extractor)

// WithTables replaces the built-in rule tables.
func WithTables(t Tables) Option {
	return func(e *Extractor) { e.tables = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewExtractor(rec Recognizer, opts ...Option) *Extractor {
	e := &Extractor{
		rec:    rec,
		tables: DefaultTables(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract recognizes img and parses the recognized lines. Completeness and
// source are left for later stages.
func (e *Extractor) Extract(ctx context.Context, img image.Image) (report.ExtractionResult, error) {
	start := time.Now()
	lines, err := e.rec.Recognize(ctx, img)
	if err != nil {
		return report.ExtractionResult{}, err
	}
	res := e.ParseLines(lines)
	e.logger.Debug("extract.ocr.done",
		"lines", len(lines),
		"metrics", len(res.VitalSigns),
		"confidence", res.ConfidenceScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// ParseLines builds a result from OCR lines. Each line is normalized on its
// own so labels keep their line boundaries.
func (e *Extractor) ParseLines(lines []ocr.Line) report.ExtractionResult {
	normalized := make([]string, 0, len(lines))
	for _, l := range lines {
		if t := ocr.NormalizeText(l.Text); t != "" {
			normalized = append(normalized, t)
		}
	}
	res := e.parse(strings.Join(normalized, "\n"))
	res.RawText = ocr.JoinText(lines)
	res.ConfidenceScore = ocr.MeanConfidence(lines)
	return res
}

// ParseText parses text that did not come from OCR, such as a PDF text layer.
func (e *Extractor) ParseText(text string, confidence float64) report.ExtractionResult {
	lines := strings.Split(text, "\n")
	normalized := make([]string, 0, len(lines))
	for _, l := range lines {
		if t := ocr.NormalizeText(l); t != "" {
			normalized = append(normalized, t)
		}
	}
	res := e.parse(strings.Join(normalized, "\n"))
	res.RawText = text
	res.ConfidenceScore = confidence
	return res
}

func (e *Extractor) parse(text string) report.ExtractionResult {
	res := report.NewExtractionResult()
	e.tables.Patient.Run(text, &res)
	deriveBMI(res.PatientInfo)
	e.tables.Vitals.Run(text, &res)
	e.tables.Dates.Run(text, &res)
	res.LifestyleFactors = extractLifestyle(text)
	res.Fields = Flatten(res)
	return res
}

// Flatten projects a result onto the flat field map used for scoring and
// merging. Canonical keys sit next to the detailed metric keys.
func Flatten(r report.ExtractionResult) report.Fields {
	f := report.Fields{}
	for key, m := range r.VitalSigns {
		f[key] = m.Value
	}
	sys, okS := r.VitalSigns[constants.MetricSystolicBP]
	dia, okD := r.VitalSigns[constants.MetricDiastolicBP]
	if okS && okD {
		f[constants.FieldBloodPressure] = formatNumber(sys.Value) + "/" + formatNumber(dia.Value)
	}
	if m, ok := r.VitalSigns[constants.MetricTotalCholesterol]; ok {
		f[constants.FieldCholesterol] = m.Value
	}
	if m, ok := r.VitalSigns[constants.MetricFastingGlucose]; ok {
		f[constants.FieldGlucose] = m.Value
	}
	if v, ok := r.PatientInfo["bmi"]; ok {
		f[constants.FieldBMI] = v
	}
	if v, ok := r.PatientInfo["weight_kg"]; ok {
		f[constants.FieldWeight] = v
	}
	if v, ok := r.PatientInfo["height_cm"]; ok {
		f[constants.FieldHeight] = v
	}
	if r.TestDate != "" {
		f[constants.FieldExaminationDate] = r.TestDate
	}
	return f
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
