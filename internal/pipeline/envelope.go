package pipeline

import (
	"github.com/joseph-ayodele/health-reports/constants"
	"github.com/joseph-ayodele/health-reports/internal/common"
	"github.com/joseph-ayodele/health-reports/internal/core/report"
)

// Envelope is the uniform per-file result handed to callers.
type Envelope struct {
	RunID        string           `json:"run_id,omitempty"`
	Data         report.Fields    `json:"data"`
	Completeness float64          `json:"completeness"`
	Source       constants.Source `json:"source"`
	FilePath     string           `json:"file_path"`
	FileType     string           `json:"file_type,omitempty"`
	Error        string           `json:"error,omitempty"`

	Confidence  float64                        `json:"confidence,omitempty"`
	Pages       int                            `json:"pages,omitempty"`
	VitalSigns  map[string]report.HealthMetric `json:"vital_signs,omitempty"`
	PatientInfo map[string]any                 `json:"patient_info,omitempty"`
	Lifestyle   map[string]any                 `json:"lifestyle_factors,omitempty"`
	TestDate    string                         `json:"test_date,omitempty"`
	RawText     string                         `json:"-"`
	Warnings    []string                       `json:"warnings,omitempty"`

	// Validation is set when the file was rejected before extraction.
	Validation *common.ValidationResult `json:"validation,omitempty"`
	// State is DONE or FAILED; FailedAt names the state that failed.
	State    constants.ParseState `json:"state"`
	FailedAt constants.ParseState `json:"failed_at,omitempty"`
	// Cause keeps the typed error behind Error for errors.Is checks.
	Cause error `json:"-"`
}

// OK reports whether the file produced a usable result.
func (e Envelope) OK() bool {
	return e.Source != constants.SourceError
}

// BatchResult is the outcome of ParseBatch. Results keep input order.
type BatchResult struct {
	Results             []Envelope    `json:"results"`
	MergedData          report.Fields `json:"merged_data,omitempty"`
	OverallCompleteness float64       `json:"overall_completeness"`
	Succeeded           int           `json:"succeeded"`
	Failed              int           `json:"failed"`
	Error               string        `json:"error,omitempty"`
}

func fromResult(runID, path string, ft constants.FileType, pages int, res report.ExtractionResult) Envelope {
	return Envelope{
		RunID:        runID,
		Data:         res.Fields,
		Completeness: res.Completeness,
		Source:       res.Source,
		FilePath:     path,
		FileType:     string(ft),
		Confidence:   res.ConfidenceScore,
		Pages:        pages,
		VitalSigns:   res.VitalSigns,
		PatientInfo:  res.PatientInfo,
		Lifestyle:    res.LifestyleFactors,
		TestDate:     res.TestDate,
		RawText:      res.RawText,
		Warnings:     res.Errors,
		State:        constants.StateDone,
	}
}

func errorEnvelope(runID, path string, ft constants.FileType, state constants.ParseState, err error) Envelope {
	env := Envelope{
		RunID:    runID,
		Data:     report.Fields{},
		Source:   constants.SourceError,
		FilePath: path,
		State:    constants.StateFailed,
		FailedAt: state,
		Cause:    err,
	}
	if ft != "" && ft != constants.Unknown {
		env.FileType = string(ft)
	}
	if err != nil {
		env.Error = err.Error()
	}
	if state == constants.StateValidating {
		env.Validation = &common.ValidationResult{Valid: false, Error: env.Error}
	}
	return env
}
