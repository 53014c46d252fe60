// Package export renders parse results as spreadsheets.
package export

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/health-reports/internal/core/report"
	"github.com/joseph-ayodele/health-reports/internal/pipeline"
)

const (
	SheetReports = "Reports"
	SheetMetrics = "Metrics"
	SheetMerged  = "Merged"
)

// Service produces XLSX workbooks for batch results.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// BatchXLSX returns a workbook with one row per file, one row per vital sign
// and, when the batch was merged, the merged field map.
func (s *Service) BatchXLSX(batch pipeline.BatchResult) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// NewFile starts with "Sheet1"; rename it so the workbook opens on Reports.
	if err := f.SetSheetName("Sheet1", SheetReports); err != nil {
		return nil, err
	}
	if err := s.writeReports(f, batch.Results); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetMetrics); err != nil {
		return nil, err
	}
	metricRows, err := s.writeMetrics(f, batch.Results)
	if err != nil {
		return nil, err
	}
	if batch.MergedData != nil {
		if _, err := f.NewSheet(SheetMerged); err != nil {
			return nil, err
		}
		if err := writeMerged(f, batch); err != nil {
			return nil, err
		}
	}
	idx, _ := f.GetSheetIndex(SheetReports)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"files", len(batch.Results),
		"metric_rows", metricRows,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// WriteBatchXLSX writes the workbook to path.
func (s *Service) WriteBatchXLSX(path string, batch pipeline.BatchResult) error {
	b, err := s.BatchXLSX(batch)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func (s *Service) writeReports(f *excelize.File, results []pipeline.Envelope) error {
	headers := []any{"File", "Type", "Source", "Completeness", "Confidence", "Pages", "Test Date", "Patient", "Error"}
	if err := f.SetSheetRow(SheetReports, "A1", &headers); err != nil {
		return err
	}
	for i, env := range results {
		name, _ := env.PatientInfo["name"].(string)
		row := []any{
			env.FilePath,
			env.FileType,
			string(env.Source),
			env.Completeness,
			env.Confidence,
			env.Pages,
			env.TestDate,
			name,
			truncate(env.Error, 240),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetReports, cell, &row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(SheetReports, "A", "A", 48) // path
	_ = f.SetColWidth(SheetReports, "B", "F", 12)
	_ = f.SetColWidth(SheetReports, "G", "H", 16)
	_ = f.SetColWidth(SheetReports, "I", "I", 60) // error
	return nil
}

func (s *Service) writeMetrics(f *excelize.File, results []pipeline.Envelope) (int, error) {
	headers := []any{"File", "Metric", "Value", "Unit", "Reference Range", "Risk Level"}
	if err := f.SetSheetRow(SheetMetrics, "A1", &headers); err != nil {
		return 0, err
	}
	row := 2
	for _, env := range results {
		for _, key := range sortedKeys(env.VitalSigns) {
			m := env.VitalSigns[key]
			vals := []any{env.FilePath, m.Name, m.Value, m.Unit, m.ReferenceRange, string(m.RiskLevel)}
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := f.SetSheetRow(SheetMetrics, cell, &vals); err != nil {
				return 0, err
			}
			row++
		}
	}
	_ = f.SetColWidth(SheetMetrics, "A", "A", 48)
	_ = f.SetColWidth(SheetMetrics, "B", "B", 28)
	_ = f.SetColWidth(SheetMetrics, "E", "E", 24)
	return row - 2, nil
}

func writeMerged(f *excelize.File, batch pipeline.BatchResult) error {
	headers := []any{"Field", "Value"}
	if err := f.SetSheetRow(SheetMerged, "A1", &headers); err != nil {
		return err
	}
	row := 2
	for _, key := range sortedKeys(batch.MergedData) {
		vals := []any{key, cellValue(batch.MergedData[key])}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(SheetMerged, cell, &vals); err != nil {
			return err
		}
		row++
	}
	total := []any{"overall_completeness", batch.OverallCompleteness}
	cell, _ := excelize.CoordinatesToCellName(1, row+1)
	if err := f.SetSheetRow(SheetMerged, cell, &total); err != nil {
		return err
	}
	_ = f.SetColWidth(SheetMerged, "A", "A", 28)
	_ = f.SetColWidth(SheetMerged, "B", "B", 40)
	return nil
}

// cellValue flattens values excelize cannot write natively.
func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string, bool, int, int64, float32, float64:
		return t
	case report.HealthMetric:
		return fmt.Sprintf("%v %s", t.Value, t.Unit)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
