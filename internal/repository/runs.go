package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/joseph-ayodele/health-reports/constants"
	"github.com/joseph-ayodele/health-reports/internal/common"
	"github.com/joseph-ayodele/health-reports/internal/core/report"
	"github.com/joseph-ayodele/health-reports/internal/pipeline"
)

// Run is one persisted parse.
type Run struct {
	RunID        string
	FilePath     string
	FileType     string
	Source       constants.Source
	State        constants.ParseState
	FailedAt     constants.ParseState
	Completeness float64
	Confidence   float64
	Pages        int
	TestDate     string
	Error        string
	Data         report.Fields
	Metrics      map[string]report.HealthMetric
	CreatedAt    time.Time
}

type RunRepository interface {
	Record(ctx context.Context, env pipeline.Envelope) error
	Get(ctx context.Context, runID string) (*Run, error)
	ListRecent(ctx context.Context, limit int) ([]Run, error)
}

// RunStore implements RunRepository and pipeline.Recorder.
type RunStore struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

var _ pipeline.Recorder = (*RunStore)(nil)

func NewRunStore(db *DB, logger *slog.Logger) *RunStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunStore{db: db, logger: logger, now: time.Now}
}

// Record upserts the run row and replaces its metrics in one transaction.
func (s *RunStore) Record(ctx context.Context, env pipeline.Envelope) error {
	if env.RunID == "" {
		return common.NewAppError("INVALID_INPUT", "envelope has no run id", common.ErrInvalidInput)
	}
	data, err := json.Marshal(env.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO parse_runs (run_id, file_path, file_type, source, state, failed_at, completeness,
			confidence, pages, test_date, error_message, data_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			source = excluded.source, state = excluded.state, failed_at = excluded.failed_at,
			completeness = excluded.completeness, confidence = excluded.confidence,
			pages = excluded.pages, test_date = excluded.test_date,
			error_message = excluded.error_message, data_json = excluded.data_json`),
		env.RunID, env.FilePath, env.FileType, string(env.Source), string(env.State), string(env.FailedAt),
		env.Completeness, env.Confidence, env.Pages, env.TestDate, env.Error, string(data),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.logger.Error("parse_run insert failed", "run_id", env.RunID, "error", err)
		return err
	}

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM run_metrics WHERE run_id = ?`), env.RunID); err != nil {
		return err
	}
	keys := make([]string, 0, len(env.VitalSigns))
	for k := range env.VitalSigns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m := env.VitalSigns[k]
		_, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO run_metrics (run_id, metric, name, value, unit, reference_range, risk_level)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			env.RunID, k, m.Name, m.Value, m.Unit, m.ReferenceRange, string(m.RiskLevel),
		)
		if err != nil {
			s.logger.Error("run_metric insert failed", "run_id", env.RunID, "metric", k, "error", err)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("parse_run recorded", "run_id", env.RunID, "source", env.Source, "metrics", len(keys))
	return nil
}

const runColumns = `run_id, file_path, file_type, source, state, failed_at, completeness, confidence,
	pages, test_date, error_message, data_json, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r                       Run
		source, state, failedAt string
		data, created           string
	)
	err := row.Scan(&r.RunID, &r.FilePath, &r.FileType, &source, &state, &failedAt,
		&r.Completeness, &r.Confidence, &r.Pages, &r.TestDate, &r.Error, &data, &created)
	if err != nil {
		return Run{}, err
	}
	r.Source = constants.Source(source)
	r.State = constants.ParseState(state)
	r.FailedAt = constants.ParseState(failedAt)
	r.Data = report.Fields{}
	if err := json.Unmarshal([]byte(data), &r.Data); err != nil {
		return Run{}, fmt.Errorf("decode data for %s: %w", r.RunID, err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Run{}, fmt.Errorf("decode created_at for %s: %w", r.RunID, err)
	}
	return r, nil
}

// Get loads a run with its metrics. A missing run wraps common.ErrNotFound.
func (s *RunStore) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+runColumns+` FROM parse_runs WHERE run_id = ?`), runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("NOT_FOUND", "run not found: "+runID, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if r.Metrics, err = s.metrics(ctx, runID); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RunStore) metrics(ctx context.Context, runID string) (map[string]report.HealthMetric, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT metric, name, value, unit, reference_range, risk_level
		FROM run_metrics WHERE run_id = ? ORDER BY metric`), runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := map[string]report.HealthMetric{}
	for rows.Next() {
		var key, risk string
		var m report.HealthMetric
		if err := rows.Scan(&key, &m.Name, &m.Value, &m.Unit, &m.ReferenceRange, &risk); err != nil {
			return nil, err
		}
		m.RiskLevel = constants.RiskLevel(risk)
		out[key] = m
	}
	return out, rows.Err()
}

// ListRecent returns the newest runs first, without metrics.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`SELECT `+runColumns+` FROM parse_runs ORDER BY created_at DESC, run_id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
