// Package server exposes the report pipeline over gRPC.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/health-reports/internal/common"
	"github.com/joseph-ayodele/health-reports/internal/pipeline"
	"github.com/joseph-ayodele/health-reports/internal/repository"
)

// Parser is the pipeline surface the service needs.
type Parser interface {
	Parse(ctx context.Context, path string, useFallback *bool) pipeline.Envelope
	ParseBytes(ctx context.Context, name string, data []byte, useFallback *bool) pipeline.Envelope
	ParseBatch(ctx context.Context, paths []string, mergeResults bool) (pipeline.BatchResult, error)
}

// RunReader looks up persisted runs. *repository.RunStore satisfies it.
type RunReader interface {
	Get(ctx context.Context, runID string) (*repository.Run, error)
}

type ReportService struct {
	parser Parser
	runs   RunReader
	logger *slog.Logger
}

var _ ReportParserServer = (*ReportService)(nil)

// NewReportService wires the service. runs may be nil when no store is configured.
func NewReportService(parser Parser, runs RunReader, logger *slog.Logger) *ReportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportService{parser: parser, runs: runs, logger: logger}
}

// Parse accepts {"file_path"} or {"file_name", "content_base64"}, plus an
// optional "use_llm_fallback" bool. The response is the envelope; a failed
// parse is still an OK call with source "error".
func (s *ReportService) Parse(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	useFallback := optionalBool(fields, "use_llm_fallback")

	var env pipeline.Envelope
	if path := strings.TrimSpace(fields["file_path"].GetStringValue()); path != "" {
		s.logger.Info("parse request", "file_path", path)
		env = s.parser.Parse(ctx, path, useFallback)
	} else {
		name := strings.TrimSpace(fields["file_name"].GetStringValue())
		content := fields["content_base64"].GetStringValue()
		if name == "" || content == "" {
			return nil, status.Error(codes.InvalidArgument, "file_path, or file_name with content_base64, is required")
		}
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "content_base64: %v", err)
		}
		s.logger.Info("parse request", "file_name", name, "bytes", len(data))
		env = s.parser.ParseBytes(ctx, name, data, useFallback)
	}
	if err := ctx.Err(); err != nil {
		return nil, common.ToStatus(err)
	}
	return toStruct(env)
}

// ParseBatch accepts {"file_paths": [...], "merge_results": bool}. merge_results defaults to true.
func (s *ReportService) ParseBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	var paths []string
	for _, v := range fields["file_paths"].GetListValue().GetValues() {
		if p := strings.TrimSpace(v.GetStringValue()); p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil, status.Error(codes.InvalidArgument, "file_paths is required")
	}
	merge := true
	if b := optionalBool(fields, "merge_results"); b != nil {
		merge = *b
	}

	start := time.Now()
	out, err := s.parser.ParseBatch(ctx, paths, merge)
	if err != nil && !errors.Is(err, pipeline.ErrBatchFailed) {
		s.logger.Warn("parse batch failed", "files", len(paths), "error", err)
		return nil, common.ToStatus(err)
	}
	s.logger.Info("parse batch finished",
		"files", len(paths),
		"succeeded", out.Succeeded,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return toStruct(out)
}

// GetRun accepts {"run_id"} and returns the stored run.
func (s *ReportService) GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.runs == nil {
		return nil, status.Error(codes.Unimplemented, "run store is not configured")
	}
	id := strings.TrimSpace(req.GetFields()["run_id"].GetStringValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "run_id is required")
	}
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return toStruct(map[string]any{
		"run_id":       run.RunID,
		"file_path":    run.FilePath,
		"file_type":    run.FileType,
		"source":       run.Source,
		"state":        run.State,
		"failed_at":    run.FailedAt,
		"completeness": run.Completeness,
		"confidence":   run.Confidence,
		"pages":        run.Pages,
		"test_date":    run.TestDate,
		"error":        run.Error,
		"data":         run.Data,
		"vital_signs":  run.Metrics,
		"created_at":   run.CreatedAt.Format(time.RFC3339Nano),
	})
}

func optionalBool(fields map[string]*structpb.Value, key string) *bool {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	if _, isBool := v.GetKind().(*structpb.Value_BoolValue); !isBool {
		return nil
	}
	b := v.GetBoolValue()
	return &b
}

// toStruct round-trips v through JSON so struct tags decide the wire shape.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}
