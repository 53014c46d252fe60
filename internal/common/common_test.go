package common

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/health-reports/constants"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MIN_COMPLETENESS_THRESHOLD", "0.5")
	t.Setenv("SUPPORTED_MEDIA_TYPES", ".PDF, png,,")
	t.Setenv("USE_LLM_FALLBACK", "false")
	t.Setenv("LLM_TIMEOUT", "10s")
	t.Setenv("LLM_TEMPERATURE", "0.3")
	t.Setenv("BATCH_CONCURRENCY", "not-a-number")
	t.Setenv("LOG_LEVEL", "WARN")

	cfg := LoadConfig()
	if cfg.Pipeline.MinCompletenessThreshold != 0.5 {
		t.Errorf("threshold = %v, want 0.5", cfg.Pipeline.MinCompletenessThreshold)
	}
	if want := []string{"pdf", "png"}; !reflect.DeepEqual(cfg.Pipeline.SupportedMediaTypes, want) {
		t.Errorf("media types = %v, want %v", cfg.Pipeline.SupportedMediaTypes, want)
	}
	if cfg.Pipeline.UseLLMFallback {
		t.Error("fallback should be off")
	}
	if cfg.LLM.Timeout != 10*time.Second {
		t.Errorf("llm timeout = %v", cfg.LLM.Timeout)
	}
	if cfg.LLM.Temperature != 0.3 {
		t.Errorf("temperature = %v", cfg.LLM.Temperature)
	}
	if cfg.Pipeline.BatchConcurrency != 4 {
		t.Errorf("bad int should keep default, got %d", cfg.Pipeline.BatchConcurrency)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("USE_LLM_FALLBACK", "false")
	t.Setenv("STORE_DRIVER", "")
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Pipeline.MinCompletenessThreshold = 1.2 }},
		{"negative threshold", func(c *Config) { c.Pipeline.MinCompletenessThreshold = -0.1 }},
		{"zero max size", func(c *Config) { c.Pipeline.MaxFileSizeBytes = 0 }},
		{"no media types", func(c *Config) { c.Pipeline.SupportedMediaTypes = nil }},
		{"zero dpi", func(c *Config) { c.Raster.DPI = 0 }},
		{"fallback without key", func(c *Config) { c.Pipeline.UseLLMFallback = true; c.LLM.APIKey = "" }},
		{"unknown store driver", func(c *Config) { c.Store.Driver = "mysql" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("Validate() = %v, want ErrInvalidInput", err)
			}
			var appErr *AppError
			if !errors.As(err, &appErr) || appErr.Code != "CONFIG_ERROR" {
				t.Errorf("want CONFIG_ERROR AppError, got %v", err)
			}
		})
	}
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, size int) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, make([]byte, size), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	rules := FileRules{MaxSizeBytes: 100}

	tests := []struct {
		name     string
		path     string
		rules    FileRules
		wantErr  error
		wantType constants.FileType
	}{
		{name: "valid pdf", path: write("report.pdf", 10), rules: rules, wantType: constants.PDF},
		{name: "uppercase jpeg", path: write("scan.JPEG", 10), rules: rules, wantType: constants.JPEG},
		{name: "missing", path: filepath.Join(dir, "nope.pdf"), rules: rules, wantErr: ErrNotFound},
		{name: "directory", path: dir, rules: rules, wantErr: ErrInvalidInput},
		{name: "unsupported", path: write("notes.txt", 10), rules: rules, wantErr: ErrUnsupportedMedia},
		{name: "not in configured list", path: write("photo.png", 10), rules: FileRules{MaxSizeBytes: 100, Supported: []string{"pdf"}}, wantErr: ErrUnsupportedMedia},
		{name: "too large", path: write("big.png", 101), rules: rules, wantErr: ErrFileTooLarge},
		{name: "empty", path: write("empty.png", 0), rules: rules, wantErr: ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ValidateFile(tt.path, tt.rules)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ValidateFile() error = %v, want %v", err, tt.wantErr)
				}
				if res.Valid || res.Error == "" {
					t.Errorf("result = %+v, want invalid with message", res)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateFile() error = %v", err)
			}
			if !res.Valid || res.FileType != tt.wantType {
				t.Errorf("result = %+v, want valid %s", res, tt.wantType)
			}
		})
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{NewAppError("NOT_FOUND", "run", ErrNotFound), codes.NotFound},
		{WrapError(ErrUnsupportedMedia, "validate"), codes.InvalidArgument},
		{ErrCorruptDocument, codes.InvalidArgument},
		{ErrFileTooLarge, codes.ResourceExhausted},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
		{InvalidArgumentErrorf("bad %s", "field"), codes.InvalidArgument},
	}
	for _, tt := range tests {
		if got := status.Code(ToStatus(tt.err)); got != tt.want {
			t.Errorf("ToStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if ToStatus(nil) != nil {
		t.Error("ToStatus(nil) should be nil")
	}
}

func TestRunIDContext(t *testing.T) {
	ctx := context.Background()
	if got := RunIDFromContext(ctx); got != "" {
		t.Errorf("empty context run id = %q", got)
	}
	if got := RunIDFromContext(WithRunID(ctx, "r-1")); got != "r-1" {
		t.Errorf("run id = %q, want r-1", got)
	}
}
