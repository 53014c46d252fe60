package common

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/health-reports/constants"
)

// Config holds all application configuration
type Config struct {
	Pipeline PipelineConfig
	OCR      OCRConfig
	Raster   RasterConfig
	LLM      LLMConfig
	Store    StoreConfig
	Server   ServerConfig
	LogLevel slog.Level
}

// PipelineConfig holds orchestration settings
type PipelineConfig struct {
	MinCompletenessThreshold float64
	MaxFileSizeBytes         int64
	SupportedMediaTypes      []string
	UseLLMFallback           bool
	PreprocessImages         bool
	BinarizeImages           bool
	BatchConcurrency         int
	PDFTextLayer             bool
	EnhancePages             bool
	PatternFile              string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Engine      string // "tesseract" | "gosseract"
	Language    string
	Tesseract   string
	TessdataDir string
	PSM         int
	PoolSize    int
	Workers     int
	TaskTimeout time.Duration
}

// RasterConfig holds PDF rasterization settings
type RasterConfig struct {
	DPI      int
	Pdftoppm string
	MaxPages int
}

// LLMConfig holds fallback model configuration
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

// StoreConfig holds the optional parse-run store settings
type StoreConfig struct {
	Driver string // "sqlite" | "pgx"
	DSN    string
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			MinCompletenessThreshold: getEnvAsFloat("MIN_COMPLETENESS_THRESHOLD", 0.7),
			MaxFileSizeBytes:         getEnvAsInt64("MAX_FILE_SIZE_BYTES", constants.DefaultMaxFileSize),
			SupportedMediaTypes:      getEnvAsList("SUPPORTED_MEDIA_TYPES", []string{"pdf", "jpg", "jpeg", "png"}),
			UseLLMFallback:           getEnvAsBool("USE_LLM_FALLBACK", true),
			PreprocessImages:         getEnvAsBool("PREPROCESS_IMAGES", true),
			BinarizeImages:           getEnvAsBool("BINARIZE_IMAGES", false),
			BatchConcurrency:         getEnvAsInt("BATCH_CONCURRENCY", 4),
			PDFTextLayer:             getEnvAsBool("PDF_TEXT_LAYER", false),
			EnhancePages:             getEnvAsBool("ENHANCE_PDF_PAGES", false),
			PatternFile:              getEnv("PATTERN_FILE", ""),
		},
		OCR: OCRConfig{
			Engine:      getEnv("OCR_ENGINE", "tesseract"),
			Language:    getEnv("OCR_LANGUAGE", "chi_tra+eng"),
			Tesseract:   getEnv("TESSERACT_BIN", "tesseract"),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
			PSM:         getEnvAsInt("OCR_PSM", 6),
			PoolSize:    getEnvAsInt("OCR_POOL_SIZE", 2),
			Workers:     getEnvAsInt("OCR_WORKERS", 4),
			TaskTimeout: getEnvAsDuration("OCR_TASK_TIMEOUT", 2*time.Minute),
		},
		Raster: RasterConfig{
			DPI:      getEnvAsInt("RASTERIZE_DPI", constants.DefaultDPI),
			Pdftoppm: getEnv("PDFTOPPM_BIN", "pdftoppm"),
			MaxPages: getEnvAsInt("MAX_PAGES", 0),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.1),
			MaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 2048),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 45*time.Second),
			MaxRetries:  getEnvAsInt("LLM_MAX_RETRIES", 3),
			BackoffBase: getEnvAsDuration("LLM_BACKOFF_BASE", time.Second),
		},
		Store: StoreConfig{
			Driver: getEnv("STORE_DRIVER", "sqlite"),
			DSN:    getEnv("STORE_DSN", ""),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
		},
		LogLevel: parseLevel(getEnv("LOG_LEVEL", "info")),
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := constants.NormalizeExt(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	t := c.Pipeline.MinCompletenessThreshold
	if t < 0 || t > 1 {
		return NewAppError("CONFIG_ERROR", "MIN_COMPLETENESS_THRESHOLD must be within [0,1]", ErrInvalidInput)
	}
	if c.Pipeline.MaxFileSizeBytes <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_FILE_SIZE_BYTES must be positive", ErrInvalidInput)
	}
	if len(c.Pipeline.SupportedMediaTypes) == 0 {
		return NewAppError("CONFIG_ERROR", "SUPPORTED_MEDIA_TYPES is empty", ErrInvalidInput)
	}
	if c.Raster.DPI <= 0 {
		return NewAppError("CONFIG_ERROR", "RASTERIZE_DPI must be positive", ErrInvalidInput)
	}
	if c.Pipeline.UseLLMFallback && c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "LLM_API_KEY is required when USE_LLM_FALLBACK is on", ErrInvalidInput)
	}
	switch c.Store.Driver {
	case "sqlite", "pgx":
	default:
		return NewAppError("CONFIG_ERROR", "STORE_DRIVER must be sqlite or pgx", ErrInvalidInput)
	}
	return nil
}
