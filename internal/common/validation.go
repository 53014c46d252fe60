package common

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/health-reports/constants"
)

// ValidationError represents a rejected input file
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Kind    error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

func (e ValidationError) Unwrap() error {
	return e.Kind
}

// ValidationResult is the structured outcome handed back to callers.
type ValidationResult struct {
	Valid    bool               `json:"valid"`
	Error    string             `json:"error,omitempty"`
	FileType constants.FileType `json:"file_type,omitempty"`
	Size     int64              `json:"size,omitempty"`
}

// FileRules configures the validation gate.
type FileRules struct {
	MaxSizeBytes int64
	Supported    []string
}

func (r FileRules) supports(ext string) bool {
	if len(r.Supported) == 0 {
		_, ok := constants.AllowedExtensions[ext]
		return ok
	}
	for _, s := range r.Supported {
		if constants.NormalizeExt(s) == ext {
			return true
		}
	}
	return false
}

// ValidateFile checks existence, media type and size, in that order.
func ValidateFile(path string, rules FileRules) (ValidationResult, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return invalid(ValidationError{Field: "file_path", Value: path, Message: "file not found", Kind: ErrNotFound})
		}
		return invalid(ValidationError{Field: "file_path", Value: path, Message: err.Error(), Kind: ErrInvalidInput})
	}
	if st.IsDir() {
		return invalid(ValidationError{Field: "file_path", Value: path, Message: "is a directory", Kind: ErrInvalidInput})
	}
	return ValidateMeta(filepath.Base(path), st.Size(), rules)
}

// ValidateMeta validates a name/size pair for in-memory documents.
func ValidateMeta(name string, size int64, rules FileRules) (ValidationResult, error) {
	ext := constants.NormalizeExt(filepath.Ext(name))
	ft := constants.DetectFileType(name)
	if ft == constants.Unknown || !rules.supports(ext) {
		return invalid(ValidationError{Field: "media_type", Value: ext, Message: "unsupported file type", Kind: ErrUnsupportedMedia})
	}
	if rules.MaxSizeBytes > 0 && size > rules.MaxSizeBytes {
		return invalid(ValidationError{
			Field:   "size",
			Value:   size,
			Message: fmt.Sprintf("exceeds maximum of %d bytes", rules.MaxSizeBytes),
			Kind:    ErrFileTooLarge,
		})
	}
	if size == 0 {
		return invalid(ValidationError{Field: "size", Value: size, Message: "file is empty", Kind: ErrInvalidInput})
	}
	return ValidationResult{Valid: true, FileType: ft, Size: size}, nil
}

func invalid(verr ValidationError) (ValidationResult, error) {
	return ValidationResult{Valid: false, Error: verr.Error()}, verr
}
