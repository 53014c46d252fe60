package constants

import (
	"path/filepath"
	"strings"
)

// FileType is the detected type of a submitted document.
type FileType string

const (
	PDF     FileType = "pdf"
	JPG     FileType = "jpg"
	JPEG    FileType = "jpeg"
	PNG     FileType = "png"
	Unknown FileType = "unknown"
)

const (
	DefaultDPI             = 300
	DefaultMaxFileSize     = 10 * 1024 * 1024
	MaxFallbackEncodeBytes = 100 * 1024 * 1024
)

// AllowedExtensions holds the default supported media types.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// DetectFileType maps a path's extension to a FileType.
func DetectFileType(path string) FileType {
	switch NormalizeExt(filepath.Ext(path)) {
	case "pdf":
		return PDF
	case "jpg":
		return JPG
	case "jpeg":
		return JPEG
	case "png":
		return PNG
	default:
		return Unknown
	}
}

// IsImage reports whether t is a raster image type.
func (t FileType) IsImage() bool {
	return t == JPG || t == JPEG || t == PNG
}

// MIMEType returns the media type sent to vision models.
func (t FileType) MIMEType() string {
	switch t {
	case JPG, JPEG:
		return "image/jpeg"
	case PNG:
		return "image/png"
	case PDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
