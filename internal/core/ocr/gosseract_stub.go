//go:build !ocr

package ocr

import "errors"

// NewGosseractEngine is unavailable without the "ocr" build tag (cgo + libtesseract).
func NewGosseractEngine(Config) (Engine, error) {
	return nil, errors.New("gosseract engine not compiled in: rebuild with -tags ocr")
}
