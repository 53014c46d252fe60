package llm

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/joseph-ayodele/health-reports/constants"
	"github.com/joseph-ayodele/health-reports/internal/common"
)

// ImageFromFile loads an image file for inline upload.
func ImageFromFile(path string) (*Image, error) {
	ft := constants.DetectFileType(path)
	if !ft.IsImage() {
		return nil, common.NewAppError("UNSUPPORTED_MEDIA", "not an image: "+filepath.Base(path), common.ErrUnsupportedMedia)
	}
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.NewAppError("NOT_FOUND", "file not found: "+path, common.ErrNotFound)
		}
		return nil, err
	}
	if st.Size() > constants.MaxFallbackEncodeBytes {
		return nil, common.NewAppError("FILE_TOO_LARGE",
			fmt.Sprintf("%d bytes exceeds %d", st.Size(), constants.MaxFallbackEncodeBytes), common.ErrFileTooLarge)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Image{Data: b, MIMEType: ft.MIMEType()}, nil
}

// ImageFromRaster encodes a decoded page as PNG.
func ImageFromRaster(img image.Image) (*Image, error) {
	if img == nil {
		return nil, common.ErrInvalidImage
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	if buf.Len() > constants.MaxFallbackEncodeBytes {
		return nil, common.ErrFileTooLarge
	}
	return &Image{Data: buf.Bytes(), MIMEType: "image/png"}, nil
}

// DataURL renders the image as a base64 data URL.
func (i *Image) DataURL() string {
	mt := i.MIMEType
	if mt == "" {
		mt = "application/octet-stream"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}
