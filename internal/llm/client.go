package llm

import (
	"context"
)

// Image is an inline image attached to a prompt.
type Image struct {
	Data     []byte
	MIMEType string
}

// Client is the model capability the fallback extractor needs: one prompt,
// an optional image, raw text back.
type Client interface {
	Generate(ctx context.Context, prompt string, img *Image) (string, error)
}
