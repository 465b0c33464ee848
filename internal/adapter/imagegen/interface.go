// Package imagegen provides clients for image generation backends.
package imagegen

import "context"

// ImageGenerator turns a prompt and optional reference images into one PNG image.
// Errors are *domain.BackendError values classified by kind.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, images [][]byte) ([]byte, error)
}

// Ensure Client implements ImageGenerator interface.
var _ ImageGenerator = (*Client)(nil)
