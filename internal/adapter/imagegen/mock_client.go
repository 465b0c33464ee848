package imagegen

import (
	"bytes"
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"time"
)

// MockClient renders a solid-color PNG derived from the prompt.
type MockClient struct {
	delay time.Duration
}

// NewMockClient creates a new mock image client.
func NewMockClient(delay time.Duration) *MockClient {
	return &MockClient{delay: delay}
}

// Ensure MockClient implements ImageGenerator interface.
var _ ImageGenerator = (*MockClient)(nil)

// Generate returns a 64x64 PNG after the configured delay.
func (m *MockClient) Generate(ctx context.Context, prompt string, images [][]byte) ([]byte, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	sum := h.Sum32()
	fill := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
