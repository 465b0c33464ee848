package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

// Client calls an OpenAI-compatible Images API.
// Prompts without reference images go to /images/generations, the rest to /images/edits.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	size       string
	httpClient *http.Client
}

// NewClient builds a Client. baseURL should include the /v1 prefix.
func NewClient(baseURL, apiKey, model, size string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		size:    strings.TrimSpace(size),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type generationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imagesResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Generate implements ImageGenerator.
func (c *Client) Generate(ctx context.Context, prompt string, images [][]byte) ([]byte, error) {
	if c.model == "" {
		return nil, domain.NewBackendError(domain.BackendModelUnavailable, errors.New("image model not configured"))
	}

	var req *http.Request
	var err error
	if len(images) == 0 {
		req, err = c.generationRequest(ctx, prompt)
	} else {
		req, err = c.editRequest(ctx, prompt, images)
	}
	if err != nil {
		return nil, domain.NewBackendError(domain.BackendGeneric, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, domain.NewBackendError(domain.BackendTimeout, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewBackendError(domain.BackendGeneric, fmt.Errorf("image api request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, classifyResponse(resp)
	}

	var body imagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, domain.NewBackendError(domain.BackendGeneric, fmt.Errorf("image api decode: %w", err))
	}
	if len(body.Data) == 0 {
		return nil, domain.NewBackendError(domain.BackendGeneric, errors.New("empty response from image api"))
	}
	if body.Data[0].B64JSON != "" {
		img, err := base64.StdEncoding.DecodeString(body.Data[0].B64JSON)
		if err != nil {
			return nil, domain.NewBackendError(domain.BackendGeneric, fmt.Errorf("image api payload: %w", err))
		}
		return img, nil
	}
	if body.Data[0].URL != "" {
		return c.fetch(ctx, body.Data[0].URL)
	}
	return nil, domain.NewBackendError(domain.BackendGeneric, errors.New("image api returned no image"))
}

func (c *Client) generationRequest(ctx context.Context, prompt string) (*http.Request, error) {
	payload, err := json.Marshal(generationRequest{
		Model:  c.model,
		Prompt: prompt,
		N:      1,
		Size:   c.size,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) editRequest(ctx context.Context, prompt string, images [][]byte) (*http.Request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{"model": c.model, "prompt": prompt, "n": "1"}
	if c.size != "" {
		fields["size"] = c.size
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	for i, img := range images {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image[]"; filename="image_%d.png"`, i))
		h.Set("Content-Type", http.DetectContentType(img))
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(img); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/edits", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewBackendError(domain.BackendGeneric, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewBackendError(domain.BackendGeneric, fmt.Errorf("download generated image: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewBackendError(domain.BackendGeneric, fmt.Errorf("download generated image: %s", resp.Status))
	}
	return io.ReadAll(resp.Body)
}

// classifyResponse maps an API error response to a backend error kind.
func classifyResponse(resp *http.Response) error {
	var body apiErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Error.Message
	if msg == "" {
		msg = resp.Status
	}
	cause := fmt.Errorf("image api error: %s", msg)

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		code := strings.ToLower(body.Error.Code + " " + body.Error.Type + " " + msg)
		if strings.Contains(code, "insufficient_quota") || strings.Contains(code, "billing") || strings.Contains(code, "quota") {
			return domain.NewBackendError(domain.BackendQuotaExceeded, cause)
		}
		return domain.NewBackendError(domain.BackendRateLimited, cause)
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.NewBackendError(domain.BackendAuthFailed, cause)
	case http.StatusNotFound, http.StatusServiceUnavailable:
		return domain.NewBackendError(domain.BackendModelUnavailable, cause)
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return domain.NewBackendError(domain.BackendTimeout, cause)
	default:
		return domain.NewBackendError(domain.BackendGeneric, cause)
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
