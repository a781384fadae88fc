// Package imagegen implements the image-generator collaborator. The engine
// calls it from detached enrichment tasks and swallows its failures: a
// story entry simply stays without an image.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"tale-server/internal/config"

	"go.uber.org/zap"
)

// ErrImageGenerationFailed wraps any upstream failure of the image backend.
var ErrImageGenerationFailed = errors.New("image generation failed")

// Client is the engine-facing contract of the image generator.
type Client interface {
	// Generate renders an image for the prompt and returns its bytes.
	Generate(ctx context.Context, prompt string) ([]byte, error)
	// GenerateWithFaceRestore renders with the face-restoration pass
	// enabled; backends without one treat it as a plain Generate.
	GenerateWithFaceRestore(ctx context.Context, prompt string) ([]byte, error)
}

type apiRequest struct {
	Prompt      string `json:"prompt"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	FaceRestore bool   `json:"face_restore"`
}

type apiResponse struct {
	Image string `json:"image"` // base64-encoded payload
	Error string `json:"error,omitempty"`
}

type httpClient struct {
	logger      *zap.Logger
	endpoint    string
	client      *http.Client
	styleSuffix string
	width       int
	height      int
}

// NewClient creates an image client for the configured HTTP backend.
func NewClient(cfg *config.Config, logger *zap.Logger) (Client, error) {
	if cfg.ImageAPIURL == "" {
		return nil, errors.New("image API URL (IMAGE_API_URL) is not configured")
	}
	return &httpClient{
		logger:   logger.Named("ImageClient"),
		endpoint: cfg.ImageAPIURL,
		client: &http.Client{
			Timeout: cfg.ImageTimeout,
		},
		styleSuffix: cfg.ImageStyleSuffix,
		width:       cfg.ImageWidth,
		height:      cfg.ImageHeight,
	}, nil
}

func (c *httpClient) Generate(ctx context.Context, prompt string) ([]byte, error) {
	return c.generate(ctx, prompt, false)
}

func (c *httpClient) GenerateWithFaceRestore(ctx context.Context, prompt string) ([]byte, error) {
	return c.generate(ctx, prompt, true)
}

func (c *httpClient) generate(ctx context.Context, prompt string, faceRestore bool) ([]byte, error) {
	start := time.Now()

	body, err := json.Marshal(apiRequest{
		Prompt:      prompt + c.styleSuffix,
		Width:       c.width,
		Height:      c.height,
		FaceRestore: faceRestore,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %v", ErrImageGenerationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: backend returned %d: %s", ErrImageGenerationFailed, resp.StatusCode, string(payload))
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrImageGenerationFailed, err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrImageGenerationFailed, parsed.Error)
	}

	data, err := base64.StdEncoding.DecodeString(parsed.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid image payload: %v", ErrImageGenerationFailed, err)
	}

	c.logger.Debug("Image generated",
		zap.Int("bytes", len(data)),
		zap.Bool("face_restore", faceRestore),
		zap.Duration("duration", time.Since(start)))
	return data, nil
}
