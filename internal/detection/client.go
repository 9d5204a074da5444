package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ClientConfig contains configuration for the inference client
type ClientConfig struct {
	ServiceURL          string
	Timeout             time.Duration
	ConfidenceThreshold float64
	EnabledClasses      []string
	// OutputDir receives prediction_image.jpg.
	OutputDir string
}

// Client is a Detector backed by an HTTP inference service. Boxes returned
// by the service are drawn locally onto the submitted image.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.L()
	}
	cfg.ServiceURL = strings.TrimRight(cfg.ServiceURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("detection"),
	}
}

// Detect sends the image to the inference service and writes the annotated
// copy to the output directory.
func (c *Client) Detect(ctx context.Context, imagePath string) (*Result, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	resp, err := c.Infer(ctx, data)
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(resp.BoundingBoxes))
	for _, b := range resp.BoundingBoxes {
		labels = append(labels, b.ClassName)
	}

	annotated := filepath.Join(c.cfg.OutputDir, AnnotatedImageName)
	if err := Annotate(data, resp.BoundingBoxes, annotated); err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}

	c.logger.Info("Objects detected",
		zap.String("image", imagePath),
		zap.Strings("labels", labels),
		zap.Float64("inference_ms", resp.InferenceTimeMs))

	return &Result{Labels: labels, AnnotatedImagePath: annotated}, nil
}

// Infer performs a single inference request for a JPEG image.
func (c *Client) Infer(ctx context.Context, jpeg []byte) (*InferenceResponse, error) {
	req := InferenceRequest{
		Image:          base64.StdEncoding.EncodeToString(jpeg),
		EnabledClasses: c.cfg.EnabledClasses,
	}
	if c.cfg.ConfidenceThreshold > 0 {
		threshold := c.cfg.ConfidenceThreshold
		req.ConfidenceThreshold = &threshold
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.cfg.ServiceURL + "/api/v1/inference"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending inference request", zap.String("url", url))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out InferenceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &out, nil
}
