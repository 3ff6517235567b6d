package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cropdoctor/internal/models"
)

// Client calls the external inference service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type predictRequest struct {
	ImageURL string `json:"image_url"`
	CropHint string `json:"crop_hint,omitempty"`
}

type predictResponse struct {
	Predictions  []models.Prediction `json:"predictions"`
	ProcessingMS int64               `json:"processing_ms"`
	Timestamp    string              `json:"timestamp"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	ModelLoaded bool   `json:"model_loaded"`
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Predict sends the image reference and optional crop hint to the model and
// returns the normalized top prediction.
func (c *Client) Predict(ctx context.Context, imageURL, cropHint string) (*models.Prediction, error) {
	reqBody := predictRequest{
		ImageURL: imageURL,
		CropHint: cropHint,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/predict", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ML service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Predictions) == 0 {
		return nil, fmt.Errorf("ML service returned no predictions")
	}
	top := result.Predictions[0]
	return &top, nil
}

// HealthCheck probes the inference service.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ML service returned status %d", resp.StatusCode)
	}

	var result healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Status != "healthy" {
		return fmt.Errorf("ML service unhealthy: %s", result.Status)
	}
	return nil
}
