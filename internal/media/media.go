package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher downloads message attachments from the messaging channel.
type Fetcher interface {
	Fetch(ctx context.Context, mediaID string) ([]byte, error)
}

// Client resolves a WhatsApp media id to a download URL, then fetches the
// bytes. Both calls require the access token.
type Client struct {
	apiURL     string
	token      string
	httpClient *http.Client
}

func NewClient(apiURL, token string) *Client {
	return &Client{
		apiURL: apiURL,
		token:  token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	ID       string `json:"id"`
}

func (c *Client) Fetch(ctx context.Context, mediaID string) ([]byte, error) {
	info, err := c.resolve(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, info.URL)
}

func (c *Client) resolve(ctx context.Context, mediaID string) (*mediaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.apiURL+"/"+mediaID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("media lookup returned status %d: %s", resp.StatusCode, string(body))
	}

	var info mediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode media info: %w", err)
	}
	if info.URL == "" {
		return nil, fmt.Errorf("media %s has no download URL", mediaID)
	}
	return &info, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
