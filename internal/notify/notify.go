package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier sends a text message to a messaging-channel recipient.
type Notifier interface {
	Send(ctx context.Context, to, text string) error
}

// WhatsAppClient sends messages through the WhatsApp Cloud API.
type WhatsAppClient struct {
	apiURL        string
	token         string
	phoneNumberID string
	httpClient    *http.Client
	log           *zap.Logger
}

func NewWhatsAppClient(apiURL, token, phoneNumberID string, log *zap.Logger) *WhatsAppClient {
	return &WhatsAppClient{
		apiURL:        apiURL,
		token:         token,
		phoneNumberID: phoneNumberID,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type sendMessageRequest struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Text             sendMessageText `json:"text"`
}

type sendMessageText struct {
	Body string `json:"body"`
}

func (c *WhatsAppClient) Send(ctx context.Context, to, text string) error {
	reqBody := sendMessageRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             sendMessageText{Body: text},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.apiURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp API returned status %d: %s", resp.StatusCode, string(body))
	}

	c.log.Info("Message sent", zap.String("to", to))
	return nil
}

// MockNotifier logs instead of sending. Selected by the mock_whatsapp config
// flag.
type MockNotifier struct {
	log *zap.Logger
}

func NewMockNotifier(log *zap.Logger) *MockNotifier {
	return &MockNotifier{log: log}
}

func (m *MockNotifier) Send(_ context.Context, to, text string) error {
	// Truncate on a rune boundary; the catalog texts are multi-byte.
	preview := []rune(text)
	if len(preview) > 50 {
		preview = preview[:50]
	}
	m.log.Info("[MOCK] Sending message", zap.String("to", to), zap.String("text", string(preview)))
	return nil
}
