package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GraphClient sends messages through the Facebook Graph Send API. One client
// serves both Messenger and Instagram recipients; the recipient id decides
// the surface.
type GraphClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewGraphClient creates a new Graph API send client
func NewGraphClient(baseURL, accessToken string, timeout time.Duration) *GraphClient {
	return &GraphClient{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	Recipient     sendRecipient `json:"recipient"`
	Message       sendMessage   `json:"message"`
	MessagingType string        `json:"messaging_type"`
	Tag           string        `json:"tag,omitempty"`
}

type sendRecipient struct {
	ID string `json:"id"`
}

type sendMessage struct {
	Text string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts one text message to the Graph Send API and returns the provider
// message id.
func (c *GraphClient) Send(ctx context.Context, recipientID, content, tag string) (string, error) {
	payload := sendRequest{
		Recipient:     sendRecipient{ID: recipientID},
		Message:       sendMessage{Text: content},
		MessagingType: "UPDATE",
	}
	if tag != "" {
		payload.MessagingType = "MESSAGE_TAG"
		payload.Tag = tag
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/me/messages?access_token=%s", c.baseURL, c.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read send response: %w", err)
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode send response (status %d): %w", resp.StatusCode, err)
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("graph api error %d (%s): %s", parsed.Error.Code, parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("graph api returned status %d", resp.StatusCode)
	}
	if parsed.MessageID == "" {
		return "", fmt.Errorf("graph api response missing message_id")
	}

	return parsed.MessageID, nil
}
