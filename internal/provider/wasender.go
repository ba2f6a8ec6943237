package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/messages"
)

// WASenderClient sends WhatsApp messages through the WASender HTTP API.
type WASenderClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewWASenderClient(baseURL string, timeout time.Duration, logger *zap.Logger) *WASenderClient {
	return &WASenderClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type waSenderRequest struct {
	To          string `json:"to"`
	Session     string `json:"whatsapp_session,omitempty"`
	Text        string `json:"text,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	VideoURL    string `json:"videoUrl,omitempty"`
	DocumentURL string `json:"documentUrl,omitempty"`
	FileName    string `json:"fileName,omitempty"`
}

type waSenderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (c *WASenderClient) Send(ctx context.Context, req WhatsAppRequest) *Result {
	body := waSenderRequest{To: req.To, Session: req.SessionName}

	// Exactly one content form per request.
	switch {
	case req.DocumentURL != "":
		body.DocumentURL = req.DocumentURL
		body.FileName = req.FileName
		body.Text = req.Text
	case req.VideoURL != "":
		body.VideoURL = req.VideoURL
		body.Text = req.Text
	case req.ImageURL != "":
		body.ImageURL = req.ImageURL
		body.Text = req.Text
	default:
		body.Text = req.Text
	}

	data, err := json.Marshal(body)
	if err != nil {
		return &Result{
			ErrorMessage: fmt.Sprintf("failed to marshal request: %v", err),
			Category:     messages.FailureTransient,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/send-message", bytes.NewReader(data))
	if err != nil {
		return &Result{
			ErrorMessage: fmt.Sprintf("failed to build request: %v", err),
			Category:     messages.FailureTransient,
		}
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return &Result{
			ErrorMessage: fmt.Sprintf("wasender request failed: %v", err),
			Category:     messages.FailureTransient,
		}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	var parsed waSenderResponse
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && parsed.Success {
		return &Result{Success: true, HTTPStatus: resp.StatusCode}
	}

	errMsg := fmt.Sprintf("wasender returned %d", resp.StatusCode)
	if parsed.Message != "" {
		errMsg = fmt.Sprintf("wasender returned %d: %s", resp.StatusCode, parsed.Message)
	}
	c.logger.Warn("wasender send failed",
		zap.Int("status", resp.StatusCode),
		zap.String("to", req.To))
	return &Result{
		ErrorMessage: errMsg,
		HTTPStatus:   resp.StatusCode,
		ResponseBody: string(respBody),
		Category:     Classify(resp.StatusCode, errMsg, string(respBody)),
	}
}
