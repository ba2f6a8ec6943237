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

// maxResponseBody caps how much of a provider response is read; bodies can
// be arbitrarily large and only the leading part matters for classification.
const maxResponseBody = 64 * 1024

// SendGridClient sends email through the SendGrid v3 mail send endpoint.
type SendGridClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewSendGridClient(baseURL string, timeout time.Duration, logger *zap.Logger) *SendGridClient {
	return &SendGridClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridRequest struct {
	Personalizations []struct {
		To []sendGridAddress `json:"to"`
	} `json:"personalizations"`
	From    sendGridAddress `json:"from"`
	Subject string          `json:"subject"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
}

func (c *SendGridClient) Send(ctx context.Context, req EmailRequest) *Result {
	contentType := "text/plain"
	if req.IsHTML {
		contentType = "text/html"
	}

	body := sendGridRequest{
		From:    sendGridAddress{Email: req.FromEmail, Name: req.FromName},
		Subject: req.Subject,
	}
	body.Personalizations = append(body.Personalizations, struct {
		To []sendGridAddress `json:"to"`
	}{To: []sendGridAddress{{Email: req.To}}})
	body.Content = append(body.Content, struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{Type: contentType, Value: req.Body})

	data, err := json.Marshal(body)
	if err != nil {
		return &Result{
			ErrorMessage: fmt.Sprintf("failed to marshal request: %v", err),
			Category:     messages.FailureTransient,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/mail/send", bytes.NewReader(data))
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
			ErrorMessage: fmt.Sprintf("sendgrid request failed: %v", err),
			Category:     messages.FailureTransient,
		}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Result{Success: true, HTTPStatus: resp.StatusCode}
	}

	errMsg := fmt.Sprintf("sendgrid returned %d", resp.StatusCode)
	c.logger.Warn("sendgrid send failed",
		zap.Int("status", resp.StatusCode),
		zap.String("to", req.To))
	return &Result{
		ErrorMessage: errMsg,
		HTTPStatus:   resp.StatusCode,
		ResponseBody: string(respBody),
		Category:     Classify(resp.StatusCode, errMsg, string(respBody)),
	}
}
