package api

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/souravs72/cg-notification-sub001/internal/messages"
)

// SendRequest is the tenant-facing submission body shared by the send and
// schedule endpoints.
type SendRequest struct {
	Channel     string            `json:"channel"`
	Recipient   string            `json:"recipient"`
	Subject     *string           `json:"subject,omitempty"`
	Body        *string           `json:"body,omitempty"`
	IsHTML      bool              `json:"isHtml"`
	FromEmail   *string           `json:"fromEmail,omitempty"`
	FromName    *string           `json:"fromName,omitempty"`
	ImageURL    *string           `json:"imageUrl,omitempty"`
	VideoURL    *string           `json:"videoUrl,omitempty"`
	DocumentURL *string           `json:"documentUrl,omitempty"`
	FileName    *string           `json:"fileName,omitempty"`
	Caption     *string           `json:"caption,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ScheduledAt *time.Time        `json:"scheduledAt,omitempty"`
}

type SendResponse struct {
	MessageID string          `json:"messageId"`
	Status    messages.Status `json:"status"`
}

// BulkItemResponse is one entry of a bulk submission result. Failed items
// carry an error instead of a message id.
type BulkItemResponse struct {
	MessageID string          `json:"messageId,omitempty"`
	Status    messages.Status `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type RegisterSiteRequest struct {
	SiteName            string  `json:"siteName"`
	WhatsAppSessionName *string `json:"whatsappSessionName,omitempty"`
	WASenderAPIKey      *string `json:"wasenderApiKey,omitempty"`
	SendGridAPIKey      *string `json:"sendgridApiKey,omitempty"`
	SendGridFromEmail   *string `json:"sendgridFromEmail,omitempty"`
	SendGridFromName    *string `json:"sendgridFromName,omitempty"`
}

type RegisterSiteResponse struct {
	SiteID   string `json:"siteId"`
	SiteName string `json:"siteName"`
	// APIKey is returned exactly once; only its hash is stored.
	APIKey string `json:"apiKey"`
}

// Validate checks channel-specific required fields and normalizes the
// recipient in place.
func (r *SendRequest) Validate() error {
	r.Recipient = normalizeRecipient(r.Recipient)
	if r.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}

	switch messages.Channel(r.Channel) {
	case messages.ChannelEmail:
		if r.Subject == nil || strings.TrimSpace(*r.Subject) == "" {
			return fmt.Errorf("subject is required for EMAIL")
		}
		if r.Body == nil || *r.Body == "" {
			return fmt.Errorf("body is required for EMAIL")
		}
	case messages.ChannelWhatsApp:
		if !r.hasWhatsAppContent() {
			return fmt.Errorf("WHATSAPP requires one of body, imageUrl, videoUrl, documentUrl")
		}
		if r.DocumentURL != nil && *r.DocumentURL != "" && (r.FileName == nil || *r.FileName == "") {
			return fmt.Errorf("fileName is required with documentUrl")
		}
	default:
		return fmt.Errorf("channel must be EMAIL or WHATSAPP")
	}
	return nil
}

func (r *SendRequest) hasWhatsAppContent() bool {
	has := func(p *string) bool { return p != nil && *p != "" }
	return has(r.Body) || has(r.ImageURL) || has(r.VideoURL) || has(r.DocumentURL)
}

// normalizeRecipient strips control characters and surrounding whitespace.
// WhatsApp numbers keep the tenant-specified dialing form.
func normalizeRecipient(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
