package bus

import (
	"github.com/google/uuid"

	"github.com/souravs72/cg-notification-sub001/internal/messages"
)

// Payload is the self-describing record carried on the channel topics. It
// holds the full message content so workers never need the gateway's request
// context, only the store for verification.
type Payload struct {
	MessageID   string            `json:"message_id"`
	SiteID      uuid.UUID         `json:"site_id"`
	Channel     messages.Channel  `json:"channel"`
	Recipient   string            `json:"recipient"`
	Subject     *string           `json:"subject,omitempty"`
	Body        *string           `json:"body,omitempty"`
	FromEmail   *string           `json:"from_email,omitempty"`
	FromName    *string           `json:"from_name,omitempty"`
	IsHTML      bool              `json:"is_html"`
	ImageURL    *string           `json:"image_url,omitempty"`
	VideoURL    *string           `json:"video_url,omitempty"`
	DocumentURL *string           `json:"document_url,omitempty"`
	FileName    *string           `json:"file_name,omitempty"`
	Caption     *string           `json:"caption,omitempty"`
	SessionName *string           `json:"session_name,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RetryCount  int               `json:"retry_count"`
}

// DLQRecord wraps the original payload with the terminal failure context.
type DLQRecord struct {
	Payload              Payload              `json:"payload"`
	TerminalError        string               `json:"terminal_error"`
	Classification       messages.FailureType `json:"classification"`
	RetryCountAtTerminus int                  `json:"retry_count_at_terminus"`
}

// NewPayload builds the wire record from a stored message.
func NewPayload(msg *messages.Message, sessionName *string) *Payload {
	return &Payload{
		MessageID:   msg.MessageID,
		SiteID:      msg.SiteID,
		Channel:     msg.Channel,
		Recipient:   msg.Recipient,
		Subject:     msg.Subject,
		Body:        msg.Body,
		FromEmail:   msg.FromEmail,
		FromName:    msg.FromName,
		IsHTML:      msg.IsHTML,
		ImageURL:    msg.ImageURL,
		VideoURL:    msg.VideoURL,
		DocumentURL: msg.DocumentURL,
		FileName:    msg.FileName,
		Caption:     msg.Caption,
		SessionName: sessionName,
		Metadata:    msg.Metadata,
		RetryCount:  msg.RetryCount,
	}
}

// SubjectFor maps a channel to its live topic.
func SubjectFor(channel messages.Channel) string {
	if channel == messages.ChannelWhatsApp {
		return SubjectWhatsApp
	}
	return SubjectEmail
}

// DLQSubjectFor maps a channel to its dead-letter topic.
func DLQSubjectFor(channel messages.Channel) string {
	if channel == messages.ChannelWhatsApp {
		return SubjectWhatsAppDLQ
	}
	return SubjectEmailDLQ
}
