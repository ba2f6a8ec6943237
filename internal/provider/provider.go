// Package provider holds the outbound HTTP clients for the delivery
// providers and the shared failure classification applied to their outcomes.
package provider

import (
	"github.com/souravs72/cg-notification-sub001/internal/messages"
)

// Result is the channel-agnostic outcome of one provider send.
type Result struct {
	Success      bool
	ErrorMessage string
	HTTPStatus   int
	ResponseBody string
	Category     messages.FailureType
}

// EmailRequest is one email dispatch with resolved credentials.
type EmailRequest struct {
	APIKey    string
	To        string
	Subject   string
	Body      string
	IsHTML    bool
	FromEmail string
	FromName  string
}

// WhatsAppRequest is one WhatsApp dispatch with resolved credentials. Exactly
// one content form is sent: document, video, image, or plain text, in that
// precedence.
type WhatsAppRequest struct {
	APIKey      string
	To          string
	SessionName string
	Text        string
	ImageURL    string
	VideoURL    string
	DocumentURL string
	FileName    string
}
