package sites

import (
	"time"

	"github.com/google/uuid"
)

// Site is a registered tenant. Provider API keys are stored encrypted; the
// raw site key is never stored, only its bcrypt hash and a SHA-256 lookup
// digest.
type Site struct {
	ID                  uuid.UUID `json:"id"`
	SiteName            string    `json:"site_name"`
	APIKeyHash          string    `json:"-"`
	APIKeyDigest        string    `json:"-"`
	WhatsAppSessionName *string   `json:"whatsapp_session_name,omitempty"`
	WASenderAPIKeyEnc   *string   `json:"-"`
	SendGridAPIKeyEnc   *string   `json:"-"`
	SendGridFromEmail   *string   `json:"sendgrid_from_email,omitempty"`
	SendGridFromName    *string   `json:"sendgrid_from_name,omitempty"`
	IsActive            bool      `json:"is_active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Registration carries the optional provider configuration supplied at
// registration time, with the raw provider keys still in plaintext.
type Registration struct {
	SiteName            string
	WhatsAppSessionName *string
	WASenderAPIKey      *string
	SendGridAPIKey      *string
	SendGridFromEmail   *string
	SendGridFromName    *string
}
