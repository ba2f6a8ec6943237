package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/souravs72/cg-notification-sub001/internal/config"
	"github.com/souravs72/cg-notification-sub001/internal/sites"
)

// EmailCredentials is the resolved SendGrid configuration for one send.
type EmailCredentials struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// WhatsAppCredentials is the resolved WASender configuration for one send.
type WhatsAppCredentials struct {
	APIKey      string
	SessionName *string
}

// CredentialResolver resolves provider credentials for a site: the site's
// stored (encrypted) keys first, process-wide defaults second.
type CredentialResolver struct {
	sites *sites.Service
	cfg   *config.Config
}

func NewCredentialResolver(siteSvc *sites.Service, cfg *config.Config) *CredentialResolver {
	return &CredentialResolver{sites: siteSvc, cfg: cfg}
}

func (r *CredentialResolver) Email(ctx context.Context, siteID uuid.UUID) (*EmailCredentials, error) {
	site, err := r.sites.GetByID(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load site: %w", err)
	}

	creds := &EmailCredentials{
		APIKey:    r.cfg.SendGridAPIKey,
		FromEmail: r.cfg.SendGridFromEmail,
		FromName:  r.cfg.SendGridFromName,
	}

	if key, err := r.sites.DecryptSendGridKey(site); err != nil {
		return nil, fmt.Errorf("failed to decrypt sendgrid key: %w", err)
	} else if key != "" {
		creds.APIKey = key
	}
	if site.SendGridFromEmail != nil && *site.SendGridFromEmail != "" {
		creds.FromEmail = *site.SendGridFromEmail
	}
	if site.SendGridFromName != nil && *site.SendGridFromName != "" {
		creds.FromName = *site.SendGridFromName
	}

	if creds.APIKey == "" {
		return nil, fmt.Errorf("no sendgrid api key configured for site %s", siteID)
	}
	if creds.FromEmail == "" {
		return nil, fmt.Errorf("no sendgrid from address configured for site %s", siteID)
	}
	return creds, nil
}

func (r *CredentialResolver) WhatsApp(ctx context.Context, siteID uuid.UUID) (*WhatsAppCredentials, error) {
	site, err := r.sites.GetByID(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load site: %w", err)
	}

	creds := &WhatsAppCredentials{
		APIKey:      r.cfg.WASenderAPIKey,
		SessionName: site.WhatsAppSessionName,
	}

	if key, err := r.sites.DecryptWASenderKey(site); err != nil {
		return nil, fmt.Errorf("failed to decrypt wasender key: %w", err)
	} else if key != "" {
		creds.APIKey = key
	}

	if creds.APIKey == "" {
		return nil, fmt.Errorf("no wasender api key configured for site %s", siteID)
	}
	return creds, nil
}
