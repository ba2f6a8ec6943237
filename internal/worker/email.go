package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/bus"
	"github.com/souravs72/cg-notification-sub001/internal/messages"
	"github.com/souravs72/cg-notification-sub001/internal/observability"
	"github.com/souravs72/cg-notification-sub001/internal/provider"
)

// EmailSender is satisfied by the SendGrid client.
type EmailSender interface {
	Send(ctx context.Context, req provider.EmailRequest) *provider.Result
}

// NewEmailHandler wires the email dispatch path into the shared worker
// skeleton.
func NewEmailHandler(store StatusStore, resolver *CredentialResolver, sender EmailSender, metrics *observability.Metrics, logger *zap.Logger) *Handler {
	h := &Handler{
		channel: messages.ChannelEmail,
		source:  messages.SourceWorkerEmail,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
	h.dispatch = func(ctx context.Context, p *bus.Payload) *provider.Result {
		creds, err := resolver.Email(ctx, p.SiteID)
		if err != nil {
			return &provider.Result{
				ErrorMessage: err.Error(),
				Category:     messages.FailurePermanent,
			}
		}

		req := provider.EmailRequest{
			APIKey:    creds.APIKey,
			To:        p.Recipient,
			IsHTML:    p.IsHTML,
			FromEmail: creds.FromEmail,
			FromName:  creds.FromName,
		}
		if p.Subject != nil {
			req.Subject = *p.Subject
		}
		if p.Body != nil {
			req.Body = *p.Body
		}
		if p.FromEmail != nil && *p.FromEmail != "" {
			req.FromEmail = *p.FromEmail
		}
		if p.FromName != nil && *p.FromName != "" {
			req.FromName = *p.FromName
		}

		return sender.Send(ctx, req)
	}
	return h
}
