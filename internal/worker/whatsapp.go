package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/bus"
	"github.com/souravs72/cg-notification-sub001/internal/messages"
	"github.com/souravs72/cg-notification-sub001/internal/observability"
	"github.com/souravs72/cg-notification-sub001/internal/provider"
)

// WhatsAppSender is satisfied by the WASender client.
type WhatsAppSender interface {
	Send(ctx context.Context, req provider.WhatsAppRequest) *provider.Result
}

// NewWhatsAppHandler wires the WhatsApp dispatch path into the shared worker
// skeleton. Every provider call runs under the session sequencer so that a
// session never has two sends in flight and always observes the mandatory
// inter-message gap.
func NewWhatsAppHandler(store StatusStore, resolver *CredentialResolver, sender WhatsAppSender, seq *Sequencer, metrics *observability.Metrics, logger *zap.Logger) *Handler {
	h := &Handler{
		channel: messages.ChannelWhatsApp,
		source:  messages.SourceWorkerWhatsApp,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
	h.dispatch = func(ctx context.Context, p *bus.Payload) *provider.Result {
		creds, err := resolver.WhatsApp(ctx, p.SiteID)
		if err != nil {
			return &provider.Result{
				ErrorMessage: err.Error(),
				Category:     messages.FailurePermanent,
			}
		}

		sessionName := p.SessionName
		if sessionName == nil {
			sessionName = creds.SessionName
		}

		req := whatsAppRequest(p, creds.APIKey, sessionName)

		var res *provider.Result
		key := SessionKey(sessionName, p.SiteID)
		if err := seq.Do(ctx, key, func() error {
			res = sender.Send(ctx, req)
			return nil
		}); err != nil && res == nil {
			return &provider.Result{
				ErrorMessage: err.Error(),
				Category:     messages.FailureTransient,
			}
		}
		return res
	}
	return h
}

func whatsAppRequest(p *bus.Payload, apiKey string, sessionName *string) provider.WhatsAppRequest {
	req := provider.WhatsAppRequest{
		APIKey: apiKey,
		To:     p.Recipient,
	}
	if sessionName != nil {
		req.SessionName = *sessionName
	}
	if p.Body != nil {
		req.Text = *p.Body
	}
	hasMedia := p.ImageURL != nil || p.VideoURL != nil || p.DocumentURL != nil
	// The caption only makes sense alongside media. Without it the body
	// is the message text.
	if hasMedia && p.Caption != nil && *p.Caption != "" {
		req.Text = *p.Caption
	}
	if p.ImageURL != nil {
		req.ImageURL = *p.ImageURL
	}
	if p.VideoURL != nil {
		req.VideoURL = *p.VideoURL
	}
	if p.DocumentURL != nil {
		req.DocumentURL = *p.DocumentURL
	}
	if p.FileName != nil {
		req.FileName = *p.FileName
	}
	return req
}
