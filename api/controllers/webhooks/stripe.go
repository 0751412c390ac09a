package webhooks

import (
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/bunshop/bunshop-backend/api/responses"
	stripewebhook "github.com/bunshop/bunshop-backend/internal/webhooks/stripe"
	pkgerrors "github.com/bunshop/bunshop-backend/pkg/errors"
	"github.com/bunshop/bunshop-backend/pkg/logger"
)

const maxWebhookBodyBytes = 1 << 16

// StripeController verifies, deduplicates, and dispatches provider events.
type StripeController struct {
	service       *stripewebhook.Service
	guard         *stripewebhook.IdempotencyGuard
	signingSecret string
	logg          *logger.Logger
}

func NewStripeController(service *stripewebhook.Service, guard *stripewebhook.IdempotencyGuard, signingSecret string, logg *logger.Logger) (*StripeController, error) {
	if service == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook service required")
	}
	if signingSecret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "signing secret required")
	}
	return &StripeController{
		service:       service,
		guard:         guard,
		signingSecret: signingSecret,
		logg:          logg,
	}, nil
}

func (c *StripeController) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		responses.WriteError(ctx, c.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "reading webhook payload"))
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), c.signingSecret)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook signature"))
		return
	}

	ctx = c.logg.WithFields(ctx, map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	})

	if c.guard != nil {
		duplicate, err := c.guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, c.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency check failed"))
			return
		}
		if duplicate {
			c.logg.Info(ctx, "duplicate webhook event acknowledged")
			responses.WriteSuccess(w, map[string]string{"received": "duplicate"})
			return
		}
	}

	if err := c.service.HandleEvent(ctx, &event); err != nil {
		// Release the mark so the provider's redelivery can retry.
		if c.guard != nil {
			if delErr := c.guard.Delete(ctx, event.ID); delErr != nil {
				c.logg.Error(ctx, "releasing idempotency mark failed", delErr)
			}
		}
		responses.WriteError(ctx, c.logg, w, err)
		return
	}

	responses.WriteSuccess(w, map[string]string{"received": "ok"})
}
