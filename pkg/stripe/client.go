package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stripe/stripe-go/v84"

	"github.com/bunshop/bunshop-backend/pkg/config"
	"github.com/bunshop/bunshop-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client wraps Stripe's API client plus env-specific metadata.
type Client struct {
	api            *stripe.Client
	environment    string
	signingSecret  string
	currency       string
	successURL     string
	cancelURL      string
	sessionTimeout time.Duration
	sessionRetries uint64
}

// NewClient initializes Stripe once with the configured secrets and env.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	signingSecret := strings.TrimSpace(cfg.Secret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}

	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	api := stripe.NewClient(apiKey)
	stripe.Key = apiKey

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))
	}

	return &Client{
		api:            api,
		environment:    env,
		signingSecret:  signingSecret,
		currency:       strings.ToLower(strings.TrimSpace(cfg.Currency)),
		successURL:     cfg.SuccessURL,
		cancelURL:      cfg.CancelURL,
		sessionTimeout: cfg.SessionTimeout,
		sessionRetries: cfg.SessionRetries,
	}, nil
}

// API returns the underlying Stripe API client.
func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// CheckoutSessionInput carries everything needed to build a payment-mode
// Checkout Session for a single reserved order.
type CheckoutSessionInput struct {
	OrderID       string
	WindowID      string
	PickupDate    string
	WindowKind    string
	CustomerEmail string
	ProductName   string
	QtyPacks      int64
	UnitAmount    int64 // minor units (cents) per pack
}

// CheckoutSession is the subset of the provider response the caller persists.
type CheckoutSession struct {
	ID            string
	URL           string
	PaymentIntent string
}

// IdempotencyKeyForOrder derives the session idempotency key so retries for
// the same order always hit the same provider-side session.
func IdempotencyKeyForOrder(orderID string) string {
	return "order_" + orderID
}

// CreateCheckoutSession creates a Checkout Session under a bounded retry
// policy. Each attempt runs under its own timeout; the idempotency key keeps
// repeated attempts from minting duplicate sessions.
func (c *Client) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error) {
	if c == nil || c.api == nil {
		return nil, errors.New("stripe client not initialized")
	}
	if in.OrderID == "" {
		return nil, errors.New("order id is required")
	}
	if in.QtyPacks <= 0 {
		return nil, errors.New("quantity must be positive")
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:    stripe.String(c.successURL),
		CancelURL:     stripe.String(c.cancelURL),
		CustomerEmail: stripe.String(in.CustomerEmail),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(c.currency),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(in.ProductName),
					},
					UnitAmount: stripe.Int64(in.UnitAmount),
				},
				Quantity: stripe.Int64(in.QtyPacks),
			},
		},
	}
	params.SetIdempotencyKey(IdempotencyKeyForOrder(in.OrderID))
	params.AddMetadata("order_id", in.OrderID)
	params.AddMetadata("pickup_window_id", in.WindowID)
	params.AddMetadata("pickup_date", in.PickupDate)
	params.AddMetadata("kind", in.WindowKind)

	var session *stripe.CheckoutSession
	backoff := retry.WithMaxRetries(c.sessionRetries, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx := ctx
		if c.sessionTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.sessionTimeout)
			defer cancel()
		}
		created, err := c.api.V1CheckoutSessions.Create(attemptCtx, params)
		if err != nil {
			return retry.RetryableError(err)
		}
		session = created
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating checkout session: %w", err)
	}

	result := &CheckoutSession{ID: session.ID, URL: session.URL}
	if session.PaymentIntent != nil {
		result.PaymentIntent = session.PaymentIntent.ID
	}
	return result, nil
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
