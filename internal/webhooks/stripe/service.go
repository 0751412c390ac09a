package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/bunshop/bunshop-backend/pkg/db/models"
	pkgerrors "github.com/bunshop/bunshop-backend/pkg/errors"
	"github.com/bunshop/bunshop-backend/pkg/logger"
)

type orderLifecycle interface {
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentIntent string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) (*models.Order, error)
}

type orderResolver interface {
	FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
}

type ServiceParams struct {
	Lifecycle orderLifecycle
	Resolver  orderResolver
	Logger    *logger.Logger
}

// Service reconciles provider events into order state. Events arrive at
// least once and out of order; every path is safe to replay.
type Service struct {
	lifecycle orderLifecycle
	resolver  orderResolver
	logg      *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Lifecycle == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order lifecycle required")
	}
	if params.Resolver == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order resolver required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		lifecycle: params.Lifecycle,
		resolver:  params.Resolver,
		logg:      params.Logger,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithField(ctx, "event_id", event.ID)

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		session, err := decodeSession(event)
		if err != nil {
			return err
		}
		return s.handleCompleted(ctx, session)
	case stripe.EventTypeCheckoutSessionExpired:
		session, err := decodeSession(event)
		if err != nil {
			return err
		}
		return s.handleExpired(ctx, session)
	default:
		// Unsubscribed event types are acknowledged untouched.
		return nil
	}
}

func (s *Service) handleCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	orderID, ok := s.resolveOrderID(ctx, session)
	if !ok {
		return nil
	}

	paymentIntent := ""
	if session.PaymentIntent != nil {
		paymentIntent = session.PaymentIntent.ID
	}

	_, err := s.lifecycle.ConfirmPayment(ctx, orderID, paymentIntent)
	if err != nil {
		typed := pkgerrors.As(err)
		switch {
		case typed != nil && typed.Code() == pkgerrors.CodeStateConflict:
			// Payment landed on a canceled order. Keep the money trail for
			// manual reconciliation; never auto-revive the reservation.
			s.logg.Warn(s.logg.WithOrderID(ctx, orderID.String()),
				"payment completed for a canceled order, left for manual reconciliation")
			return nil
		case typed != nil && typed.Code() == pkgerrors.CodeNotFound:
			s.logg.Warn(ctx, "completed session references unknown order")
			return nil
		default:
			return err
		}
	}
	return nil
}

func (s *Service) handleExpired(ctx context.Context, session *stripe.CheckoutSession) error {
	orderID, ok := s.resolveOrderID(ctx, session)
	if !ok {
		return nil
	}

	_, err := s.lifecycle.CancelOrder(ctx, orderID, "checkout session expired")
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			s.logg.Warn(ctx, "expired session references unknown order")
			return nil
		}
		return err
	}
	return nil
}

// resolveOrderID extracts the order from session metadata, falling back to
// the stored session reference. Unresolvable events are acknowledged so the
// provider stops redelivering them.
func (s *Service) resolveOrderID(ctx context.Context, session *stripe.CheckoutSession) (uuid.UUID, bool) {
	if raw, ok := session.Metadata["order_id"]; ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err == nil {
			return id, true
		}
		s.logg.Warn(s.logg.WithField(ctx, "order_id", raw), "session metadata carries malformed order id")
	}

	if session.ID != "" {
		order, err := s.resolver.FindBySessionID(ctx, session.ID)
		if err == nil {
			return order.ID, true
		}
	}

	s.logg.Warn(ctx, "session event could not be matched to an order, ignoring")
	return uuid.Nil, false
}

func decodeSession(event *stripe.Event) (*stripe.CheckoutSession, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
	}
	return &session, nil
}
