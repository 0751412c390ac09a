package reservations

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bunshop/bunshop-backend/internal/capacity"
	"github.com/bunshop/bunshop-backend/internal/catalog"
	"github.com/bunshop/bunshop-backend/internal/orders"
	"github.com/bunshop/bunshop-backend/pkg/config"
	"github.com/bunshop/bunshop-backend/pkg/db"
	"github.com/bunshop/bunshop-backend/pkg/db/models"
	"github.com/bunshop/bunshop-backend/pkg/enums"
	pkgerrors "github.com/bunshop/bunshop-backend/pkg/errors"
	"github.com/bunshop/bunshop-backend/pkg/logger"
	"github.com/bunshop/bunshop-backend/pkg/stripe"
	"github.com/bunshop/bunshop-backend/pkg/types"
)

// PaymentGateway creates provider checkout sessions for committed orders.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, in stripe.CheckoutSessionInput) (*stripe.CheckoutSession, error)
}

// ReserveInput is a validated reservation request.
type ReserveInput struct {
	CustomerEmail   string
	ProductID       uuid.UUID
	WindowID        uuid.UUID
	QtyPacks        int
	Notes           *string
	ShippingAddress *types.ShippingAddress
}

// ReservationResult carries the committed order plus the checkout handoff.
// CheckoutURL is empty when the provider call failed; the order stays pending
// and the session can be retried.
type ReservationResult struct {
	Order       *models.Order
	CheckoutURL string
}

// Service runs the admission transaction and the post-commit payment handoff.
type Service struct {
	dbClient *db.Client
	catalog  *catalog.Repository
	orders   *orders.Repository
	ledger   *capacity.Ledger
	gateway  PaymentGateway
	logg     *logger.Logger
	cfg      config.ReservationConfig
	now      func() time.Time
}

// NewService wires the reservation service.
func NewService(
	dbClient *db.Client,
	catalogRepo *catalog.Repository,
	ordersRepo *orders.Repository,
	ledger *capacity.Ledger,
	gateway PaymentGateway,
	logg *logger.Logger,
	cfg config.ReservationConfig,
) (*Service, error) {
	if dbClient == nil {
		return nil, errors.New("db client is required")
	}
	if catalogRepo == nil {
		return nil, errors.New("catalog repository is required")
	}
	if ordersRepo == nil {
		return nil, errors.New("orders repository is required")
	}
	if ledger == nil {
		return nil, errors.New("capacity ledger is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		dbClient: dbClient,
		catalog:  catalogRepo,
		orders:   ordersRepo,
		ledger:   ledger,
		gateway:  gateway,
		logg:     logg,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Reserve admits or rejects a reservation atomically, then hands the
// committed order to the payment provider. The provider is never called while
// the window row is locked.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (*ReservationResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	ctx = s.logg.WithWindowID(ctx, in.WindowID.String())

	product, err := s.catalog.FindActiveProduct(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	window, err := s.catalog.FindWindow(ctx, in.WindowID)
	if err != nil {
		return nil, err
	}

	cutoff := window.EffectiveCutoff(s.cfg.DefaultCutoffHour)
	if !now.Before(cutoff) {
		return nil, pkgerrors.New(pkgerrors.CodeCutoffPassed, "ordering for this window has closed").
			WithDetails(map[string]string{"cutoff_at": cutoff.Format(time.RFC3339)})
	}

	required := in.QtyPacks * product.EffectivePackSize()
	expiresAt := now.Add(s.cfg.PendingTTL())

	order := &models.Order{
		Status:          enums.OrderStatusPending,
		CustomerEmail:   in.CustomerEmail,
		ShippingAddress: in.ShippingAddress,
		PickupWindowID:  window.ID,
		Notes:           in.Notes,
		ExpiresAt:       &expiresAt,
		Items: []models.OrderItem{
			{
				ProductID: product.ID,
				Qty:       in.QtyPacks,
				UnitPrice: product.GrossPrice,
			},
		},
	}

	err = s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		if err := lockWindow(ctx, tx, window.ID); err != nil {
			return err
		}
		avail, err := s.ledger.Remaining(ctx, tx, window.ID, now)
		if err != nil {
			return err
		}
		if avail.Remaining < required {
			return pkgerrors.New(pkgerrors.CodeCapacity, "not enough capacity left in this window").
				WithDetails(map[string]int{
					"requested_units": required,
					"remaining_units": avail.Remaining,
				})
		}
		return s.orders.WithTx(tx).Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	s.logg.Info(ctx, "reservation committed")

	result := &ReservationResult{Order: order}
	result.CheckoutURL = s.createSession(ctx, order, product, window)
	return result, nil
}

// RetrySession re-attempts the provider handoff for a pending order. The
// idempotency key is derived from the order id, so the provider returns the
// original session instead of minting a second one.
func (s *Service) RetrySession(ctx context.Context, orderID uuid.UUID) (*ReservationResult, error) {
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if order.Status != enums.OrderStatusPending || order.IsExpired(now) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order no longer accepts payment").
			WithDetails(map[string]string{"status": order.PresentedStatus(now).String()})
	}
	if len(order.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order has no items")
	}

	product, err := s.catalog.FindProduct(ctx, order.Items[0].ProductID)
	if err != nil {
		return nil, err
	}
	window, err := s.catalog.FindWindow(ctx, order.PickupWindowID)
	if err != nil {
		return nil, err
	}

	result := &ReservationResult{Order: order}
	result.CheckoutURL = s.createSession(ctx, order, product, window)
	if result.CheckoutURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment provider unavailable, try again later")
	}
	return result, nil
}

// createSession calls the provider after the reservation is durable. Failure
// is logged and swallowed: the order stays pending and retriable.
func (s *Service) createSession(ctx context.Context, order *models.Order, product *models.Product, window *models.PickupWindow) string {
	if s.gateway == nil {
		return ""
	}

	item := order.Items[0]
	session, err := s.gateway.CreateCheckoutSession(ctx, stripe.CheckoutSessionInput{
		OrderID:       order.ID.String(),
		WindowID:      window.ID.String(),
		PickupDate:    window.Date.UTC().Format("2006-01-02"),
		WindowKind:    window.Kind.String(),
		CustomerEmail: order.CustomerEmail,
		ProductName:   product.Name,
		QtyPacks:      int64(item.Qty),
		UnitAmount:    item.UnitPrice.Mul(decimal.NewFromInt(100)).IntPart(),
	})
	if err != nil {
		s.logg.Error(ctx, "checkout session creation failed, order stays pending", err)
		return ""
	}

	var intent *string
	if session.PaymentIntent != "" {
		intent = &session.PaymentIntent
	}
	if err := s.orders.AttachSession(ctx, order.ID, session.ID, intent); err != nil {
		s.logg.Error(ctx, "attaching checkout session failed", err)
	} else {
		order.StripeSessionID = &session.ID
		order.StripePaymentIntent = intent
	}
	return session.URL
}

func validateInput(in ReserveInput) error {
	if strings.TrimSpace(in.CustomerEmail) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}
	if in.QtyPacks < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1 pack")
	}
	if in.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if in.WindowID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "pickup window id is required")
	}
	if in.ShippingAddress != nil {
		if err := in.ShippingAddress.Validate(); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
		}
	}
	return nil
}

// lockWindow takes the per-window row lock that serializes admissions.
// SQLite has a single writer and rejects FOR UPDATE, so the clause is only
// added on Postgres.
func lockWindow(ctx context.Context, tx *gorm.DB, windowID uuid.UUID) error {
	q := tx.WithContext(ctx)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var window models.PickupWindow
	return q.First(&window, "id = ?", windowID).Error
}
