package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bunshop/bunshop-backend/pkg/db/models"
	"github.com/bunshop/bunshop-backend/pkg/enums"
	pkgerrors "github.com/bunshop/bunshop-backend/pkg/errors"
	"github.com/bunshop/bunshop-backend/pkg/logger"
)

// Service owns the order lifecycle: pending -> paid, pending -> canceled.
// Both terminal states are absorbing; paid always wins over cancellation.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewService wires the lifecycle service.
func NewService(repo *Repository, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("orders repository is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{repo: repo, logg: logg, now: time.Now}, nil
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ConfirmPayment settles a completed payment on the order. Confirming an
// already-paid order is a no-op; confirming a canceled order is a conflict
// the caller has to decide about (the webhook layer logs and acknowledges).
func (s *Service) ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentIntent string) (*models.Order, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	rows, err := s.repo.MarkPaid(ctx, orderID, paymentIntent)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirming payment")
	}
	if rows == 1 {
		s.logg.Info(ctx, "order confirmed paid")
		return s.repo.FindByID(ctx, orderID)
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case enums.OrderStatusPaid:
		// Duplicate confirmation, nothing to do.
		return order, nil
	case enums.OrderStatusCanceled:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment completed for a canceled order").
			WithDetails(map[string]string{"order_id": orderID.String()})
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order transition raced and resolved to no state")
	}
}

// CancelOrder releases a pending hold. Canceling a canceled order is a no-op;
// canceling a paid order is ignored because payment wins.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) (*models.Order, error) {
	ctx = s.logg.WithField(s.logg.WithOrderID(ctx, orderID.String()), "reason", reason)

	rows, err := s.repo.MarkCanceled(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "canceling order")
	}
	if rows == 1 {
		s.logg.Info(ctx, "order canceled")
	}
	return s.repo.FindByID(ctx, orderID)
}

// ExpireDue cancels every pending order whose hold lapsed. The ledger already
// stopped counting them; this settles the stored status.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	rows, err := s.repo.CancelExpiredBefore(ctx, now)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "expiring due orders")
	}
	if rows > 0 {
		s.logg.Info(s.logg.WithField(ctx, "expired", rows), "expired pending orders swept")
	}
	return rows, nil
}

// GetOrder loads an order for presentation. The reported status accounts for
// a lapsed hold even when the sweep has not settled the row yet.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, enums.OrderStatus, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	return order, order.PresentedStatus(s.now()), nil
}
