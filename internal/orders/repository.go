package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bunshop/bunshop-backend/pkg/db/models"
	"github.com/bunshop/bunshop-backend/pkg/enums"
	pkgerrors "github.com/bunshop/bunshop-backend/pkg/errors"
)

// Repository wires order persistence helpers.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Create inserts an order together with its items.
func (r *Repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// FindByID loads an order with its items.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	return &order, nil
}

// FindBySessionID resolves an order from its provider session reference.
func (r *Repository) FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&order, "stripe_session_id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	return &order, nil
}

// AttachSession records the provider session on an order after the admission
// transaction committed.
func (r *Repository) AttachSession(ctx context.Context, orderID uuid.UUID, sessionID string, paymentIntent *string) error {
	updates := map[string]any{"stripe_session_id": sessionID}
	if paymentIntent != nil && *paymentIntent != "" {
		updates["stripe_payment_intent"] = *paymentIntent
	}
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

// MarkPaid flips a pending order to paid, clears the hold, and records the
// payment intent. Returns the number of rows transitioned (0 or 1); the guard
// on status makes the statement atomic under concurrent webhooks.
func (r *Repository) MarkPaid(ctx context.Context, orderID uuid.UUID, paymentIntent string) (int64, error) {
	updates := map[string]any{
		"status":     enums.OrderStatusPaid,
		"expires_at": nil,
	}
	if paymentIntent != "" {
		updates["stripe_payment_intent"] = paymentIntent
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, enums.OrderStatusPending).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// MarkCanceled flips a pending order to canceled. Paid and already-canceled
// rows are left untouched.
func (r *Repository) MarkCanceled(ctx context.Context, orderID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, enums.OrderStatusPending).
		Update("status", enums.OrderStatusCanceled)
	return res.RowsAffected, res.Error
}

// CountPendingWithoutSession counts live pending orders created before the
// given instant that never got a provider session attached. A non-zero count
// means the payment handoff keeps failing.
func (r *Repository) CountPendingWithoutSession(ctx context.Context, createdBefore time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("status = ? AND stripe_session_id IS NULL AND created_at < ?", enums.OrderStatusPending, createdBefore.UTC()).
		Where("expires_at IS NULL OR expires_at > ?", createdBefore.UTC()).
		Count(&count).Error
	return count, err
}

// CancelExpiredBefore flips every pending order whose hold lapsed at or
// before the cutoff instant. Capacity reads never waited for this; the sweep
// only settles the rows.
func (r *Repository) CancelExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", enums.OrderStatusPending, cutoff.UTC()).
		Update("status", enums.OrderStatusCanceled)
	return res.RowsAffected, res.Error
}
