package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bunshop/bunshop-backend/pkg/enums"
	"github.com/bunshop/bunshop-backend/pkg/types"
)

// Order is a capacity reservation against a pickup window. A pending order
// holds capacity until expires_at; paid orders hold it indefinitely.
type Order struct {
	ID                  uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Status              enums.OrderStatus      `gorm:"column:status;not null;default:pending" json:"status"`
	CustomerEmail       string                 `gorm:"column:customer_email;not null" json:"customer_email"`
	ShippingAddress     *types.ShippingAddress `gorm:"column:shipping_address;type:jsonb" json:"shipping_address,omitempty"`
	PickupWindowID      uuid.UUID              `gorm:"column:pickup_window_id;type:uuid;not null" json:"pickup_window_id"`
	Notes               *string                `gorm:"column:notes" json:"notes,omitempty"`
	StripeSessionID     *string                `gorm:"column:stripe_session_id" json:"stripe_session_id,omitempty"`
	StripePaymentIntent *string                `gorm:"column:stripe_payment_intent" json:"stripe_payment_intent,omitempty"`
	ExpiresAt           *time.Time             `gorm:"column:expires_at" json:"expires_at,omitempty"`
	Items               []OrderItem            `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	CreatedAt           time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the primary key so inserts work on every dialect.
func (o *Order) BeforeCreate(_ *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// IsExpired reports whether a pending hold has lapsed at the given instant.
func (o Order) IsExpired(now time.Time) bool {
	return o.Status == enums.OrderStatusPending &&
		o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// PresentedStatus is the externally visible status. A pending order past its
// hold reads as canceled even before the sweep flips the row.
func (o Order) PresentedStatus(now time.Time) enums.OrderStatus {
	if o.IsExpired(now) {
		return enums.OrderStatusCanceled
	}
	return o.Status
}
