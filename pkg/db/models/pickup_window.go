package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bunshop/bunshop-backend/pkg/enums"
)

// PickupWindow is a dated fulfillment slot with a shared unit capacity.
// Capacity is global across products; demand is measured in units
// (qty x pack size), never in orders.
type PickupWindow struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Date      time.Time        `gorm:"column:date;type:date;not null" json:"date"`
	Kind      enums.WindowKind `gorm:"column:kind;not null" json:"kind"`
	Capacity  int              `gorm:"column:capacity;not null" json:"capacity"`
	CutoffAt  *time.Time       `gorm:"column:cutoff_at" json:"cutoff_at,omitempty"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PickupWindow) TableName() string {
	return "pickup_windows"
}

// BeforeCreate assigns the primary key so inserts work on every dialect.
func (w *PickupWindow) BeforeCreate(_ *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// EffectiveCutoff resolves the ordering deadline. Windows without an explicit
// cutoff close at the given hour (UTC) on the window date.
func (w PickupWindow) EffectiveCutoff(defaultHour int) time.Time {
	if w.CutoffAt != nil {
		return *w.CutoffAt
	}
	d := w.Date.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), defaultHour, 0, 0, 0, time.UTC)
}
