package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a sellable bakery item. Prices are gross (tax included).
type Product struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name       string          `gorm:"column:name;not null" json:"name"`
	PackSize   *int            `gorm:"column:pack_size" json:"pack_size,omitempty"`
	GrossPrice decimal.Decimal `gorm:"column:gross_price;type:numeric(10,2);not null" json:"gross_price"`
	IsActive   bool            `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the primary key so inserts work on every dialect.
func (p *Product) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// EffectivePackSize resolves the nullable pack size; one unit per pack when unset.
func (p Product) EffectivePackSize() int {
	if p.PackSize == nil || *p.PackSize < 1 {
		return 1
	}
	return *p.PackSize
}
