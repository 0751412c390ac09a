package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bunshop/bunshop-backend/pkg/db/models"
	pkgerrors "github.com/bunshop/bunshop-backend/pkg/errors"
)

// Repository exposes read access to the product catalog and pickup windows.
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

// FindActiveProduct loads a product that is still orderable.
func (r *Repository) FindActiveProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		First(&product, "id = ? AND is_active = ?", id, true).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, err
	}
	return &product, nil
}

// FindProduct loads a product regardless of its active flag. Existing orders
// keep referencing products that were deactivated after the sale.
func (r *Repository) FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, err
	}
	return &product, nil
}

// FindWindow loads a pickup window by id.
func (r *Repository) FindWindow(ctx context.Context, id uuid.UUID) (*models.PickupWindow, error) {
	var window models.PickupWindow
	err := r.db.WithContext(ctx).First(&window, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "pickup window not found")
		}
		return nil, err
	}
	return &window, nil
}

// ListActiveProducts returns every orderable product, oldest first.
func (r *Repository) ListActiveProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// ListWindowsFrom returns windows dated on or after the given day, soonest
// first. Cutoff filtering happens in the service, which knows the default
// cutoff hour for windows without an explicit one.
func (r *Repository) ListWindowsFrom(ctx context.Context, day time.Time) ([]models.PickupWindow, error) {
	var windows []models.PickupWindow
	err := r.db.WithContext(ctx).
		Where("date >= ?", day.UTC().Truncate(24*time.Hour)).
		Order("date ASC, kind ASC").
		Find(&windows).Error
	if err != nil {
		return nil, err
	}
	return windows, nil
}
