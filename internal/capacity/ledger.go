package capacity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bunshop/bunshop-backend/pkg/db/models"
	pkgerrors "github.com/bunshop/bunshop-backend/pkg/errors"
)

// Availability is the derived capacity position of one pickup window at an
// instant. Remaining is clamped at zero; Clamped records that the raw value
// went negative, which points at a serialization bug upstream.
type Availability struct {
	WindowID  uuid.UUID `json:"window_id"`
	Capacity  int       `json:"capacity"`
	Committed int       `json:"committed"`
	Remaining int       `json:"remaining"`
	Clamped   bool      `json:"-"`
}

// committedUnitsQuery sums reserved units (qty x pack size) over orders that
// still hold capacity: paid, or pending with an unexpired hold. Expired
// pending orders fall out of the sum immediately, before any sweep runs.
const committedUnitsQuery = `
SELECT COALESCE(SUM(oi.qty * COALESCE(p.pack_size, 1)), 0)
FROM orders o
JOIN order_items oi ON oi.order_id = o.id
JOIN products p ON p.id = oi.product_id
WHERE o.pickup_window_id = ?
  AND o.status IN ('pending', 'paid')
  AND (o.expires_at IS NULL OR o.expires_at > ?)
`

// Ledger computes remaining capacity from the order book. There is no stored
// counter to drift; every read derives the position from committed demand.
type Ledger struct{}

// NewLedger constructs a capacity ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Remaining derives the availability of a window at the given instant. Run it
// on the bare connection for advisory listings, or on a transaction holding
// the window row lock for an authoritative admission check.
func (l *Ledger) Remaining(ctx context.Context, db *gorm.DB, windowID uuid.UUID, now time.Time) (Availability, error) {
	if db == nil {
		return Availability{}, errors.New("db is required")
	}

	var window models.PickupWindow
	if err := db.WithContext(ctx).First(&window, "id = ?", windowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Availability{}, pkgerrors.New(pkgerrors.CodeNotFound, "pickup window not found")
		}
		return Availability{}, err
	}

	var committed int
	err := db.WithContext(ctx).
		Raw(committedUnitsQuery, windowID, now.UTC()).
		Scan(&committed).Error
	if err != nil {
		return Availability{}, err
	}

	avail := Availability{
		WindowID:  windowID,
		Capacity:  window.Capacity,
		Committed: committed,
		Remaining: window.Capacity - committed,
	}
	if avail.Remaining < 0 {
		avail.Remaining = 0
		avail.Clamped = true
	}
	return avail, nil
}
