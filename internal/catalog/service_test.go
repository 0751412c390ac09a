package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bunshop/bunshop-backend/internal/capacity"
	"github.com/bunshop/bunshop-backend/pkg/config"
	"github.com/bunshop/bunshop-backend/pkg/db"
	"github.com/bunshop/bunshop-backend/pkg/db/models"
	"github.com/bunshop/bunshop-backend/pkg/enums"
	pkgerrors "github.com/bunshop/bunshop-backend/pkg/errors"
)

func TestFindActiveProductFiltersInactive(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	active := seedProduct(t, conn, true)
	inactive := seedProduct(t, conn, false)

	got, err := repo.FindActiveProduct(ctx, active.ID)
	require.NoError(t, err)
	require.Equal(t, active.ID, got.ID)

	_, err = repo.FindActiveProduct(ctx, inactive.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())

	// The unfiltered lookup still resolves retired products.
	got, err = repo.FindProduct(ctx, inactive.ID)
	require.NoError(t, err)
	require.Equal(t, inactive.ID, got.ID)
}

func TestListOpenWindowsFiltersByCutoff(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	// Default cutoff hour is 12; a window dated today is already closed,
	// tomorrow's is open.
	seedWindow(t, conn, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), enums.WindowKindPickup, nil)
	open := seedWindow(t, conn, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), enums.WindowKindPickup, nil)

	// An explicit cutoff overrides the default hour.
	explicit := now.Add(2 * time.Hour)
	openExplicit := seedWindow(t, conn, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), enums.WindowKindShipping, &explicit)

	svc, err := NewService(db.FromGorm(conn), NewRepository(conn), capacity.NewLedger(),
		config.ReservationConfig{PendingTTLMinutes: 20, DefaultCutoffHour: 12})
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	windows, err := svc.ListOpenWindows(context.Background())
	require.NoError(t, err)
	require.Len(t, windows, 2)

	ids := map[uuid.UUID]int{}
	for _, w := range windows {
		ids[w.ID] = w.Remaining
	}
	require.Contains(t, ids, open.ID)
	require.Contains(t, ids, openExplicit.ID)
	require.Equal(t, 20, ids[open.ID])
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:catalog_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Product{}, &models.PickupWindow{}, &models.Order{}, &models.OrderItem{}))
	return conn
}

func seedProduct(t *testing.T, conn *gorm.DB, active bool) *models.Product {
	t.Helper()
	product := models.Product{
		Name:       "sourdough loaf",
		GrossPrice: decimal.RequireFromString("18.50"),
		IsActive:   active,
	}
	require.NoError(t, conn.Create(&product).Error)
	return &product
}

func seedWindow(t *testing.T, conn *gorm.DB, date time.Time, kind enums.WindowKind, cutoffAt *time.Time) *models.PickupWindow {
	t.Helper()
	window := models.PickupWindow{
		Date:     date,
		Kind:     kind,
		Capacity: 20,
		CutoffAt: cutoffAt,
	}
	require.NoError(t, conn.Create(&window).Error)
	return &window
}
