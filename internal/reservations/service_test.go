package reservations

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

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
)

type fakeGateway struct {
	calls []stripe.CheckoutSessionInput
	fail  bool
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, in stripe.CheckoutSessionInput) (*stripe.CheckoutSession, error) {
	f.calls = append(f.calls, in)
	if f.fail {
		return nil, errors.New("provider unreachable")
	}
	return &stripe.CheckoutSession{
		ID:  "cs_" + in.OrderID,
		URL: "https://checkout.example/" + in.OrderID,
	}, nil
}

func TestReserveExactFill(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	window := f.seedWindow(t, 20, nil)
	product := f.seedProduct(t, 10, "49.00", true)

	for i := 0; i < 2; i++ {
		result, err := f.svc.Reserve(ctx, ReserveInput{
			CustomerEmail: "buyer@example.com",
			ProductID:     product.ID,
			WindowID:      window.ID,
			QtyPacks:      1,
		})
		if err != nil {
			t.Fatalf("reserve %d: %v", i+1, err)
		}
		if result.Order.Status != enums.OrderStatusPending {
			t.Fatalf("unexpected status: %s", result.Order.Status)
		}
		if result.CheckoutURL == "" {
			t.Fatalf("reserve %d: missing checkout url", i+1)
		}
	}

	_, err := f.svc.Reserve(ctx, ReserveInput{
		CustomerEmail: "late@example.com",
		ProductID:     product.ID,
		WindowID:      window.ID,
		QtyPacks:      1,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeCapacity {
		t.Fatalf("third reservation: unexpected error %v", err)
	}

	// The rejected attempt must leave no residue.
	var orderCount, itemCount int64
	if err := f.conn.Model(&models.Order{}).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if err := f.conn.Model(&models.OrderItem{}).Count(&itemCount).Error; err != nil {
		t.Fatalf("count items: %v", err)
	}
	if orderCount != 2 || itemCount != 2 {
		t.Fatalf("rejected reservation left residue: orders=%d items=%d", orderCount, itemCount)
	}
}

func TestReserveAfterCutoff(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cutoff := f.now.Add(-time.Hour)
	window := f.seedWindow(t, 20, &cutoff)
	product := f.seedProduct(t, 10, "49.00", true)

	_, err := f.svc.Reserve(context.Background(), ReserveInput{
		CustomerEmail: "buyer@example.com",
		ProductID:     product.ID,
		WindowID:      window.ID,
		QtyPacks:      1,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeCutoffPassed {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReserveInactiveProduct(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	window := f.seedWindow(t, 20, nil)
	product := f.seedProduct(t, 10, "49.00", false)

	_, err := f.svc.Reserve(context.Background(), ReserveInput{
		CustomerEmail: "buyer@example.com",
		ProductID:     product.ID,
		WindowID:      window.ID,
		QtyPacks:      1,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReserveSnapshotsPriceAndHold(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	window := f.seedWindow(t, 20, nil)
	product := f.seedProduct(t, 10, "49.00", true)

	result, err := f.svc.Reserve(ctx, ReserveInput{
		CustomerEmail: "buyer@example.com",
		ProductID:     product.ID,
		WindowID:      window.ID,
		QtyPacks:      1,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	wantExpiry := f.now.Add(20 * time.Minute)
	if result.Order.ExpiresAt == nil || !result.Order.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("unexpected hold: %v", result.Order.ExpiresAt)
	}

	// Catalog price changes must not touch the committed snapshot.
	if err := f.conn.Model(&models.Product{}).
		Where("id = ?", product.ID).
		Update("gross_price", decimal.RequireFromString("59.00")).Error; err != nil {
		t.Fatalf("reprice product: %v", err)
	}
	var item models.OrderItem
	if err := f.conn.First(&item, "order_id = ?", result.Order.ID).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if !item.UnitPrice.Equal(decimal.RequireFromString("49.00")) {
		t.Fatalf("price snapshot changed: %s", item.UnitPrice)
	}
}

func TestReserveReusesLapsedHoldCapacity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	window := f.seedWindow(t, 10, nil)
	product := f.seedProduct(t, 10, "49.00", true)

	lapsed := f.now.Add(-time.Minute)
	stale := models.Order{
		Status:         enums.OrderStatusPending,
		CustomerEmail:  "ghost@example.com",
		PickupWindowID: window.ID,
		ExpiresAt:      &lapsed,
		Items: []models.OrderItem{
			{ProductID: product.ID, Qty: 1, UnitPrice: decimal.RequireFromString("49.00")},
		},
	}
	if err := f.conn.Create(&stale).Error; err != nil {
		t.Fatalf("seed stale order: %v", err)
	}

	// No sweep ran; the lapsed hold must not block admission.
	if _, err := f.svc.Reserve(ctx, ReserveInput{
		CustomerEmail: "buyer@example.com",
		ProductID:     product.ID,
		WindowID:      window.ID,
		QtyPacks:      1,
	}); err != nil {
		t.Fatalf("reserve against lapsed hold: %v", err)
	}
}

func TestReserveSurvivesGatewayFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gateway.fail = true
	ctx := context.Background()
	window := f.seedWindow(t, 20, nil)
	product := f.seedProduct(t, 10, "49.00", true)

	result, err := f.svc.Reserve(ctx, ReserveInput{
		CustomerEmail: "buyer@example.com",
		ProductID:     product.ID,
		WindowID:      window.ID,
		QtyPacks:      1,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if result.CheckoutURL != "" {
		t.Fatal("gateway failed but a checkout url was returned")
	}
	if result.Order.Status != enums.OrderStatusPending {
		t.Fatalf("order not left pending: %s", result.Order.Status)
	}

	// The retry goes out with the same order-derived idempotency scope.
	f.gateway.fail = false
	retried, err := f.svc.RetrySession(ctx, result.Order.ID)
	if err != nil {
		t.Fatalf("retry session: %v", err)
	}
	if retried.CheckoutURL == "" {
		t.Fatal("retry returned no checkout url")
	}
	if len(f.gateway.calls) != 2 || f.gateway.calls[0].OrderID != f.gateway.calls[1].OrderID {
		t.Fatalf("retry used a different order id: %+v", f.gateway.calls)
	}

	var reloaded models.Order
	if err := f.conn.First(&reloaded, "id = ?", result.Order.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.StripeSessionID == nil {
		t.Fatal("session id not attached after retry")
	}
}

func TestRetrySessionRejectsSettledOrders(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	window := f.seedWindow(t, 20, nil)
	product := f.seedProduct(t, 10, "49.00", true)

	order := models.Order{
		Status:         enums.OrderStatusPaid,
		CustomerEmail:  "buyer@example.com",
		PickupWindowID: window.ID,
		Items: []models.OrderItem{
			{ProductID: product.ID, Qty: 1, UnitPrice: decimal.RequireFromString("49.00")},
		},
	}
	if err := f.conn.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	_, err := f.svc.RetrySession(context.Background(), order.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("unexpected error: %v", err)
	}
}

type fixture struct {
	conn    *gorm.DB
	svc     *Service
	gateway *fakeGateway
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := "file:reservations_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&models.Product{}, &models.PickupWindow{}, &models.Order{}, &models.OrderItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "reservations-test", Output: io.Discard})
	gateway := &fakeGateway{}
	cfg := config.ReservationConfig{PendingTTLMinutes: 20, DefaultCutoffHour: 12}

	svc, err := NewService(
		db.FromGorm(conn),
		catalog.NewRepository(conn),
		orders.NewRepository(conn),
		capacity.NewLedger(),
		gateway,
		logg,
		cfg,
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return now })

	return &fixture{conn: conn, svc: svc, gateway: gateway, now: now}
}

func (f *fixture) seedWindow(t *testing.T, capacity int, cutoffAt *time.Time) *models.PickupWindow {
	t.Helper()
	window := models.PickupWindow{
		Date:     time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		Kind:     enums.WindowKindPickup,
		Capacity: capacity,
		CutoffAt: cutoffAt,
	}
	if err := f.conn.Create(&window).Error; err != nil {
		t.Fatalf("seed window: %v", err)
	}
	return &window
}

func (f *fixture) seedProduct(t *testing.T, packSize int, price string, active bool) *models.Product {
	t.Helper()
	product := models.Product{
		Name:       "cinnamon bun box",
		PackSize:   &packSize,
		GrossPrice: decimal.RequireFromString(price),
		IsActive:   active,
	}
	if err := f.conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return &product
}
