package stripewebhook

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/bunshop/bunshop-backend/pkg/db/models"
	pkgerrors "github.com/bunshop/bunshop-backend/pkg/errors"
	"github.com/bunshop/bunshop-backend/pkg/logger"
)

type confirmCall struct {
	orderID uuid.UUID
	intent  string
}

type fakeLifecycle struct {
	confirmed  []confirmCall
	canceled   []uuid.UUID
	confirmErr error
	cancelErr  error
}

func (f *fakeLifecycle) ConfirmPayment(_ context.Context, orderID uuid.UUID, intent string) (*models.Order, error) {
	f.confirmed = append(f.confirmed, confirmCall{orderID: orderID, intent: intent})
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return &models.Order{ID: orderID}, nil
}

func (f *fakeLifecycle) CancelOrder(_ context.Context, orderID uuid.UUID, _ string) (*models.Order, error) {
	f.canceled = append(f.canceled, orderID)
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &models.Order{ID: orderID}, nil
}

type fakeResolver struct {
	bySession map[string]uuid.UUID
}

func (f *fakeResolver) FindBySessionID(_ context.Context, sessionID string) (*models.Order, error) {
	if id, ok := f.bySession[sessionID]; ok {
		return &models.Order{ID: id}, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func newTestService(t *testing.T, lifecycle *fakeLifecycle, resolver *fakeResolver) *Service {
	t.Helper()
	if resolver == nil {
		resolver = &fakeResolver{}
	}
	svc, err := NewService(ServiceParams{
		Lifecycle: lifecycle,
		Resolver:  resolver,
		Logger:    logger.New(logger.Options{ServiceName: "webhook-test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func sessionEvent(t *testing.T, eventType stripe.EventType, session map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestHandleCompletedConfirmsOrder(t *testing.T) {
	t.Parallel()

	lifecycle := &fakeLifecycle{}
	svc := newTestService(t, lifecycle, nil)
	orderID := uuid.New()

	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, map[string]any{
		"id":             "cs_1",
		"payment_intent": "pi_42",
		"metadata":       map[string]string{"order_id": orderID.String()},
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(lifecycle.confirmed) != 1 {
		t.Fatalf("expected 1 confirm, got %d", len(lifecycle.confirmed))
	}
	if lifecycle.confirmed[0].orderID != orderID || lifecycle.confirmed[0].intent != "pi_42" {
		t.Fatalf("unexpected confirm call: %+v", lifecycle.confirmed[0])
	}
}

func TestHandleCompletedSwallowsStateConflict(t *testing.T) {
	t.Parallel()

	lifecycle := &fakeLifecycle{
		confirmErr: pkgerrors.New(pkgerrors.CodeStateConflict, "payment completed for a canceled order"),
	}
	svc := newTestService(t, lifecycle, nil)

	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, map[string]any{
		"id":       "cs_1",
		"metadata": map[string]string{"order_id": uuid.NewString()},
	})

	// The provider must get a 2xx; the conflict is an operator concern.
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("conflict not swallowed: %v", err)
	}
}

func TestHandleCompletedFallsBackToSessionLookup(t *testing.T) {
	t.Parallel()

	orderID := uuid.New()
	lifecycle := &fakeLifecycle{}
	resolver := &fakeResolver{bySession: map[string]uuid.UUID{"cs_known": orderID}}
	svc := newTestService(t, lifecycle, resolver)

	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, map[string]any{
		"id": "cs_known",
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(lifecycle.confirmed) != 1 || lifecycle.confirmed[0].orderID != orderID {
		t.Fatalf("session lookup fallback failed: %+v", lifecycle.confirmed)
	}
}

func TestHandleUnresolvableSessionIsAcknowledged(t *testing.T) {
	t.Parallel()

	lifecycle := &fakeLifecycle{}
	svc := newTestService(t, lifecycle, nil)

	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, map[string]any{
		"id": "cs_unknown",
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(lifecycle.confirmed) != 0 {
		t.Fatalf("unexpected confirm calls: %+v", lifecycle.confirmed)
	}
}

func TestHandleExpiredCancelsOrder(t *testing.T) {
	t.Parallel()

	lifecycle := &fakeLifecycle{}
	svc := newTestService(t, lifecycle, nil)
	orderID := uuid.New()

	event := sessionEvent(t, stripe.EventTypeCheckoutSessionExpired, map[string]any{
		"id":       "cs_1",
		"metadata": map[string]string{"order_id": orderID.String()},
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(lifecycle.canceled) != 1 || lifecycle.canceled[0] != orderID {
		t.Fatalf("unexpected cancel calls: %+v", lifecycle.canceled)
	}
}

func TestHandleUnknownEventTypeIsNoOp(t *testing.T) {
	t.Parallel()

	lifecycle := &fakeLifecycle{}
	svc := newTestService(t, lifecycle, nil)

	event := sessionEvent(t, stripe.EventType("payment_intent.created"), map[string]any{"id": "pi_1"})
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(lifecycle.confirmed)+len(lifecycle.canceled) != 0 {
		t.Fatal("unexpected lifecycle calls for unsubscribed event")
	}
}

type fakeIdemStore struct {
	keys map[string]bool
}

func (f *fakeIdemStore) Get(_ context.Context, key string) (string, error) {
	if f.keys[key] {
		return "1", nil
	}
	return "", nil
}

func (f *fakeIdemStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeIdemStore) IdempotencyKey(scope, id string) string {
	return "bunshop:idempotency:" + scope + ":" + id
}

func (f *fakeIdemStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func TestIdempotencyGuardMarksAndReleases(t *testing.T) {
	t.Parallel()

	guard, err := NewIdempotencyGuard(&fakeIdemStore{}, time.Hour, "stripe")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	ctx := context.Background()

	dup, err := guard.CheckAndMark(ctx, "evt_1")
	if err != nil || dup {
		t.Fatalf("first delivery flagged duplicate: dup=%v err=%v", dup, err)
	}
	dup, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil || !dup {
		t.Fatalf("redelivery not flagged: dup=%v err=%v", dup, err)
	}

	// A failed handler releases the mark so redelivery can retry.
	if err := guard.Delete(ctx, "evt_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	dup, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil || dup {
		t.Fatalf("released mark still flagged: dup=%v err=%v", dup, err)
	}
}
