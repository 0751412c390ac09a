package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bunshop/bunshop-backend/api/responses"
	"github.com/bunshop/bunshop-backend/api/validators"
	"github.com/bunshop/bunshop-backend/internal/orders"
	"github.com/bunshop/bunshop-backend/internal/reservations"
	"github.com/bunshop/bunshop-backend/pkg/db/models"
	"github.com/bunshop/bunshop-backend/pkg/enums"
	pkgerrors "github.com/bunshop/bunshop-backend/pkg/errors"
	"github.com/bunshop/bunshop-backend/pkg/logger"
	"github.com/bunshop/bunshop-backend/pkg/types"
)

// OrdersController exposes reservation placement and order lookups.
type OrdersController struct {
	reservations *reservations.Service
	orders       *orders.Service
	logg         *logger.Logger
}

func NewOrdersController(res *reservations.Service, ord *orders.Service, logg *logger.Logger) *OrdersController {
	return &OrdersController{reservations: res, orders: ord, logg: logg}
}

type createOrderRequest struct {
	CustomerEmail   string                 `json:"email" validate:"required,email"`
	ProductID       string                 `json:"product_id" validate:"required,uuid"`
	PickupWindowID  string                 `json:"pickup_window_id" validate:"required,uuid"`
	QtyPacks        int                    `json:"qty_packs" validate:"required,min=1"`
	Notes           *string                `json:"notes,omitempty" validate:"omitempty,max=500"`
	ShippingAddress *types.ShippingAddress `json:"shipping_address,omitempty"`
}

type orderItemView struct {
	ProductID string          `json:"product_id"`
	QtyPacks  int             `json:"qty_packs"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type orderView struct {
	OrderID     string          `json:"order_id"`
	Status      string          `json:"status"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	WindowID    string          `json:"pickup_window_id"`
	Items       []orderItemView `json:"items,omitempty"`
	CheckoutURL string          `json:"checkout_url,omitempty"`
}

func (c *OrdersController) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createOrderRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}

	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product_id must be a valid uuid"))
		return
	}
	windowID, err := uuid.Parse(req.PickupWindowID)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "pickup_window_id must be a valid uuid"))
		return
	}

	result, err := c.reservations.Reserve(ctx, reservations.ReserveInput{
		CustomerEmail:   req.CustomerEmail,
		ProductID:       productID,
		WindowID:        windowID,
		QtyPacks:        req.QtyPacks,
		Notes:           req.Notes,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}

	view := presentOrder(result.Order, result.Order.Status)
	view.CheckoutURL = result.CheckoutURL
	responses.WriteSuccessStatus(w, http.StatusCreated, view)
}

func (c *OrdersController) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, err := parseOrderID(r)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}

	order, status, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, presentOrder(order, status))
}

// RetrySession re-attempts the payment handoff for a pending order whose
// first checkout session creation failed.
func (c *OrdersController) RetrySession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, err := parseOrderID(r)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}

	result, err := c.reservations.RetrySession(ctx, orderID)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}

	view := presentOrder(result.Order, result.Order.Status)
	view.CheckoutURL = result.CheckoutURL
	responses.WriteSuccess(w, view)
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "orderId")
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id must be a valid uuid")
	}
	return orderID, nil
}

func presentOrder(order *models.Order, status enums.OrderStatus) orderView {
	view := orderView{
		OrderID:   order.ID.String(),
		Status:    status.String(),
		ExpiresAt: order.ExpiresAt,
		WindowID:  order.PickupWindowID.String(),
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, orderItemView{
			ProductID: item.ProductID.String(),
			QtyPacks:  item.Qty,
			UnitPrice: item.UnitPrice,
		})
	}
	return view
}
