package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/bunshop/bunshop-backend/api/controllers"
	"github.com/bunshop/bunshop-backend/api/controllers/webhooks"
	"github.com/bunshop/bunshop-backend/api/middleware"
	"github.com/bunshop/bunshop-backend/pkg/logger"
)

// Controllers bundles every HTTP handler group the router mounts.
type Controllers struct {
	Health  *controllers.HealthController
	Catalog *controllers.CatalogController
	Orders  *controllers.OrdersController
	Stripe  *webhooks.StripeController
}

// New assembles the chi router with the shared middleware stack.
func New(logg *logger.Logger, c Controllers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer(logg))
	r.Use(middleware.RequestID(logg))
	r.Use(middleware.Logging(logg))

	r.Get("/health/live", c.Health.Live)
	r.Get("/health/ready", c.Health.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", c.Catalog.ListProducts)
		r.Get("/windows", c.Catalog.ListWindows)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", c.Orders.Create)
			r.Get("/{orderId}", c.Orders.Get)
			r.Post("/{orderId}/session", c.Orders.RetrySession)
		})

		r.Post("/webhooks/stripe", c.Stripe.Handle)
	})

	return r
}
