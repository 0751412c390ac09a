package controllers

import (
	"net/http"

	"github.com/bunshop/bunshop-backend/api/responses"
	"github.com/bunshop/bunshop-backend/internal/catalog"
	"github.com/bunshop/bunshop-backend/pkg/logger"
)

// CatalogController serves the public product and window listings.
type CatalogController struct {
	catalog *catalog.Service
	logg    *logger.Logger
}

func NewCatalogController(svc *catalog.Service, logg *logger.Logger) *CatalogController {
	return &CatalogController{catalog: svc, logg: logg}
}

func (c *CatalogController) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	products, err := c.catalog.ListProducts(ctx)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, map[string]any{"products": products})
}

func (c *CatalogController) ListWindows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	windows, err := c.catalog.ListOpenWindows(ctx)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, map[string]any{"windows": windows})
}
