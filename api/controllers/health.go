package controllers

import (
	"net/http"

	"github.com/bunshop/bunshop-backend/api/responses"
	"github.com/bunshop/bunshop-backend/pkg/db"
	pkgerrors "github.com/bunshop/bunshop-backend/pkg/errors"
	"github.com/bunshop/bunshop-backend/pkg/logger"
	"github.com/bunshop/bunshop-backend/pkg/redis"
)

// HealthController answers liveness and readiness probes.
type HealthController struct {
	db    db.Pinger
	redis redis.Pinger
	logg  *logger.Logger
}

func NewHealthController(dbPinger db.Pinger, redisPinger redis.Pinger, logg *logger.Logger) *HealthController {
	return &HealthController{db: dbPinger, redis: redisPinger, logg: logg}
}

func (c *HealthController) Live(w http.ResponseWriter, r *http.Request) {
	responses.WriteSuccess(w, map[string]string{"status": "ok"})
}

func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if c.db != nil {
		if err := c.db.Ping(ctx); err != nil {
			responses.WriteError(ctx, c.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unreachable"))
			return
		}
	}
	if c.redis != nil {
		if err := c.redis.Ping(ctx); err != nil {
			responses.WriteError(ctx, c.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis unreachable"))
			return
		}
	}

	responses.WriteSuccess(w, map[string]string{"status": "ready"})
}
