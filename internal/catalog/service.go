package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/bunshop/bunshop-backend/internal/capacity"
	"github.com/bunshop/bunshop-backend/pkg/config"
	"github.com/bunshop/bunshop-backend/pkg/db"
	"github.com/bunshop/bunshop-backend/pkg/db/models"
)

// OpenWindow is a pickup window that still accepts orders, with its advisory
// remaining capacity. The number is a hint for storefronts; admission always
// re-derives it under the window lock.
type OpenWindow struct {
	models.PickupWindow
	CutoffAt  time.Time `json:"effective_cutoff_at"`
	Remaining int       `json:"remaining"`
}

// Service exposes the public catalog reads.
type Service struct {
	dbClient *db.Client
	repo     *Repository
	ledger   *capacity.Ledger
	cfg      config.ReservationConfig
	now      func() time.Time
}

// NewService wires the catalog service.
func NewService(dbClient *db.Client, repo *Repository, ledger *capacity.Ledger, cfg config.ReservationConfig) (*Service, error) {
	if dbClient == nil {
		return nil, errors.New("db client is required")
	}
	if repo == nil {
		return nil, errors.New("catalog repository is required")
	}
	if ledger == nil {
		return nil, errors.New("capacity ledger is required")
	}
	return &Service{
		dbClient: dbClient,
		repo:     repo,
		ledger:   ledger,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ListProducts returns the orderable catalog.
func (s *Service) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.repo.ListActiveProducts(ctx)
}

// ListOpenWindows returns windows whose effective cutoff is still ahead,
// each with its advisory remaining capacity.
func (s *Service) ListOpenWindows(ctx context.Context) ([]OpenWindow, error) {
	now := s.now().UTC()
	windows, err := s.repo.ListWindowsFrom(ctx, now)
	if err != nil {
		return nil, err
	}

	open := make([]OpenWindow, 0, len(windows))
	for _, window := range windows {
		cutoff := window.EffectiveCutoff(s.cfg.DefaultCutoffHour)
		if !now.Before(cutoff) {
			continue
		}
		avail, err := s.ledger.Remaining(ctx, s.dbClient.DB(), window.ID, now)
		if err != nil {
			return nil, err
		}
		open = append(open, OpenWindow{
			PickupWindow: window,
			CutoffAt:     cutoff,
			Remaining:    avail.Remaining,
		})
	}
	return open, nil
}
