// Package api exposes the review and sync operations over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hyperengineering/petsync"
)

// Service is the subset of petsync.Service the API serves.
type Service interface {
	HealthCheck(ctx context.Context) petsync.HealthStatus
	Sync(ctx context.Context, source petsync.Source) (*petsync.SyncReport, error)
	SyncAll(ctx context.Context) ([]*petsync.SyncReport, error)
	Submissions(ctx context.Context, clientID int64) ([]petsync.PayloadInfo, error)
	Reconcile(ctx context.Context, clientID int64, path string) (*petsync.ReconcileResult, error)
	Apply(ctx context.Context, req petsync.ApplyRequest) (*petsync.ApplyResult, error)
	Rules() []petsync.RuleSummary
}

// NewRouter creates a chi router with all routes mounted.
func NewRouter(svc Service) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sync/{source}", h.Sync)
		r.Get("/rules", h.Rules)

		r.Route("/clients/{id}", func(r chi.Router) {
			r.Get("/submissions", h.Submissions)
			r.Get("/reconcile", h.Reconcile)
			r.Post("/apply", h.Apply)
		})
	})

	return r
}

// Server wraps an http.Server around the router.
func Server(addr string, svc Service) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
