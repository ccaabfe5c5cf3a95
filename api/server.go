/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/accounts/*      Member accounts, balances, ledgers, ranks
  /api/events          Event reporting (point awards)
  /api/vouchers/*      Voucher catalog and acquisition
  /api/uservouchers/*  Redemption of held instances
  /api/ranks, /api/rules  Configured content
  /api/admin/*         Administrative operations

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/rank", h.GetRank)
			r.Get("/{id}/rank/history", h.GetRankHistory)
			r.Get("/{id}/vouchers", h.ListHeldVouchers)
			r.Get("/{id}/vouchers/available", h.ListAvailableVouchers)
		})

		// Event reporting
		r.Post("/events", h.SubmitEvent)

		// Configured content
		r.Get("/ranks", h.ListRanks)
		r.Get("/rules", h.ListRules)

		// Voucher routes
		r.Route("/vouchers", func(r chi.Router) {
			r.Get("/", h.ListVouchers)
			r.Post("/{id}/acquire", h.AcquireVoucher)
		})
		r.Post("/uservouchers/{id}/redeem", h.RedeemVoucher)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjustments", h.CreateAdjustment)
			r.Post("/ranks", h.SaveRank)
			r.Post("/ranks/assign", h.AssignRank)
			r.Post("/rules", h.SaveRule)
			r.Post("/vouchers", h.SaveVoucher)
			r.Post("/uservouchers/{id}/revoke", h.RevokeVoucher)
			r.Post("/sweep", h.RunSweep)
			r.Get("/accounts/{id}/audit", h.AuditAccount)
		})
	})

	return r
}
