/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route groups.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RealIP:         Client address from proxy headers
  3. RequestLogger:  One zap line per request
  4. Recoverer:      Panic recovery (500 instead of crash)
  5. CORS:           Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/register, /api/products          Public
  /api/investments/process              Service key
  /api/*                                Bearer token
  /api/admin/*                          Bearer token + admin flag

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: RequireUser / RequireAdmin / RequireService
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ServiceKeyHeader, "X-Request-ID"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Get("/products", h.ListProducts)

		// Settlement trigger, called by cron or another service
		r.Group(func(r chi.Router) {
			r.Use(h.RequireService)
			r.Post("/investments/process", h.ProcessInvestments)
			r.Get("/investments/process", h.InvestmentStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.RequireUser)

			r.Get("/me", h.GetMe)
			r.Get("/ledger", h.GetMyLedger)

			r.Get("/investments", h.ListMyInvestments)
			r.Post("/investments", h.CreateInvestment)

			r.Get("/checkin", h.CheckInStatus)
			r.Post("/checkin", h.CheckIn)

			r.Post("/recharge", h.RequestRecharge)
			r.Post("/recharge/transfer", h.TransferRecharge)

			r.Get("/withdraw", h.ListMyWithdrawals)
			r.Post("/withdraw", h.RequestWithdrawal)
			r.Post("/withdrawal-password", h.SetWithdrawalPassword)

			r.Get("/bank-account", h.GetBankAccount)
			r.Post("/bank-account", h.UpdateBankAccount)

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.RequireAdmin)

				r.Get("/withdrawals", h.AdminListWithdrawals)
				r.Post("/withdrawals", h.AdminReviewWithdrawal)
				r.Get("/recharges", h.AdminListRecharges)
				r.Post("/recharges", h.AdminReviewRecharge)
				r.Get("/users", h.AdminListUsers)
				r.Post("/users", h.AdminUpdateUser)
				r.Get("/investments", h.AdminListInvestments)
				r.Get("/stats", h.AdminStats)
				r.Get("/settlement-runs", h.AdminListSettlementRuns)
				r.Get("/ledger/{userID}", h.AdminUserLedger)
			})
		})
	})

	return r
}
