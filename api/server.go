/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Logger:     zerolog access log (method, path, status, duration)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/treasury/*       Snapshot, mutations, log, audit, counts, bank transfers
  /api/salaries/*       Salary payment lifecycle and pay
  /api/advances/*       Advance disbursement, repayment, cancellation
  /api/users/{id}/*     Per-user views
  /api/expenses/*       Expense lifecycle and pay

ACTOR:
  Every write requires the X-Actor-ID header. The value is recorded on
  transaction records and business rows. Authentication is upstream.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/warp/treasury-engine/logging"
)

// ActorHeader names the caller recorded on every write.
const ActorHeader = "X-Actor-ID"

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, origins []string, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !allowsAny(origins),
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Treasury routes
		r.Route("/treasury", func(r chi.Router) {
			r.Get("/", h.GetSnapshot)
			r.Get("/transactions", h.ListTransactions)
			r.Get("/audit", h.Audit)
			r.Get("/verifications", h.ListVerifications)
			r.Get("/verifications/today", h.TodayVerification)
			r.Get("/bank-transfers", h.ListBankTransfers)

			r.Group(func(r chi.Router) {
				r.Use(requireActor)
				r.Post("/init", h.Initialize)
				r.Put("/limits", h.SetLimits)
				r.Post("/mutations", h.Mutate)
				r.Post("/income", h.RecordIncome)
				r.Post("/transactions/{id}/reverse", h.Reverse)
				r.Post("/verifications", h.Verify)
				r.Post("/bank-transfers", h.Transfer)
			})
		})

		// Salary routes
		r.Route("/salaries", func(r chi.Router) {
			r.Get("/{id}", h.GetSalary)
			r.Get("/{id}/recoupments", h.SalaryRecoupments)

			r.Group(func(r chi.Router) {
				r.Use(requireActor)
				r.Post("/", h.CreateSalary)
				r.Post("/{id}/approve", h.ApproveSalary)
				r.Post("/{id}/cancel", h.CancelSalary)
				r.Post("/{id}/pay", h.PaySalary)
			})
		})

		// Advance routes
		r.Route("/advances", func(r chi.Router) {
			r.Get("/{id}", h.GetAdvance)
			r.Get("/{id}/recoupments", h.AdvanceRecoupments)

			r.Group(func(r chi.Router) {
				r.Use(requireActor)
				r.Post("/", h.DisburseAdvance)
				r.Post("/{id}/repay", h.RepayAdvance)
				r.Post("/{id}/cancel", h.CancelAdvance)
			})
		})

		r.Get("/users/{id}/advances", h.ListUserAdvances)

		// Expense routes
		r.Route("/expenses", func(r chi.Router) {
			r.Get("/{id}", h.GetExpense)

			r.Group(func(r chi.Router) {
				r.Use(requireActor)
				r.Post("/", h.CreateExpense)
				r.Post("/{id}/approve", h.ApproveExpense)
				r.Post("/{id}/cancel", h.CancelExpense)
				r.Post("/{id}/pay", h.PayExpense)
			})
		})
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// requestLogger writes one access line per request and puts a request-scoped
// logger in the context.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			reqLog := log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			ctx := logging.WithContext(r.Context(), reqLog)

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			evt := reqLog.Info()
			if status >= http.StatusInternalServerError {
				evt = reqLog.Error()
			}
			evt.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

type actorKey struct{}

// requireActor rejects writes without an X-Actor-ID header.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			writeError(w, http.StatusBadRequest, "missing "+ActorHeader+" header", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(r *http.Request) string {
	actor, _ := r.Context().Value(actorKey{}).(string)
	return actor
}

func allowsAny(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
