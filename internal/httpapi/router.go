package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ismaiel54/table-order-gateway/internal/observability"
	"github.com/ismaiel54/table-order-gateway/internal/order"
	"github.com/ismaiel54/table-order-gateway/internal/portfolio"
	"go.uber.org/zap"
)

// Querier is the read side of the engine
type Querier interface {
	Accounts(ctx context.Context, account string) ([]portfolio.Account, error)
	Positions(ctx context.Context, account string) ([]portfolio.Position, error)
	Orders(ctx context.Context, account string, cancelableOnly bool) ([]order.Order, error)
	Order(ctx context.Context, clientID int64) (order.Order, error)
}

// NewRouter creates a chi router with the query routes, request logging and
// the health routes of h when h is not nil
func NewRouter(q Querier, h *observability.HealthChecker, timeout time.Duration, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogging(logger))

	if h != nil {
		h.Mount(r)
	}

	qh := &queryHandler{q: q, timeout: timeout}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/accounts", qh.listAccounts)
		r.Get("/accounts/{account}", qh.getAccount)
		r.Get("/accounts/{account}/positions", qh.listPositions)
		r.Get("/accounts/{account}/orders", qh.listOrders)
		r.Get("/orders/{client_id}", qh.getOrder)
	})
	return r
}

// requestLogging logs each request's method, path, status code and duration
func requestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter captures the status code
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
