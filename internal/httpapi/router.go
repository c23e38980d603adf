package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ultramarket/orderflow/internal/health"
)

// NewRouter собирает chi-роутер сервиса: API заказов, платёжные webhooks,
// health-пробы и метрики.
func NewRouter(h *Handler, healthHandler *health.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Timeout(15 * time.Second))

	r.Post("/orders", h.CreateOrder)
	r.Get("/orders/{id}", h.GetOrder)
	r.Get("/orders/{id}/status", h.GetOrderStatus)
	r.Get("/orders/{id}/timeline", h.GetTimeline)
	r.Post("/orders/{id}/cancel", h.CancelOrder)
	r.Get("/customers/{id}/orders", h.ListCustomerOrders)

	r.Post("/payments/webhooks/{gateway}", h.PaymentWebhook)

	r.Get("/livez", health.LivenessHandler)
	r.Get("/readyz", healthHandler.ReadinessHandler)
	r.Method(http.MethodGet, "/healthz", healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// requestLogger пишет access log через logrus в стиле остальных компонентов.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.WithFields(log.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(started).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Info("http request")
		})
	}
}
