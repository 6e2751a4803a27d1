package router

import (
	"github.com/antonminaichev/perfume-checkout/internal/admin"
	"github.com/antonminaichev/perfume-checkout/internal/logger"
	"github.com/antonminaichev/perfume-checkout/internal/middleware"
	"github.com/antonminaichev/perfume-checkout/internal/order"
	"github.com/antonminaichev/perfume-checkout/internal/payment"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(
	adminH *admin.Handler,
	orderH *order.Handler,
	paymentH *payment.Handler,
	limiter *middleware.RateLimiter,
	jwtSecret []byte,
	adminRepo admin.AdminRepository,
) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(logger.WithLogging)
	r.Use(chiMiddleware.Recoverer)

	// provider callbacks must see the exact bytes PayPal signed
	r.Post("/api/payments/webhook", paymentH.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.GzipHandler)

		r.Route("/api/payments", func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Post("/orders", paymentH.Checkout)
			r.Post("/orders/{remoteId}/capture", paymentH.Capture)
			r.Get("/orders/{remoteId}", paymentH.Status)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.With(limiter.Middleware).Post("/login", adminH.Login)

			r.Group(func(r chi.Router) {
				r.Use(middleware.JWTMiddleware(jwtSecret, adminRepo))

				r.Get("/orders", orderH.ListOrders)
				r.Get("/orders/{id}", orderH.GetOrder)
				r.Patch("/orders/{id}/status", orderH.UpdateStatus)
				r.Post("/orders/{id}/refund", paymentH.Refund)
				r.Delete("/orders/{id}", orderH.DeleteOrder)
				r.Get("/payments/summary", orderH.Summary)
			})
		})
	})

	return r
}
