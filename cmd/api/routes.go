package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scoutlink/unlock-api/internal/middleware"
	pkgresponse "github.com/scoutlink/unlock-api/internal/pkg/response"
)

const requestTimeout = 20 * time.Second

// newServer leaves the write deadline above requestTimeout so a timed-out
// handler's error body still reaches the client.
func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type routeDeps struct {
	AllowedOrigins []string
	Auth           func(http.Handler) http.Handler

	Unlocks chi.Router
	Wallet  chi.Router

	TopUp http.HandlerFunc
	Reset http.HandlerFunc
}

func newRouter(d routeDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(d.AllowedOrigins))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})
		r.Mount("/unlocks", d.Unlocks)
		r.Mount("/wallet", d.Wallet)
	})

	mountAdminRoutes(r, d.Auth, d.TopUp, d.Reset)
	return r
}

// mountAdminRoutes registers the admin surface under /api/admin.
func mountAdminRoutes(r chi.Router, auth func(http.Handler) http.Handler, topUp, reset http.HandlerFunc) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(auth)
		r.Use(middleware.RequireAdmin())
		r.Post("/wallets/{operatorId}/topup", topUp)
		r.Post("/unlocks/reset", reset)
	})
}
