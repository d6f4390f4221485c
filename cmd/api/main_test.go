package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scoutlink/unlock-api/internal/middleware"
	"github.com/scoutlink/unlock-api/internal/pkg/jwt"
)

func TestMountAdminRoutes_RequiresAdmin(t *testing.T) {
	jwtSvc := jwt.NewService("test-secret", time.Minute)
	root := chi.NewRouter()

	okHandler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				t.Fatalf("registering admin routes panicked: %v", rec)
			}
		}()
		mountAdminRoutes(root, middleware.Auth(jwtSvc), okHandler, okHandler)
	}()

	tokenFor := func(role string) string {
		token, err := jwtSvc.GenerateAccessToken("7", role)
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		return token
	}

	cases := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"reset without token", "/api/admin/unlocks/reset", "", http.StatusUnauthorized},
		{"reset as operator", "/api/admin/unlocks/reset", tokenFor(jwt.RoleOperator), http.StatusForbidden},
		{"reset as admin", "/api/admin/unlocks/reset", tokenFor(jwt.RoleAdmin), http.StatusOK},
		{"topup as admin", "/api/admin/wallets/42/topup", tokenFor(jwt.RoleAdmin), http.StatusOK},
		{"topup as operator", "/api/admin/wallets/42/topup", tokenFor(jwt.RoleOperator), http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rr := httptest.NewRecorder()
			root.ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestNewRouter_HealthAndMetrics(t *testing.T) {
	pass := func(next http.Handler) http.Handler { return next }
	okHandler := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	r := newRouter(routeDeps{
		AllowedOrigins: []string{"http://localhost:3000"},
		Auth:           pass,
		Unlocks:        chi.NewRouter(),
		Wallet:         chi.NewRouter(),
		TopUp:          okHandler,
		Reset:          okHandler,
	})

	for _, path := range []string{"/health", "/metrics", "/api/v1/ping"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s: missing request id header", path)
		}
	}
}

func TestNewServer_WriteDeadlineOutlivesHandlerTimeout(t *testing.T) {
	srv := newServer(":0", http.NotFoundHandler())
	if srv.WriteTimeout <= requestTimeout {
		t.Fatalf("write timeout %s must exceed request timeout %s", srv.WriteTimeout, requestTimeout)
	}
}
