package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nutrify/config"
	"nutrify/handlers"
	"nutrify/models"
	"nutrify/utils"

	"github.com/gin-gonic/gin"
)

type stubService struct{}

func (stubService) Initiate(context.Context, models.PaymentRequest) (*models.InitiationResult, error) {
	return &models.InitiationResult{Status: models.PaymentInitiated}, nil
}

func (stubService) Reconcile(_ context.Context, cb models.STKCallback) (*models.ReconciliationOutcome, error) {
	return &models.ReconciliationOutcome{CheckoutRequestID: cb.CheckoutRequestID}, nil
}

func (stubService) Status(_ context.Context, ref string) (*models.PaymentStatusResponse, error) {
	return &models.PaymentStatusResponse{BookingReference: ref, Status: models.PaymentPending}, nil
}

func (stubService) Details(_ context.Context, ref string) (*models.PaymentDetails, error) {
	return &models.PaymentDetails{BookingReference: ref}, nil
}

func (stubService) ExpireStale(context.Context, time.Duration) (int, error) { return 0, nil }

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := stubService{}
	ph := handlers.NewPaymentHandler(svc, nil)
	r := gin.New()
	RegisterRoutes(r, &handlers.HandlerBundle{
		InitiateRateLimit: 1,
		InitiateSTKPush:   ph.InitiateSTKPush,
		MpesaCallback:     ph.MpesaCallback,
		PaymentStatus:     ph.PaymentStatus,
		AdminHandler:      handlers.NewAdminHandler(svc, time.Minute),
	})
	return r
}

func serve(r http.Handler, method, path, body, auth string) int {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRoutesWiring(t *testing.T) {
	prev := config.AppConfig.JWTSecret
	config.AppConfig.JWTSecret = "routes-secret"
	t.Cleanup(func() { config.AppConfig.JWTSecret = prev })

	r := newEngine()
	stk := `{"bookingReference":"BK-1","phoneNumber":"0712345678","amount":100}`

	if code := serve(r, http.MethodGet, "/health", "", ""); code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
	if code := serve(r, http.MethodPost, "/api/payments/mpesa/stk", stk, ""); code != http.StatusOK {
		t.Fatalf("first initiation: %d", code)
	}
	if code := serve(r, http.MethodPost, "/api/payments/mpesa/stk", stk, ""); code != http.StatusTooManyRequests {
		t.Fatalf("initiation should be rate limited, got %d", code)
	}
	for i := 0; i < 3; i++ {
		if code := serve(r, http.MethodPost, "/api/payments/mpesa/callback", "{}", ""); code != http.StatusOK {
			t.Fatalf("callback must never be limited, got %d", code)
		}
	}
	if code := serve(r, http.MethodGet, "/api/payments/BK-1/status", "", ""); code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}

	if code := serve(r, http.MethodGet, "/api/admin/payments/BK-1", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("admin without token: %d", code)
	}
	token, err := utils.GenerateToken("ops", utils.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code := serve(r, http.MethodGet, "/api/admin/payments/BK-1", "", token); code != http.StatusOK {
		t.Fatalf("admin details: %d", code)
	}
	if code := serve(r, http.MethodPost, "/api/admin/payments/sweep", "", token); code != http.StatusOK {
		t.Fatalf("admin sweep: %d", code)
	}
}

func TestHealthRouteReportsDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	up := true
	monitor := utils.NewHealthMonitor(map[string]utils.HealthCheck{
		"mongo": func(context.Context) error {
			if up {
				return nil
			}
			return context.DeadlineExceeded
		},
	})
	r := gin.New()
	RegisterHealthRoute(r, monitor)

	monitor.Check(context.Background())
	if code := serve(r, http.MethodGet, "/health", "", ""); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	up = false
	monitor.Check(context.Background())
	if code := serve(r, http.MethodGet, "/health", "", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}
