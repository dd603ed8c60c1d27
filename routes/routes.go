package routes

import (
	"net/http"
	"time"

	"nutrify/handlers"
	"nutrify/middleware"
	"nutrify/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterPaymentRoutes registers STK push, callback and polling endpoints.
func RegisterPaymentRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/payments")
	{
		api.POST("/mpesa/stk", middleware.RateLimitMiddleware(hb.InitiateRateLimit), hb.InitiateSTKPush)
		// Called by Safaricom; never rate limited or authenticated.
		api.POST("/mpesa/callback", hb.MpesaCallback)
		api.GET("/:reference/status", hb.PaymentStatus)
	}
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine, health *utils.HealthMonitor) {
	r.GET("/health", func(c *gin.Context) {
		if health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Hi, I'm Nutrify"})
			return
		}
		snapshot := health.GetHealthStatus()
		if !snapshot.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "dependencies": snapshot})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Hi, I'm Nutrify", "dependencies": snapshot})
	})
}

// RegisterAdminRoutes sets up endpoints for admin operations.
func RegisterAdminRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	adminGroup := r.Group("/api/admin")
	{
		adminGroup.Use(middleware.JWTAuthAdminMiddleware())
		adminGroup.GET("/payments/:reference", hb.AdminHandler.GetPaymentDetailsHandler)
		adminGroup.POST("/payments/sweep", hb.AdminHandler.SweepPaymentsHandler)
	}
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	// Setup global middleware (e.g., CORS) here.
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	RegisterPaymentRoutes(r, hb)
	RegisterHealthRoute(r, hb.Health)
	RegisterAdminRoutes(r, hb)
}
