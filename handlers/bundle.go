package handlers

import (
	"nutrify/utils"

	"github.com/gin-gonic/gin"
)

// HandlerBundle groups all your endpoint handlers into one struct.
type HandlerBundle struct {
	// Requests per minute allowed per client on STK initiation.
	InitiateRateLimit int

	// Payment endpoints
	InitiateSTKPush gin.HandlerFunc
	MpesaCallback   gin.HandlerFunc
	PaymentStatus   gin.HandlerFunc

	// Admin endpoints
	AdminHandler *AdminHandler

	// Dependency health served on /health; nil reports plain liveness.
	Health *utils.HealthMonitor
}
