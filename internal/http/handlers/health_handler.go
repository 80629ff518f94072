package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck обработчик для проверки работоспособности сервиса
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "OK",
		"service": "entitlement-service",
		"time":    time.Now().Format(time.RFC3339),
	})
}
