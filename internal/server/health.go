package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/kafka-go"
)

// handleHealth reports up/down per collaborator. 503 when any check fails.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	services := gin.H{"api": "ok"}
	healthy := true

	if err := s.store.Ping(ctx); err != nil {
		services["database"] = "error"
		healthy = false
	} else {
		services["database"] = "ok"
	}

	if conn, err := kafka.DialContext(ctx, "tcp", s.cfg.KafkaBroker); err != nil {
		services["queue"] = "error"
		healthy = false
	} else {
		conn.Close()
		services["queue"] = "ok"
	}

	if err := s.ml.HealthCheck(ctx); err != nil {
		services["ml_service"] = "error"
		healthy = false
	} else {
		services["ml_service"] = "ok"
	}

	status := http.StatusOK
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  services,
	}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}
	c.JSON(status, body)
}
