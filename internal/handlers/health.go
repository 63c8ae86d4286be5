package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prefeitura-rio/app-medrec/internal/observability"
	"github.com/prefeitura-rio/app-medrec/internal/utils"
	"go.uber.org/zap"
)

// HealthResponse reports the status of the API and its dependencies
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]string      `json:"services"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Dependency is a service the API checks on /health. A failing critical
// dependency makes the API unhealthy; any other only degrades it.
type Dependency struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// HealthHandler serves /health
type HealthHandler struct {
	deps    []Dependency
	details func() map[string]interface{}
	timeout time.Duration
}

// NewHealthHandler creates a health handler. details, when set, is merged
// into the response.
func NewHealthHandler(deps []Dependency, details func() map[string]interface{}) *HealthHandler {
	return &HealthHandler{deps: deps, details: details, timeout: 3 * time.Second}
}

// HealthCheck godoc
// @Summary Health check
// @Description Checks the API and its dependencies (MongoDB, Redis).
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse "Healthy or degraded"
// @Failure 503 {object} HealthResponse "A critical dependency is down"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  make(map[string]string, len(h.deps)),
	}

	for _, dep := range h.deps {
		depCtx, span, done := utils.TraceExternalService(ctx, dep.Name, "ping")
		err := dep.Check(depCtx)
		if err != nil {
			utils.RecordErrorInSpan(span, err, nil)
		}
		done()

		if err == nil {
			health.Services[dep.Name] = "healthy"
			continue
		}
		health.Services[dep.Name] = "unhealthy"
		observability.Logger().Warn("health check failed",
			zap.String("service", dep.Name),
			zap.Error(err))
		if dep.Critical {
			health.Status = "unhealthy"
		} else if health.Status == "healthy" {
			health.Status = "degraded"
		}
	}

	if h.details != nil {
		health.Details = h.details()
	}

	if health.Status == "unhealthy" {
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	c.JSON(http.StatusOK, health)
}
