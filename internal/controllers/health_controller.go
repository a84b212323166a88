package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/osvaldoandrade/netdemo/internal/registry"
	"github.com/osvaldoandrade/netdemo/pkg/persistence"

	"github.com/gin-gonic/gin"
)

// SandboxProbe reports whether the isolation backend is usable.
type SandboxProbe func(ctx context.Context) bool

type healthController struct {
	store    persistence.PluginPersistence
	registry *registry.Registry
	sandbox  SandboxProbe
}

func NewHealthController(store persistence.PluginPersistence, reg *registry.Registry, sandbox SandboxProbe) *healthController {
	return &healthController{store: store, registry: reg, sandbox: sandbox}
}

// Handle answers 200 while the store is reachable. A missing sandbox only
// degrades the report; non-privileged demos still run.
func (h *healthController) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	storeStatus := gin.H{"backend": h.store.Backend(), "healthy": true}
	code := http.StatusOK
	status := "healthy"
	if err := h.store.Health(ctx); err != nil {
		storeStatus["healthy"] = false
		storeStatus["error"] = err.Error()
		code = http.StatusServiceUnavailable
		status = "unhealthy"
	}

	sandboxUp := h.sandbox != nil && h.sandbox(ctx)
	if !sandboxUp && status == "healthy" {
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":  status,
		"store":   storeStatus,
		"sandbox": gin.H{"available": sandboxUp},
		"demos":   len(h.registry.List()),
	})
}
