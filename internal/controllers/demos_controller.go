package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/netdemo/internal/registry"
	"github.com/osvaldoandrade/netdemo/pkg/domain"

	"github.com/gin-gonic/gin"
)

type listDemosController struct{ registry *registry.Registry }

func NewListDemosController(reg *registry.Registry) *listDemosController {
	return &listDemosController{reg}
}

func (h *listDemosController) Handle(c *gin.Context) {
	demos := h.registry.List()
	c.JSON(http.StatusOK, gin.H{"demos": demos, "count": len(demos)})
}

type getDemoController struct{ registry *registry.Registry }

func NewGetDemoController(reg *registry.Registry) *getDemoController {
	return &getDemoController{reg}
}

func (h *getDemoController) Handle(c *gin.Context) {
	id := c.Param("id")
	demo, ok := h.registry.Get(id)
	if !ok {
		writeError(c, domain.DemoNotFound(id))
		return
	}
	c.JSON(http.StatusOK, demo.Recipe)
}
