package controllers

import (
	"net/http"
	"time"

	"github.com/osvaldoandrade/netdemo/internal/services"

	"github.com/gin-gonic/gin"
)

type cleanupJobsController struct{ svc services.RetentionService }

func NewCleanupJobsController(svc services.RetentionService) *cleanupJobsController {
	return &cleanupJobsController{svc}
}

type cleanupReq struct {
	Limit  int    `json:"limit,omitempty"`  // default: 1000
	Before string `json:"before,omitempty"` // RFC3339; default: now
}

func (h *cleanupJobsController) Handle(c *gin.Context) {
	var req cleanupReq
	_ = c.ShouldBindJSON(&req) // every field is optional

	before := time.Now().UTC()
	if req.Before != "" {
		t, err := time.Parse(time.RFC3339, req.Before)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before' (use RFC3339)"})
			return
		}
		before = t
	}

	deleted, err := h.svc.Sweep(c.Request.Context(), req.Limit, before)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
		"limit":   req.Limit,
	})
}
