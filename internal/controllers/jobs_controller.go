package controllers

import (
	"net/http"
	"strings"

	"github.com/osvaldoandrade/netdemo/internal/middleware"
	"github.com/osvaldoandrade/netdemo/internal/services"

	"github.com/gin-gonic/gin"
)

type submitJobController struct{ svc services.QueueService }

func NewSubmitJobController(svc services.QueueService) *submitJobController {
	return &submitJobController{svc}
}

type submitJobReq struct {
	DemoID     string         `json:"demo_id" binding:"required"`
	Parameters map[string]any `json:"parameters"`
}

func (h *submitJobController) Handle(c *gin.Context) {
	var req submitJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}
	demoID := strings.TrimSpace(req.DemoID)
	middleware.AnnotateJob(c, "", demoID)
	job, err := h.svc.Submit(c.Request.Context(), "", demoID, req.Parameters)
	if err != nil {
		writeError(c, err)
		return
	}
	middleware.AnnotateJob(c, job.ID, job.DemoID)
	middleware.Logger(c).Info("job submitted", "job_id", job.ID, "demo", job.DemoID, "subject", c.GetString("userSubject"))
	c.Header("Location", "/api/jobs/"+job.ID)
	c.JSON(http.StatusAccepted, job.Response())
}

type getJobController struct{ svc services.QueueService }

func NewGetJobController(svc services.QueueService) *getJobController {
	return &getJobController{svc}
}

func (h *getJobController) Handle(c *gin.Context) {
	job, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	middleware.AnnotateJob(c, "", job.DemoID)
	c.JSON(http.StatusOK, job.Response())
}
