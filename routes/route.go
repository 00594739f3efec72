package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"browserengine/internal"
	"browserengine/model"
	"browserengine/orchestrator"
	"browserengine/service"
)

// Register mounts the automation API on the given router.
func Register(r *gin.Engine, svc *service.AutomationService) {
	r.POST("/execute", func(c *gin.Context) { handleExecute(c, svc) })
	r.POST("/jobs", func(c *gin.Context) { handleSubmit(c, svc) })
	r.GET("/jobs/:id", func(c *gin.Context) { handleStatus(c, svc) })
	r.DELETE("/jobs/:id", func(c *gin.Context) { handleCancel(c, svc) })
	r.GET("/health", func(c *gin.Context) { handleHealth(c, svc) })
}

// handleExecute runs a job synchronously and returns its terminal outcome.
func handleExecute(c *gin.Context, svc *service.AutomationService) {
	var req model.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:         err.Error(),
			StatusMessage: "Invalid Request Format",
		})
		return
	}

	resp, err := svc.Run(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func handleSubmit(c *gin.Context, svc *service.AutomationService) {
	var req model.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:         err.Error(),
			StatusMessage: "Invalid Request Format",
		})
		return
	}

	resp, err := svc.Submit(req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func handleStatus(c *gin.Context, svc *service.AutomationService) {
	resp, err := svc.Status(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func handleCancel(c *gin.Context, svc *service.AutomationService) {
	if err := svc.Cancel(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancellation requested"})
}

func handleHealth(c *gin.Context, svc *service.AutomationService) {
	resp := svc.Health()
	code := http.StatusOK
	if resp.Status == "degraded" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func writeError(c *gin.Context, err error) {
	var vErr *internal.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:         err.Error(),
			StatusMessage: "Invalid Step Script",
		})
	case errors.Is(err, orchestrator.ErrCapacityExceeded):
		c.JSON(http.StatusTooManyRequests, model.ErrorResponse{
			Error:         err.Error(),
			StatusMessage: "Queue Full",
		})
	case errors.Is(err, orchestrator.ErrPoolDegraded):
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
			Error:         err.Error(),
			StatusMessage: "Service Degraded",
		})
	case errors.Is(err, orchestrator.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
			Error:         err.Error(),
			StatusMessage: "Shutting Down",
		})
	case errors.Is(err, service.ErrJobNotFound):
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Error:         err.Error(),
			StatusMessage: "Job Not Found",
		})
	default:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Error:         err.Error(),
			StatusMessage: "Internal Error",
		})
	}
}
