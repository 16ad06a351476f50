package executions

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires the execution lifecycle endpoints: submit,
// inspect, cancel, and stream.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	executions := e.Group("/executions")
	executions.POST("", h.Submit)
	executions.GET("/:id", h.GetState)
	executions.POST("/:id/cancel", h.Cancel)
	executions.GET("/:id/events", h.StreamEvents)
	executions.POST("/:id/checkpoints", h.CreateCheckpoint)
	executions.GET("/:id/checkpoints", h.ListCheckpoints)
	executions.GET("/:id/checkpoints/:checkpointId", h.RestoreCheckpoint)
}
