package executions

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dipeo/engine/diagram"
)

// Handler adapts Registry to echo's HTTP surface.
type Handler struct {
	registry *Registry
	bus      eventSubscriber
}

// NewHandler wraps a Registry and its event bus for route registration.
func NewHandler(registry *Registry, bus eventSubscriber) *Handler {
	return &Handler{registry: registry, bus: bus}
}

// submitRequest is the POST /executions body: a declarative diagram
// plus the initial variable bindings for the run.
type submitRequest struct {
	Diagram   diagram.Diagram `json:"diagram"`
	Variables map[string]any `json:"variables"`
}

// Submit compiles and starts a new execution.
func (h *Handler) Submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	executionID, warnings, err := h.registry.Submit(c.Request().Context(), &req.Diagram, req.Variables)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]any{
		"execution_id": executionID,
		"warnings":     warnings,
	})
}

// GetState returns the current state snapshot of one execution.
func (h *Handler) GetState(c echo.Context) error {
	executionID := c.Param("id")
	state, ok := h.registry.Snapshot(executionID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	}
	return c.JSON(http.StatusOK, state)
}

// checkpointRequest is the POST .../checkpoints body.
type checkpointRequest struct {
	Name string `json:"name"`
}

// CreateCheckpoint snapshots the execution's current state to Redis.
func (h *Handler) CreateCheckpoint(c echo.Context) error {
	executionID := c.Param("id")
	var req checkpointRequest
	_ = c.Bind(&req)

	id, err := h.registry.CreateCheckpoint(c.Request().Context(), executionID, req.Name)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"checkpoint_id": id})
}

// ListCheckpoints returns every checkpoint recorded for an execution.
func (h *Handler) ListCheckpoints(c echo.Context) error {
	executionID := c.Param("id")
	infos, err := h.registry.ListCheckpoints(c.Request().Context(), executionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, infos)
}

// RestoreCheckpoint loads a checkpoint back into an ExecutionState view.
func (h *Handler) RestoreCheckpoint(c echo.Context) error {
	executionID := c.Param("id")
	checkpointID := c.Param("checkpointId")
	state, err := h.registry.RestoreCheckpoint(c.Request().Context(), executionID, checkpointID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, state)
}

// Cancel stops a running execution.
func (h *Handler) Cancel(c echo.Context) error {
	executionID := c.Param("id")
	if !h.registry.Cancel(executionID) {
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// StreamEvents serves execution events as an SSE stream, forwarding
// every event the bus publishes for this execution id until the
// client disconnects.
func (h *Handler) StreamEvents(c echo.Context) error {
	executionID := c.Param("id")
	if _, ok := h.registry.Get(executionID); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	}

	sub := h.bus.Subscribe(executionID)
	defer h.bus.Unsubscribe(executionID, sub)

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if err := writeSSEEvent(w, evt); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
