package handler

import (
	"database/sql"
	"net/http"

	"socialcrm/internal/queue"
)

// HealthHandler reports the API's view of its dependencies.
type HealthHandler struct {
	db        *sql.DB
	queueConn *queue.Connection
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *sql.DB, queueConn *queue.Connection) *HealthHandler {
	return &HealthHandler{
		db:        db,
		queueConn: queueConn,
	}
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Queue    string `json:"queue"`
}

// HandleHealth handles GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Database: "connected",
		Queue:    "connected",
	}
	status := http.StatusOK

	if err := h.db.PingContext(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "disconnected"
		status = http.StatusServiceUnavailable
	}

	if h.queueConn == nil || !h.queueConn.IsConnected() {
		resp.Status = "unhealthy"
		resp.Queue = "disconnected"
		status = http.StatusServiceUnavailable
	}

	WriteJSON(w, status, resp)
}
