package api

import (
	"net/http"

	"github.com/zlingapp/server-sub000/internal/db"
)

// HealthHandler answers liveness probes. The database is the only
// dependency worth checking synchronously; the realtime services have no
// meaningful down state short of the process dying.
type HealthHandler struct {
	database *db.DB
}

func NewHealthHandler(database *db.DB) *HealthHandler {
	return &HealthHandler{database: database}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Checks: map[string]string{"database": "ok"},
	}
	status := http.StatusOK

	if err := h.database.PingContext(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Checks["database"] = "error"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
