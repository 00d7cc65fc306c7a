package api

import (
	"net/http"
	"time"

	"gorm.io/gorm"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

var startTime = time.Now()

type HealthHandler struct {
	db *gorm.DB
}

func CreateHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Database:  "up",
		Timestamp: time.Now(),
		Uptime:    time.Since(startTime).String(),
	}

	status := http.StatusOK
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
		response.Status = "degraded"
		response.Database = "down"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, response)
}
