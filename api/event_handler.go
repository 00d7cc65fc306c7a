package api

import (
	"encoding/json"
	"net/http"

	"github.com/applyflow/applyflow/middleware"
	"github.com/applyflow/applyflow/models"
	"github.com/applyflow/applyflow/services"
	"github.com/applyflow/applyflow/utils"
	"github.com/gorilla/mux"
)

// EventHandler is the collaborator-facing dispatch boundary. Other platform
// services POST domain events here; delivery status is observable through
// the delivery-history endpoints.
type EventHandler struct {
	dispatcher *services.EventDispatcher
}

func CreateEventHandler(dispatcher *services.EventDispatcher) *EventHandler {
	return &EventHandler{dispatcher: dispatcher}
}

func (h *EventHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/events", h.HandleDispatch).Methods("POST")
}

func (h *EventHandler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantID(r.Context())
	if !ok {
		writeError(w, utils.ErrTenantKeyRequired)
		return
	}

	var event models.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, utils.ErrInvalidRequest)
		return
	}
	if event.Type == "" {
		writeError(w, utils.NewAPIErrorWithDetails(http.StatusBadRequest, "Invalid request", "event type is required"))
		return
	}
	event.TenantID = tenantID

	if err := h.dispatcher.Dispatch(r.Context(), &event); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"dispatched": true})
}
