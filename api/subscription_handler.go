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

type SubscriptionHandler struct {
	service *services.SubscriptionService
}

func CreateSubscriptionHandler(service *services.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

func (h *SubscriptionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/subscriptions", h.HandleCreate).Methods("POST")
	router.HandleFunc("/subscriptions", h.HandleList).Methods("GET")
	router.HandleFunc("/subscriptions/{id}", h.HandleGet).Methods("GET")
	router.HandleFunc("/subscriptions/{id}", h.HandleUpdate).Methods("PUT", "PATCH")
	router.HandleFunc("/subscriptions/{id}", h.HandleDelete).Methods("DELETE")
	router.HandleFunc("/subscriptions/{id}/enable", h.HandleEnable).Methods("POST")
	router.HandleFunc("/subscriptions/{id}/disable", h.HandleDisable).Methods("POST")
	router.HandleFunc("/subscriptions/{id}/test", h.HandleSendTest).Methods("POST")
	router.HandleFunc("/subscriptions/{id}/deliveries", h.HandleListDeliveries).Methods("GET")
}

func (h *SubscriptionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantID(r.Context())
	if !ok {
		writeError(w, utils.ErrTenantKeyRequired)
		return
	}

	var req models.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, utils.ErrInvalidRequest)
		return
	}

	sub, err := h.service.Create(r.Context(), tenantID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.SubscriptionResponse{Subscription: sub})
}

func (h *SubscriptionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantID(r.Context())
	if !ok {
		writeError(w, utils.ErrTenantKeyRequired)
		return
	}

	limit := clampLimit(queryInt(r, "limit"))
	offset := queryInt(r, "offset")

	subs, err := h.service.List(r.Context(), tenantID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SubscriptionListResponse{Subscriptions: subs, Total: len(subs)})
}

func (h *SubscriptionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantID(r.Context())
	if !ok {
		writeError(w, utils.ErrTenantKeyRequired)
		return
	}

	sub, err := h.service.Get(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SubscriptionResponse{Subscription: sub})
}

func (h *SubscriptionHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantID(r.Context())
	if !ok {
		writeError(w, utils.ErrTenantKeyRequired)
		return
	}

	var req models.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, utils.ErrInvalidRequest)
		return
	}

	sub, err := h.service.Update(r.Context(), tenantID, mux.Vars(r)["id"], &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SubscriptionResponse{Subscription: sub})
}

func (h *SubscriptionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantID(r.Context())
	if !ok {
		writeError(w, utils.ErrTenantKeyRequired)
		return
	}

	if err := h.service.Delete(r.Context(), tenantID, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantID(r.Context())
	if !ok {
		writeError(w, utils.ErrTenantKeyRequired)
		return
	}

	sub, err := h.service.Enable(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SubscriptionResponse{Subscription: sub})
}

func (h *SubscriptionHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantID(r.Context())
	if !ok {
		writeError(w, utils.ErrTenantKeyRequired)
		return
	}

	sub, err := h.service.Disable(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SubscriptionResponse{Subscription: sub})
}

func (h *SubscriptionHandler) HandleSendTest(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantID(r.Context())
	if !ok {
		writeError(w, utils.ErrTenantKeyRequired)
		return
	}

	delivery, err := h.service.SendTest(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.DeliveryResponse{Delivery: delivery})
}

func (h *SubscriptionHandler) HandleListDeliveries(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantID(r.Context())
	if !ok {
		writeError(w, utils.ErrTenantKeyRequired)
		return
	}

	limit := clampLimit(queryInt(r, "limit"))
	offset := queryInt(r, "offset")

	deliveries, err := h.service.ListDeliveries(r.Context(), tenantID, mux.Vars(r)["id"], limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.DeliveryListResponse{Deliveries: deliveries, Total: len(deliveries)})
}
