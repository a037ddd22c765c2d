package api

import (
	"net/http"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/subscription"
)

type registerWebhookResponse struct {
	Message string                   `json:"message"`
	Webhook *subscription.Registered `json:"webhook"`
}

type updateWebhookRequest struct {
	IsActive *bool `json:"isActive"`
}

func (h *Handler) registerWebhook(w http.ResponseWriter, r *http.Request) {
	var req subscription.Input
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reg, err := h.relay.Subscriptions().Register(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerWebhookResponse{Message: "Webhook registered", Webhook: reg})
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	opts := subscription.ListOpts{
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 0),
		EventType: queryParam(r, "eventType"),
	}
	switch queryParam(r, "isActive") {
	case "true":
		active := true
		opts.Active = &active
	case "false":
		active := false
		opts.Active = &active
	}

	subs, err := h.relay.Subscriptions().List(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) updateWebhook(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}

	var req updateWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "Invalid or missing 'isActive'")
		return
	}

	sub, updateErr := h.relay.Subscriptions().SetActive(r.Context(), subID, *req.IsActive)
	if updateErr != nil {
		h.writeServiceError(w, r, updateErr)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}

	if deleteErr := h.relay.Subscriptions().Delete(r.Context(), subID); deleteErr != nil {
		h.writeServiceError(w, r, deleteErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Webhook deleted"})
}
