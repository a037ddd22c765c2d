package api

import (
	"net/http"
)

type eventTypesResponse struct {
	EventTypes []string `json:"eventTypes"`
}

// listEventTypes returns the event types that carry a payload schema.
func (h *Handler) listEventTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, eventTypesResponse{EventTypes: h.relay.Catalog().Types()})
}
