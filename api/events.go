package api

import (
	"net/http"

	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
)

type createEventResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId"`
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var req event.Input
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	evt, err := h.relay.Ingest(r.Context(), req)
	if err != nil {
		if evt != nil {
			// Persisted but not fanned out: the caller must not resend.
			h.logger.ErrorContext(r.Context(), "event fan-out failed",
				"event_id", evt.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "Event processing failed")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createEventResponse{Success: true, EventID: evt.ID.String()})
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	opts := event.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Type:   queryParam(r, "eventType"),
		Status: event.Status(queryParam(r, "status")),
	}

	events, err := h.relay.Events(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "No Events found")
		return
	}

	evt, getErr := h.relay.Event(r.Context(), evtID)
	if getErr != nil {
		h.writeServiceError(w, r, getErr)
		return
	}

	writeJSON(w, http.StatusOK, evt)
}
