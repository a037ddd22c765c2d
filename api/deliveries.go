package api

import (
	"net/http"
	"strconv"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/id"
)

type retryResponse struct {
	Message string `json:"message"`
	JobID   string `json:"jobId"`
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 100),
		Status: delivery.RecordStatus(queryParam(r, "status")),
	}

	if v := queryParam(r, "eventId"); v != "" {
		evtID, err := id.ParseEventID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid eventId")
			return
		}
		opts.EventID = evtID
	}
	if v := queryParam(r, "subscriptionId"); v != "" {
		subID, err := id.ParseSubscriptionID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid subscriptionId")
			return
		}
		opts.SubscriptionID = subID
	}
	if v := queryParam(r, "terminal"); v != "" {
		terminal, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid terminal")
			return
		}
		opts.Terminal = &terminal
	}

	var err error
	if opts.From, err = queryTime(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	if opts.To, err = queryTime(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid to")
		return
	}

	records, listErr := h.relay.Records(r.Context(), opts)
	if listErr != nil {
		h.writeServiceError(w, r, listErr)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) retryDelivery(w http.ResponseWriter, r *http.Request) {
	recID, err := id.ParseRecordID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Delivery not found")
		return
	}

	job, retryErr := h.relay.Retry(r.Context(), recID)
	if retryErr != nil {
		h.writeServiceError(w, r, retryErr)
		return
	}

	writeJSON(w, http.StatusAccepted, retryResponse{Message: "Retry queued", JobID: job.ID.String()})
}
