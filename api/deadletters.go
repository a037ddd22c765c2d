package api

import (
	"net/http"
	"time"

	"github.com/xraph/hookrelay/dlq"
	"github.com/xraph/hookrelay/id"
)

type bulkRetryRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type bulkRetryResponse struct {
	Message string `json:"message"`
	Retried int64  `json:"retried"`
}

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	opts := dlq.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 100),
	}

	if v := queryParam(r, "subscriptionId"); v != "" {
		subID, err := id.ParseSubscriptionID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid subscriptionId")
			return
		}
		opts.SubscriptionID = subID
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

	records, listErr := h.relay.DLQ().List(r.Context(), opts)
	if listErr != nil {
		h.writeServiceError(w, r, listErr)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) retryDeadLetters(w http.ResponseWriter, r *http.Request) {
	var req bulkRetryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.From.IsZero() || req.To.IsZero() {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	n, err := h.relay.RetryBulk(r.Context(), req.From, req.To)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, bulkRetryResponse{Message: "Retries queued", Retried: n})
}
