package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/betchain/settlementd/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain and ledger errors onto the HTTP taxonomy:
// conflicts 409, unknown ids 404, validation 400, ledger reverts 422 with
// the revert reason, everything else 500 with a generic message.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrAlreadyBet):
		writeError(w, http.StatusConflict, domain.ErrAlreadyBet.Error())
	case errors.Is(err, domain.ErrAlreadyClaimed):
		writeError(w, http.StatusConflict, domain.ErrAlreadyClaimed.Error())
	case errors.Is(err, domain.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, domain.ErrAlreadyResolved.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, domain.ErrAlreadyExists.Error())
	case errors.Is(err, domain.ErrNothingToClaim):
		writeError(w, http.StatusBadRequest, domain.ErrNothingToClaim.Error())
	case errors.Is(err, domain.ErrUserCancelled):
		writeError(w, http.StatusBadRequest, domain.ErrUserCancelled.Error())
	case errors.Is(err, domain.ErrMergeInconsistent):
		writeError(w, http.StatusBadRequest, domain.ErrMergeInconsistent.Error())
	case domain.IsLedgerKind(err, domain.LedgerReverted):
		var le *domain.LedgerError
		errors.As(err, &le)
		writeError(w, http.StatusUnprocessableEntity, le.Reason)
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// parseListOpts extracts standard pagination parameters from the query
// string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// pathID parses a numeric path parameter.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(pathParam(r, name), 10, 64)
	return id, err == nil
}
