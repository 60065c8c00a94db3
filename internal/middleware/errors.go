package middleware

import (
	"encoding/json"
	"net/http"

	"mediaflow/internal/i18n"
)

// ErrorBody is the JSON envelope of every API error.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError renders a localized error for code.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code string, args ...any) {
	WriteErrorDetail(w, r, status, ErrorDetail{Code: code}, args...)
}

// WriteErrorDetail renders detail, filling Message from the catalog when empty.
func WriteErrorDetail(w http.ResponseWriter, r *http.Request, status int, detail ErrorDetail, args ...any) {
	if detail.Message == "" {
		key := detail.Code
		if !i18n.Has(key) {
			key = "internal_error"
		}
		detail.Message = i18n.Message(LocaleFromContext(r.Context()), key, args...)
	}
	detail.RequestID = RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: detail})
}
