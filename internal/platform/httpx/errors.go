// Package httpx provides HTTP response utilities.
package httpx

import (
	"net/http"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

var kindStatus = map[shared.Kind]int{
	shared.KindValidation:        http.StatusBadRequest,
	shared.KindAuthorization:     http.StatusForbidden,
	shared.KindProtectedResource: http.StatusForbidden,
	shared.KindConflict:          http.StatusConflict,
	shared.KindNotFound:          http.StatusNotFound,
	shared.KindConsistency:       http.StatusServiceUnavailable,
}

var kindTitle = map[shared.Kind]string{
	shared.KindValidation:        "Validation Failed",
	shared.KindAuthorization:     "Forbidden",
	shared.KindProtectedResource: "Protected Resource",
	shared.KindConflict:          "Conflict",
	shared.KindNotFound:          "Not Found",
	shared.KindConsistency:       "Temporarily Unavailable",
}

// StatusFor returns the HTTP status for err, 500 when it carries no domain kind.
func StatusFor(err error) int {
	if status, ok := kindStatus[shared.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	kind := shared.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	detail := shared.MessageOf(err)
	if detail == "" {
		detail = http.StatusText(status)
	}
	if kind == shared.KindConsistency {
		w.Header().Set("Retry-After", "1")
	}
	JSON(w, status, ProblemDetail{
		Type:   "urn:odyssey-access:problem:" + string(kind),
		Title:  kindTitle[kind],
		Status: status,
		Kind:   string(kind),
		Detail: detail,
	})
}
