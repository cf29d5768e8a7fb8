package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var ve *shared.ValidationError
	var ce *shared.ConflictError
	switch {
	case errors.As(err, &ve):
		JSON(w, http.StatusUnprocessableEntity, ProblemDetail{
			Title:      "Validation Failed",
			Status:     http.StatusUnprocessableEntity,
			Detail:     ve.Error(),
			Violations: ve.Violations,
		})
	case errors.As(err, &ce):
		JSON(w, http.StatusConflict, ProblemDetail{
			Title:  "Conflict",
			Status: http.StatusConflict,
			Detail: ce.Error(),
		})
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
