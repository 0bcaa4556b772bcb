package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harborpoint/bookingbridge/pkg/booking"
	"github.com/harborpoint/bookingbridge/pkg/swrcache"
)

// maxErrorMessageBytes bounds surfaced error text so oversized dependency
// payloads never leak into responses.
const maxErrorMessageBytes = 300

const (
	errorCodeValidation = "validation_error"
	errorCodeAuth       = "auth_error"
	errorCodeNotFound   = "not_found"
	errorCodeDependency = "dependency_error"
)

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"ok": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, booking.ErrValidation), errors.Is(err, swrcache.ErrEmptyKey):
		return http.StatusBadRequest, errorCodeValidation
	case errors.Is(err, booking.ErrAuth):
		return http.StatusUnauthorized, errorCodeAuth
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, errorCodeNotFound
	default:
		return http.StatusInternalServerError, errorCodeDependency
	}
}

func respondError(ctx *gin.Context, err error) {
	status, code := statusForError(err)
	ctx.JSON(status, errorResponse(code, truncateMessage(err.Error())))
}

func truncateMessage(message string) string {
	if len(message) > maxErrorMessageBytes {
		return message[:maxErrorMessageBytes]
	}
	return message
}
