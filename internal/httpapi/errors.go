package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"classattend/internal/attendance"
	"classattend/internal/users"
)

// statusOf maps domain error kinds onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, attendance.ErrClassNotFound),
		errors.Is(err, attendance.ErrSessionNotFound),
		errors.Is(err, attendance.ErrAttendanceNotFound),
		errors.Is(err, attendance.ErrStudentNotFound),
		errors.Is(err, users.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrInvalidPayload),
		errors.Is(err, attendance.ErrInvalidInput),
		errors.Is(err, attendance.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrOutsideAccessWindow),
		errors.Is(err, attendance.ErrNotEnrolled):
		return http.StatusForbidden
	case errors.Is(err, attendance.ErrAlreadyRegistered),
		errors.Is(err, users.ErrEmailTaken),
		errors.Is(err, users.ErrMatriculaTaken):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrQRExpired):
		return http.StatusGone
	case errors.Is(err, attendance.ErrQRMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, users.ErrInvalidCredentials),
		errors.Is(err, users.ErrInvalidRefresh):
		return http.StatusUnauthorized
	case errors.Is(err, attendance.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func codeOf(err error) string {
	switch {
	case errors.Is(err, users.ErrNotFound):
		return "user_not_found"
	case errors.Is(err, users.ErrEmailTaken):
		return "email_taken"
	case errors.Is(err, users.ErrMatriculaTaken):
		return "matricula_taken"
	case errors.Is(err, users.ErrInvalidRefresh):
		return "invalid_refresh"
	case errors.Is(err, users.ErrInvalidCredentials):
		return "invalid_credentials"
	}
	return attendance.CodeOf(err)
}

// writeError renders err as {"error": ..., "code": ...}. Internal failures
// are logged and hidden from the client.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		if status == http.StatusInternalServerError {
			msg = "internal error"
		} else {
			msg = attendance.ErrStorageUnavailable.Message
		}
	}
	c.JSON(status, gin.H{"error": msg, "code": codeOf(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": attendance.ErrInvalidInput.Code})
}
