package attendance

import "errors"

// Error kinds surfaced to callers. Each carries a stable code so clients can
// render kind-specific guidance.
var (
	ErrClassNotFound       = newKind("class_not_found", "class not found")
	ErrSessionNotFound     = newKind("session_not_found", "session not found")
	ErrAttendanceNotFound  = newKind("attendance_not_found", "attendance record not found")
	ErrStudentNotFound     = newKind("student_not_found", "student not found")
	ErrInvalidPayload      = newKind("invalid_payload", "qr payload could not be decoded")
	ErrOutsideAccessWindow = newKind("outside_access_window", "class is not open at this time")
	ErrQRExpired           = newKind("qr_expired", "qr code expired, ask your teacher to regenerate it")
	ErrQRMismatch          = newKind("qr_mismatch", "qr code is not the current code for this class")
	ErrNotEnrolled         = newKind("not_enrolled", "student is not enrolled in this class")
	ErrAlreadyRegistered   = newKind("already_registered", "attendance already registered for this class")
	ErrInvalidStatus       = newKind("invalid_status", "unknown attendance status")
	ErrInvalidInput        = newKind("invalid_input", "invalid input")
	ErrStorageUnavailable  = newKind("storage_unavailable", "storage unavailable")
)

// Kind is a sentinel error with a machine-readable code.
type Kind struct {
	Code    string
	Message string
}

func newKind(code, msg string) *Kind {
	return &Kind{Code: code, Message: msg}
}

func (k *Kind) Error() string { return k.Message }

// CodeOf returns the kind code of err, or "internal" when err carries none.
func CodeOf(err error) string {
	var k *Kind
	if errors.As(err, &k) {
		return k.Code
	}
	return "internal"
}
