package attendance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validity is the result of checking a presented code against a session.
type Validity int

const (
	Valid Validity = iota
	Expired
	Mismatch
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	default:
		return "mismatch"
	}
}

// Err maps a validity to its error kind; Valid maps to nil.
func (v Validity) Err() error {
	switch v {
	case Valid:
		return nil
	case Expired:
		return ErrQRExpired
	default:
		return ErrQRMismatch
	}
}

// Issued is a freshly generated QR code.
type Issued struct {
	ClassID     string
	Code        string
	IssuedAt    time.Time
	ActiveUntil time.Time
}

// IssueCode generates a new code for session at now. The session's slot is
// overwritten in place; persisting it is the caller's job.
func IssueCode(session *ClassSession, now time.Time) Issued {
	code := uuid.NewString()
	until := now.Add(session.QRDuration())
	session.CurrentQRCode = &code
	session.QRActiveUntil = &until
	return Issued{ClassID: session.ID, Code: code, IssuedAt: now, ActiveUntil: until}
}

// ValidateCode checks code against the session's single slot. The expiry
// bound is inclusive.
func ValidateCode(session ClassSession, code string, now time.Time) Validity {
	if session.CurrentQRCode == nil || code == "" || *session.CurrentQRCode != code {
		return Mismatch
	}
	if session.QRActiveUntil == nil || now.After(*session.QRActiveUntil) {
		return Expired
	}
	return Valid
}

// Payload is the JSON blob embedded in the QR image.
type Payload struct {
	ClassID   string    `json:"classId"`
	Code      string    `json:"qrCode"`
	Timestamp time.Time `json:"timestamp"`
}

// Payload returns the scannable payload for an issued code.
func (i Issued) Payload() Payload {
	return Payload{ClassID: i.ClassID, Code: i.Code, Timestamp: i.IssuedAt}
}

// EncodePayload serializes p for embedding in a QR image.
func EncodePayload(p Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode qr payload: %w", err)
	}
	return string(b), nil
}

// DecodePayload parses a scanned blob. Any malformed input is ErrInvalidPayload.
func DecodePayload(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.ClassID == "" || p.Code == "" {
		return Payload{}, fmt.Errorf("%w: classId and qrCode are required", ErrInvalidPayload)
	}
	return p, nil
}
