// Package devices tracks the devices students sign in from. A device holds
// at most one active session; opening a new one closes the previous.
package devices

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"classattend/internal/attendance"
	"classattend/internal/clock"
)

const (
	maxDeviceID  = 128
	maxUserAgent = 512
)

// Session is one sign-in of a student on a device.
type Session struct {
	ID         string     `json:"id"`
	StudentID  string     `json:"student_id"`
	DeviceID   string     `json:"device_id"`
	IPAddress  string     `json:"ip_address,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	IsActive   bool       `json:"is_active"`
	LoginTime  time.Time  `json:"login_time"`
	LogoutTime *time.Time `json:"logout_time,omitempty"`
}

// Store persists sessions.
type Store interface {
	// Open closes the device's active sessions at s.LoginTime and stores s,
	// as one unit.
	Open(ctx context.Context, s Session) (Session, error)
	// CloseForStudent ends every active session of the student and returns
	// how many were closed.
	CloseForStudent(ctx context.Context, studentID string, at time.Time) (int64, error)
	Active(ctx context.Context, studentID string) ([]Session, error)
}

// Service opens and closes device sessions.
type Service struct {
	store Store
	clock clock.Clock
	log   zerolog.Logger
}

// NewService creates a session service.
func NewService(store Store, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{store: store, clock: clk, log: logger.With().Str("component", "devices").Logger()}
}

// Start opens a session for the student on deviceID.
func (s *Service) Start(ctx context.Context, studentID, deviceID, ip, userAgent string) (Session, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || len(deviceID) > maxDeviceID {
		return Session{}, fmt.Errorf("%w: device id is required and at most %d characters", attendance.ErrInvalidInput, maxDeviceID)
	}
	if len(userAgent) > maxUserAgent {
		userAgent = userAgent[:maxUserAgent]
	}
	sess, err := s.store.Open(ctx, Session{
		StudentID: studentID,
		DeviceID:  deviceID,
		IPAddress: ip,
		UserAgent: userAgent,
		IsActive:  true,
		LoginTime: s.clock.Now(),
	})
	if err != nil {
		return Session{}, err
	}
	s.log.Info().Str("student_id", studentID).Str("session_id", sess.ID).Msg("device session opened")
	return sess, nil
}

// End closes the student's active sessions. It returns
// attendance.ErrSessionNotFound when none was open.
func (s *Service) End(ctx context.Context, studentID string) (int64, error) {
	n, err := s.store.CloseForStudent(ctx, studentID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, attendance.ErrSessionNotFound
	}
	s.log.Info().Str("student_id", studentID).Int64("closed", n).Msg("device sessions closed")
	return n, nil
}

// Active lists the student's open sessions.
func (s *Service) Active(ctx context.Context, studentID string) ([]Session, error) {
	return s.store.Active(ctx, studentID)
}
