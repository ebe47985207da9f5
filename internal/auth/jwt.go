package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in tokens.
const (
	RoleTeacher = "TEACHER"
	RoleStudent = "STUDENT"
)

// Identity is the verified caller the core trusts.
type Identity struct {
	UserID    string
	Role      string
	StudentID string
	TeacherID string
}

// Token types carried in the typ claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// TokenPair holds access and refresh tokens. RefreshID identifies the
// refresh token for rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	RefreshID    string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload.
type Claims struct {
	Role      string `json:"role"`
	Type      string `json:"typ"`
	StudentID string `json:"studentId,omitempty"`
	TeacherID string `json:"teacherId,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the caller described by the claims.
func (c Claims) Identity() Identity {
	return Identity{UserID: c.Subject, Role: c.Role, StudentID: c.StudentID, TeacherID: c.TeacherID}
}

// Issue signs access and refresh tokens for id.
func Issue(id Identity, issuer, key string, accessTTL, refreshTTL time.Duration, now time.Time) (TokenPair, error) {
	accessExp := now.Add(accessTTL)
	refreshExp := now.Add(refreshTTL)
	refreshID := uuid.NewString()

	accessToken, err := sign(id, TypeAccess, "", issuer, key, accessExp, now)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := sign(id, TypeRefresh, refreshID, issuer, key, refreshExp, now)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		RefreshID:    refreshID,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func sign(id Identity, typ, tokenID, issuer, key string, exp, now time.Time) (string, error) {
	claims := Claims{
		Role:      id.Role,
		Type:      typ,
		StudentID: id.StudentID,
		TeacherID: id.TeacherID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    issuer,
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

// ParseRefresh validates a refresh token.
func ParseRefresh(tokenStr, key, issuer string) (Claims, error) {
	claims, err := Parse(tokenStr, key, issuer)
	if err != nil {
		return Claims{}, err
	}
	if claims.Type != TypeRefresh || claims.ID == "" {
		return Claims{}, errors.New("not a refresh token")
	}
	return claims, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
