package users

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"classattend/internal/attendance"
	"classattend/internal/auth"
)

func newService() (*Service, *attendance.MemoryStore) {
	roster := attendance.NewMemoryStore()
	svc := NewService(NewMemoryStore(), roster, TokenConfig{Issuer: "test", SigningKey: "k", TTL: time.Hour}, zerolog.Nop())
	return svc, roster
}

func TestRegisterStudentCreatesProfile(t *testing.T) {
	svc, roster := newService()
	ctx := context.Background()

	u, tok, err := svc.Register(ctx, RegisterInput{
		Email: " Ana@School.edu ", Password: "secret1", FirstName: "Ana", LastName: "Pérez",
		Role: auth.RoleStudent, Matricula: "A001",
	})
	require.NoError(t, err)
	require.Equal(t, "ana@school.edu", u.Email)
	require.NotEmpty(t, u.StudentID)
	require.Empty(t, u.TeacherID)

	st, err := roster.GetStudent(ctx, u.StudentID)
	require.NoError(t, err)
	require.Equal(t, "A001", st.Matricula)

	claims, err := auth.Parse(tok.AccessToken, "k", "test")
	require.NoError(t, err)
	require.Equal(t, u.StudentID, claims.StudentID)
	require.Equal(t, auth.RoleStudent, claims.Role)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	cases := []RegisterInput{
		{Email: "bad", Password: "secret1", FirstName: "Ana", LastName: "Pérez", Role: auth.RoleTeacher},
		{Email: "a@b.co", Password: "123", FirstName: "Ana", LastName: "Pérez", Role: auth.RoleTeacher},
		{Email: "a@b.co", Password: "secret1", FirstName: "Ana", LastName: "Pérez", Role: "ADMIN"},
		{Email: "a@b.co", Password: "secret1", FirstName: "Ana", LastName: "Pérez", Role: auth.RoleStudent},
	}
	for _, in := range cases {
		_, _, err := svc.Register(ctx, in)
		require.ErrorIs(t, err, attendance.ErrInvalidInput, in)
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	u, _, err := svc.Register(ctx, RegisterInput{
		Email: "prof@school.edu", Password: "secret1", FirstName: "Luis", LastName: "Gómez", Role: auth.RoleTeacher,
	})
	require.NoError(t, err)
	require.NotEmpty(t, u.TeacherID)

	_, _, err = svc.Register(ctx, RegisterInput{
		Email: "prof@school.edu", Password: "secret1", FirstName: "Luis", LastName: "Gómez", Role: auth.RoleTeacher,
	})
	require.ErrorIs(t, err, ErrEmailTaken)

	_, _, err = svc.Login(ctx, "prof@school.edu", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody@school.edu", "secret1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	got, tok, err := svc.Login(ctx, "PROF@school.edu", "secret1")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.NotEmpty(t, tok.AccessToken)
}

func TestRegisterRejectsClaimedMatricula(t *testing.T) {
	svc, roster := newService()
	ctx := context.Background()

	ana, _, err := svc.Register(ctx, RegisterInput{
		Email: "ana@school.edu", Password: "secret1", FirstName: "Ana", LastName: "Pérez",
		Role: auth.RoleStudent, Matricula: "A001",
	})
	require.NoError(t, err)

	_, _, err = svc.Register(ctx, RegisterInput{
		Email: "eve@school.edu", Password: "secret1", FirstName: "Eve", LastName: "Mallory",
		Role: auth.RoleStudent, Matricula: "A001",
	})
	require.ErrorIs(t, err, ErrMatriculaTaken)

	st, err := roster.GetStudent(ctx, ana.StudentID)
	require.NoError(t, err)
	require.Equal(t, "Ana", st.FirstName)
	require.Equal(t, "ana@school.edu", st.Email)

	_, _, err = svc.Login(ctx, "eve@school.edu", "secret1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterClaimsImportedProfile(t *testing.T) {
	svc, roster := newService()
	ctx := context.Background()

	imported, err := roster.UpsertStudent(ctx, attendance.Student{Matricula: "B002", FirstName: "Beto", LastName: "Díaz"})
	require.NoError(t, err)

	u, _, err := svc.Register(ctx, RegisterInput{
		Email: "beto@school.edu", Password: "secret1", FirstName: "Alberto", LastName: "Díaz",
		Role: auth.RoleStudent, Matricula: "B002",
	})
	require.NoError(t, err)
	require.Equal(t, imported.ID, u.StudentID)

	st, err := roster.GetStudent(ctx, imported.ID)
	require.NoError(t, err)
	require.Equal(t, "Alberto", st.FirstName)
	require.Equal(t, "beto@school.edu", st.Email)
}

func TestFailedRegistrationLeavesProfileUnchanged(t *testing.T) {
	svc, roster := newService()
	ctx := context.Background()

	_, _, err := svc.Register(ctx, RegisterInput{
		Email: "ana@school.edu", Password: "secret1", FirstName: "Ana", LastName: "Pérez",
		Role: auth.RoleStudent, Matricula: "A001",
	})
	require.NoError(t, err)
	imported, err := roster.UpsertStudent(ctx, attendance.Student{Matricula: "B002", FirstName: "Beto", LastName: "Díaz"})
	require.NoError(t, err)

	_, _, err = svc.Register(ctx, RegisterInput{
		Email: "ana@school.edu", Password: "secret1", FirstName: "Eve", LastName: "Mallory",
		Role: auth.RoleStudent, Matricula: "B002",
	})
	require.ErrorIs(t, err, ErrEmailTaken)

	st, err := roster.GetStudent(ctx, imported.ID)
	require.NoError(t, err)
	require.Equal(t, "Beto", st.FirstName)
	require.Empty(t, st.Email)
}

func TestRefreshRotatesTokens(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	u, first, err := svc.Register(ctx, RegisterInput{
		Email: "prof@school.edu", Password: "secret1", FirstName: "Luis", LastName: "Gómez", Role: auth.RoleTeacher,
	})
	require.NoError(t, err)

	got, second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.NotEqual(t, first.RefreshID, second.RefreshID)

	_, _, err = svc.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefresh)

	_, _, err = svc.Refresh(ctx, second.AccessToken)
	require.ErrorIs(t, err, ErrInvalidRefresh)

	_, _, err = svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}
