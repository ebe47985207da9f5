package attendance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateClassValidation(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	_, err := svc.CreateClass(ctx, teacherID, ClassInput{Name: "Al", StartTime: at(10, 0), EndTime: at(11, 0)})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateClass(ctx, teacherID, ClassInput{Name: "Algebra", StartTime: at(11, 0), EndTime: at(11, 0)})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateClass(ctx, teacherID, ClassInput{Name: "Algebra", StartTime: at(10, 0), EndTime: at(11, 0), QRDurationMinutes: -5})
	require.ErrorIs(t, err, ErrInvalidInput)

	class, err := svc.CreateClass(ctx, teacherID, ClassInput{Name: "Algebra", StartTime: at(10, 0), EndTime: at(11, 0), QRDurationMinutes: 10})
	require.NoError(t, err)
	require.Equal(t, 10, class.QRDurationMinutes)
	require.True(t, class.IsActive)
}

func TestClassesHiddenFromOtherTeachers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetClass(ctx, "teacher-2", f.class.ID)
	require.ErrorIs(t, err, ErrClassNotFound)

	classes, err := f.svc.ListClasses(ctx, "teacher-2")
	require.NoError(t, err)
	require.Empty(t, classes)

	classes, err = f.svc.ListClasses(ctx, teacherID)
	require.NoError(t, err)
	require.Len(t, classes, 1)
}

func TestActiveClasses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.Set(at(9, 57))
	classes, err := f.svc.ActiveClasses(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Empty(t, classes)

	f.clock.Set(at(9, 58))
	classes, err = f.svc.ActiveClasses(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, classes, 1)

	require.NoError(t, f.svc.SetActive(ctx, teacherID, f.class.ID, false))
	classes, err = f.svc.ActiveClasses(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Empty(t, classes)
}

func TestImportRosterAndListAttendances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.ImportRoster(ctx, teacherID, f.class.ID, []Student{
		{Matricula: "B002", FirstName: "Bob", LastName: "Builder"},
		{Matricula: ""},
		{Matricula: "A001", FirstName: "Alicia"},
	})
	require.NoError(t, err)
	require.Len(t, res.Imported, 2)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, f.alice.ID, res.Imported[1].ID)

	issued := f.issue(t, at(10, 0))
	_, err = f.scan(t, f.alice.ID, payloadOf(t, issued), at(10, 1))
	require.NoError(t, err)

	_, rows, err := f.svc.ListAttendances(ctx, teacherID, f.class.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "A001", rows[0].Student.Matricula)
	require.Equal(t, "Alicia", rows[0].Student.FirstName)
	require.NotNil(t, rows[0].Record)
	require.Nil(t, rows[1].Record)

	require.NoError(t, f.svc.RemoveStudent(ctx, teacherID, f.class.ID, rows[1].Student.ID))
	_, rows, err = f.svc.ListAttendances(ctx, teacherID, f.class.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestFreeTextIsStripped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	class, err := f.svc.CreateClass(ctx, teacherID, ClassInput{
		Name:      "<b>Física</b> II",
		Location:  `Aula <script>alert(1)</script>3`,
		StartTime: at(12, 0),
		EndTime:   at(13, 0),
	})
	require.NoError(t, err)
	require.Equal(t, "Física II", class.Name)
	require.Equal(t, "Aula 3", class.Location)

	st, err := f.svc.AddStudent(ctx, teacherID, class.ID, Student{Matricula: "C003", FirstName: "Seán", LastName: "O'Brien"})
	require.NoError(t, err)
	require.Equal(t, "O'Brien", st.LastName)
}

func TestStudentProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.svc.StudentProfile(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Equal(t, "A001", st.Matricula)

	_, err = f.svc.StudentProfile(ctx, "missing")
	require.ErrorIs(t, err, ErrStudentNotFound)

	byMatricula, err := f.store.StudentByMatricula(ctx, "A001")
	require.NoError(t, err)
	require.Equal(t, f.alice.ID, byMatricula.ID)
}
