package attendance

import (
	"context"
	"time"
)

// Store is the persistence contract shared by the Postgres, Mongo and in-memory backends.
type Store interface {
	CreateUser(ctx context.Context, u User) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UsersByIDs(ctx context.Context, ids []string) ([]User, error)

	CreateClass(ctx context.Context, c Class) (Class, error)
	ClassByID(ctx context.Context, id string) (Class, error)
	ClassByCode(ctx context.Context, code string) (Class, error)
	ClassesByTeacher(ctx context.Context, teacherID string) ([]Class, error)
	ClassesByStudent(ctx context.Context, studentID string) ([]Class, error)
	EnrollStudent(ctx context.Context, classID, studentID string) error

	// SetActiveCode replaces the class's grant in one step and returns the grant it replaced.
	// It returns ErrNotFound unless the class exists and is owned by teacherID.
	SetActiveCode(ctx context.Context, classID, teacherID string, g Grant) (Grant, error)
	// ClassByActiveCode finds the class whose active code equals code and expires after now.
	ClassByActiveCode(ctx context.Context, code string, now time.Time) (Class, error)

	// InsertRecord fails with ErrDuplicateSubmission when (student, class, day) already exists.
	InsertRecord(ctx context.Context, r Record) (Record, error)
	CountRecords(ctx context.Context, studentID, classID string) (int, error)
	RecordsForStudent(ctx context.Context, studentID, classID string) ([]Record, error)
	// RecordsForDay returns a teacher's records for day; classID narrows when non-empty.
	RecordsForDay(ctx context.Context, teacherID, classID, day string) ([]Record, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
}
