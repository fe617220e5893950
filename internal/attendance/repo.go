package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const uniqueViolation = "23505"

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a repo.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

type classRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Code        string         `db:"code"`
	TeacherID   string         `db:"teacher_id"`
	Schedule    []byte         `db:"schedule"`
	ActiveCode  sql.NullString `db:"active_code"`
	CodeExpires sql.NullTime   `db:"code_expires"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r classRow) class() (Class, error) {
	c := Class{
		ID:         r.ID,
		Name:       r.Name,
		Code:       r.Code,
		TeacherID:  r.TeacherID,
		ActiveCode: r.ActiveCode.String,
		CreatedAt:  r.CreatedAt,
		Students:   []string{},
	}
	if r.CodeExpires.Valid {
		c.CodeExpires = r.CodeExpires.Time
	}
	if len(r.Schedule) > 0 {
		if err := json.Unmarshal(r.Schedule, &c.Schedule); err != nil {
			return Class{}, fmt.Errorf("decode schedule of class %s: %w", r.ID, err)
		}
	}
	return c, nil
}

type recordRow struct {
	ID        string    `db:"id"`
	StudentID string    `db:"student_id"`
	TeacherID string    `db:"teacher_id"`
	ClassID   string    `db:"class_id"`
	Day       string    `db:"day"`
	Code      string    `db:"code"`
	Lat       float64   `db:"lat"`
	Lng       float64   `db:"lng"`
	CreatedAt time.Time `db:"created_at"`
}

func (r recordRow) record() Record {
	return Record{
		ID:        r.ID,
		StudentID: r.StudentID,
		TeacherID: r.TeacherID,
		ClassID:   r.ClassID,
		Day:       r.Day,
		Code:      r.Code,
		Location:  Location{Lat: r.Lat, Lng: r.Lng},
		CreatedAt: r.CreatedAt,
	}
}

const (
	userColumns   = `id, name, email, password_hash, role, created_at`
	classColumns  = `id, name, code, teacher_id, schedule, active_code, code_expires, created_at`
	recordColumns = `id, student_id, teacher_id, class_id, day, code, lat, lng, created_at`
)

// CreateUser inserts a user; the email column is unique.
func (r *Repository) CreateUser(ctx context.Context, u User) (User, error) {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, created_at)
		VALUES (:id, :name, :email, :password_hash, :role, :created_at)
	`, u)
	if isUniqueViolation(err) {
		return User{}, ErrEmailTaken
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// UserByID returns a single user.
func (r *Repository) UserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return u, notFound(err)
}

// UserByEmail returns a single user by email.
func (r *Repository) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return u, notFound(err)
}

// UsersByIDs returns the users that exist among ids.
func (r *Repository) UsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []User
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
	return users, err
}

// CreateClass inserts a class; the code column is unique.
func (r *Repository) CreateClass(ctx context.Context, c Class) (Class, error) {
	schedule, err := json.Marshal(c.Schedule)
	if err != nil {
		return Class{}, err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO classes (id, name, code, teacher_id, schedule, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Name, c.Code, c.TeacherID, schedule, c.CreatedAt)
	if isUniqueViolation(err) {
		return Class{}, ErrClassCodeTaken
	}
	if err != nil {
		return Class{}, err
	}
	return c, nil
}

// ClassByID returns a class with its roster.
func (r *Repository) ClassByID(ctx context.Context, id string) (Class, error) {
	return r.oneClass(ctx, `SELECT `+classColumns+` FROM classes WHERE id = $1`, id)
}

// ClassByCode returns a class by its catalogue code.
func (r *Repository) ClassByCode(ctx context.Context, code string) (Class, error) {
	return r.oneClass(ctx, `SELECT `+classColumns+` FROM classes WHERE code = $1`, code)
}

// ClassByActiveCode returns the class whose code is live at now.
func (r *Repository) ClassByActiveCode(ctx context.Context, code string, now time.Time) (Class, error) {
	return r.oneClass(ctx, `
		SELECT `+classColumns+` FROM classes
		WHERE active_code = $1 AND code_expires > $2
		ORDER BY code_expires DESC
		LIMIT 1
	`, code, now)
}

// ClassesByTeacher lists a teacher's classes.
func (r *Repository) ClassesByTeacher(ctx context.Context, teacherID string) ([]Class, error) {
	return r.manyClasses(ctx, `SELECT `+classColumns+` FROM classes WHERE teacher_id = $1 ORDER BY created_at`, teacherID)
}

// ClassesByStudent lists the classes a student is enrolled in.
func (r *Repository) ClassesByStudent(ctx context.Context, studentID string) ([]Class, error) {
	return r.manyClasses(ctx, `
		SELECT `+classColumns+` FROM classes
		WHERE id IN (SELECT class_id FROM class_students WHERE student_id = $1)
		ORDER BY created_at
	`, studentID)
}

// EnrollStudent adds a student to a roster; enrolling twice is a no-op.
func (r *Repository) EnrollStudent(ctx context.Context, classID, studentID string) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO class_students (class_id, student_id)
		SELECT id, $2 FROM classes WHERE id = $1
		ON CONFLICT (class_id, student_id) DO NOTHING
	`, classID, studentID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := r.ClassByID(ctx, classID); err != nil {
			return err
		}
	}
	return nil
}

// SetActiveCode overwrites the grant under a row lock and returns the previous one.
func (r *Repository) SetActiveCode(ctx context.Context, classID, teacherID string, g Grant) (Grant, error) {
	var prev struct {
		Code    sql.NullString `db:"active_code"`
		Expires sql.NullTime   `db:"code_expires"`
	}
	err := r.db.GetContext(ctx, &prev, `
		UPDATE classes AS c
		SET active_code = $3, code_expires = $4
		FROM (
			SELECT id, active_code, code_expires FROM classes
			WHERE id = $1 AND teacher_id = $2
			FOR UPDATE
		) AS old
		WHERE c.id = old.id
		RETURNING old.active_code, old.code_expires
	`, classID, teacherID, g.Code, g.ExpiresAt)
	if err = notFound(err); err != nil {
		return Grant{}, err
	}
	out := Grant{Code: prev.Code.String}
	if prev.Expires.Valid {
		out.ExpiresAt = prev.Expires.Time
	}
	return out, nil
}

// InsertRecord relies on the (student_id, class_id, day) unique key, so concurrent
// redemptions by the same student for the same class and day yield one row.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, student_id, teacher_id, class_id, day, code, lat, lng, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (student_id, class_id, day) DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.StudentID, rec.TeacherID, rec.ClassID, rec.Day, rec.Code, rec.Location.Lat, rec.Location.Lng, rec.CreatedAt)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrDuplicateSubmission
		}
		return Record{}, err
	}
	return rec, nil
}

// CountRecords counts a student's records in a class.
func (r *Repository) CountRecords(ctx context.Context, studentID, classID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM attendance WHERE student_id = $1 AND class_id = $2`, studentID, classID)
	return n, err
}

// RecordsForStudent returns a student's records in a class, newest first.
func (r *Repository) RecordsForStudent(ctx context.Context, studentID, classID string) ([]Record, error) {
	return r.records(ctx, `
		SELECT `+recordColumns+` FROM attendance
		WHERE student_id = $1 AND class_id = $2
		ORDER BY created_at DESC
	`, studentID, classID)
}

// RecordsForDay returns a teacher's records for one day, optionally for one class.
func (r *Repository) RecordsForDay(ctx context.Context, teacherID, classID, day string) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance WHERE teacher_id = $1 AND day = $2`
	args := []any{teacherID, day}
	if classID != "" {
		query += ` AND class_id = $3`
		args = append(args, classID)
	}
	return r.records(ctx, query+` ORDER BY created_at`, args...)
}

// AppendAudit writes one audit row.
func (r *Repository) AppendAudit(ctx context.Context, e AuditEntry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO attendance_audit (kind, class_id, actor_id, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.Kind, e.ClassID, e.ActorID, detail, e.OccurredAt)
	return err
}

func (r *Repository) oneClass(ctx context.Context, query string, args ...any) (Class, error) {
	var row classRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		return Class{}, notFound(err)
	}
	c, err := row.class()
	if err != nil {
		return Class{}, err
	}
	if err := r.attachRosters(ctx, []*Class{&c}); err != nil {
		return Class{}, err
	}
	return c, nil
}

func (r *Repository) manyClasses(ctx context.Context, query string, args ...any) ([]Class, error) {
	var rows []classRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]Class, 0, len(rows))
	for _, row := range rows {
		c, err := row.class()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	ptrs := make([]*Class, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	return out, r.attachRosters(ctx, ptrs)
}

func (r *Repository) attachRosters(ctx context.Context, classes []*Class) error {
	if len(classes) == 0 {
		return nil
	}
	byID := make(map[string]*Class, len(classes))
	ids := make([]string, 0, len(classes))
	for _, c := range classes {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}
	var links []struct {
		ClassID   string `db:"class_id"`
		StudentID string `db:"student_id"`
	}
	if err := r.db.SelectContext(ctx, &links, `
		SELECT class_id, student_id FROM class_students
		WHERE class_id = ANY($1)
		ORDER BY enrolled_at, student_id
	`, ids); err != nil {
		return err
	}
	for _, l := range links {
		if c := byID[l.ClassID]; c != nil {
			c.Students = append(c.Students, l.StudentID)
		}
	}
	return nil
}

func (r *Repository) records(ctx context.Context, query string, args ...any) ([]Record, error) {
	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
