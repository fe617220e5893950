package attendance

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Person is the public identity of a user embedded in read models.
type Person struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// ClassView is a class with its owner and roster resolved to people.
type ClassView struct {
	Class
	Teacher  *Person  `json:"teacher,omitempty"`
	Students []Person `json:"students,omitempty"`
}

// ClassRef names a class inside a history entry.
type ClassRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// HistoryEntry is one of a student's records with its class and teacher resolved.
type HistoryEntry struct {
	Record
	Status  string   `json:"status"`
	Class   ClassRef `json:"class"`
	Teacher Person   `json:"teacher"`
}

// NewClass is the input for CreateClass.
type NewClass struct {
	Name     string
	Code     string
	Schedule []Session
}

// CreateClass registers a class owned by teacherID. Class codes are globally unique.
func (s *Service) CreateClass(ctx context.Context, teacherID string, nc NewClass) (Class, error) {
	name := strings.TrimSpace(nc.Name)
	code := strings.TrimSpace(nc.Code)
	var flds []FieldError
	if name == "" {
		flds = append(flds, FieldError{Field: "name", Error: "this field is required"})
	}
	if code == "" {
		flds = append(flds, FieldError{Field: "code", Error: "this field is required"})
	}
	if len(flds) > 0 {
		return Class{}, NewValidationError(errors.New("class name and code are required"), flds...)
	}

	schedule := nc.Schedule
	if schedule == nil {
		schedule = []Session{}
	}
	created, err := s.store.CreateClass(ctx, Class{
		ID:        uuid.NewString(),
		Name:      name,
		Code:      code,
		TeacherID: teacherID,
		Schedule:  schedule,
		Students:  []string{},
		CreatedAt: s.now().UTC(),
	})
	if errors.Is(err, ErrClassCodeTaken) {
		return Class{}, NewValidationError(err, FieldError{Field: "code", Error: "Class code already exists, please choose a different one."})
	}
	return created, err
}

// TeacherClasses lists the teacher's classes with rosters resolved.
func (s *Service) TeacherClasses(ctx context.Context, teacherID string) ([]ClassView, error) {
	classes, err := s.store.ClassesByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, c := range classes {
		ids = append(ids, c.Students...)
	}
	people, err := s.usersByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]ClassView, 0, len(classes))
	for _, c := range classes {
		v := ClassView{Class: c, Students: make([]Person, 0, len(c.Students))}
		for _, sid := range c.Students {
			u := people[sid]
			v.Students = append(v.Students, Person{ID: sid, Name: u.Name, Email: u.Email})
		}
		out = append(out, v)
	}
	return out, nil
}

// StudentClasses lists the classes studentID is enrolled in, with teacher names.
func (s *Service) StudentClasses(ctx context.Context, studentID string) ([]ClassView, error) {
	classes, err := s.store.ClassesByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(classes))
	for _, c := range classes {
		ids = append(ids, c.TeacherID)
	}
	people, err := s.usersByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]ClassView, 0, len(classes))
	for _, c := range classes {
		t := people[c.TeacherID]
		out = append(out, ClassView{Class: c, Teacher: &Person{ID: c.TeacherID, Name: t.Name}})
	}
	return out, nil
}

// StudentHistory returns the student's records for classID, newest first.
func (s *Service) StudentHistory(ctx context.Context, studentID, classID string) ([]HistoryEntry, error) {
	records, err := s.store.RecordsForStudent(ctx, studentID, classID)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(records))
	if len(records) == 0 {
		return out, nil
	}

	cls, err := s.store.ClassByID(ctx, classID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	teacher, err := s.store.UserByID(ctx, cls.TeacherID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	for _, r := range records {
		out = append(out, HistoryEntry{
			Record:  r,
			Status:  StatusPresent,
			Class:   ClassRef{ID: classID, Name: cls.Name, Code: cls.Code},
			Teacher: Person{ID: teacher.ID, Name: teacher.Name},
		})
	}
	return out, nil
}

// ActiveGrant returns the class's live code for its owner.
func (s *Service) ActiveGrant(ctx context.Context, teacherID, classID string) (Grant, error) {
	cls, err := s.store.ClassByID(ctx, classID)
	if err != nil {
		return Grant{}, err
	}
	if cls.TeacherID != teacherID {
		return Grant{}, ErrForbidden
	}
	g := cls.Grant()
	if !g.Live(s.now()) {
		return Grant{}, ErrNoActiveCode
	}
	return g, nil
}
