package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. Used for dev runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User
	emails   map[string]string
	classes  map[string]Class
	codes    map[string]string
	records  []Record
	recorded map[string]struct{}
	audit    []AuditEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]User),
		emails:   make(map[string]string),
		classes:  make(map[string]Class),
		codes:    make(map[string]string),
		recorded: make(map[string]struct{}),
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.emails[u.Email]; ok {
		return User{}, ErrEmailTaken
	}
	m.users[u.ID] = u
	m.emails[u.Email] = u.ID
	return u, nil
}

func (m *MemoryStore) UserByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) UserByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.users[id], nil
}

func (m *MemoryStore) UsersByIDs(_ context.Context, ids []string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateClass(_ context.Context, c Class) (Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[c.Code]; ok {
		return Class{}, ErrClassCodeTaken
	}
	c.Students = append([]string(nil), c.Students...)
	m.classes[c.ID] = c
	m.codes[c.Code] = c.ID
	return c, nil
}

func (m *MemoryStore) ClassByID(_ context.Context, id string) (Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[id]
	if !ok {
		return Class{}, ErrNotFound
	}
	return copyClass(c), nil
}

func (m *MemoryStore) ClassByCode(_ context.Context, code string) (Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.codes[code]
	if !ok {
		return Class{}, ErrNotFound
	}
	return copyClass(m.classes[id]), nil
}

func (m *MemoryStore) ClassesByTeacher(_ context.Context, teacherID string) ([]Class, error) {
	return m.filterClasses(func(c Class) bool { return c.TeacherID == teacherID }), nil
}

func (m *MemoryStore) ClassesByStudent(_ context.Context, studentID string) ([]Class, error) {
	return m.filterClasses(func(c Class) bool { return c.Enrolled(studentID) }), nil
}

func (m *MemoryStore) filterClasses(keep func(Class) bool) []Class {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Class
	for _, c := range m.classes {
		if keep(c) {
			out = append(out, copyClass(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) EnrollStudent(_ context.Context, classID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[classID]
	if !ok {
		return ErrNotFound
	}
	if !c.Enrolled(studentID) {
		c.Students = append(c.Students, studentID)
		m.classes[classID] = c
	}
	return nil
}

func (m *MemoryStore) SetActiveCode(_ context.Context, classID, teacherID string, g Grant) (Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[classID]
	if !ok || c.TeacherID != teacherID {
		return Grant{}, ErrNotFound
	}
	prev := c.Grant()
	c.ActiveCode = g.Code
	c.CodeExpires = g.ExpiresAt
	m.classes[classID] = c
	return prev, nil
}

func (m *MemoryStore) ClassByActiveCode(_ context.Context, code string, now time.Time) (Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  Class
		found bool
	)
	for _, c := range m.classes {
		if !c.Grant().Matches(code, now) {
			continue
		}
		if !found || c.CodeExpires.After(best.CodeExpires) {
			best, found = c, true
		}
	}
	if !found {
		return Class{}, ErrNotFound
	}
	return copyClass(best), nil
}

func (m *MemoryStore) InsertRecord(_ context.Context, r Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := r.StudentID + "|" + r.ClassID + "|" + r.Day
	if _, ok := m.recorded[key]; ok {
		return Record{}, ErrDuplicateSubmission
	}
	m.recorded[key] = struct{}{}
	m.records = append(m.records, r)
	return r, nil
}

func (m *MemoryStore) CountRecords(_ context.Context, studentID, classID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if r.StudentID == studentID && r.ClassID == classID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) RecordsForStudent(_ context.Context, studentID, classID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for i := len(m.records) - 1; i >= 0; i-- {
		r := m.records[i]
		if r.StudentID == studentID && r.ClassID == classID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) RecordsForDay(_ context.Context, teacherID, classID, day string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if r.TeacherID != teacherID || r.Day != day {
			continue
		}
		if classID != "" && r.ClassID != classID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the audit log.
func (m *MemoryStore) Audit() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuditEntry(nil), m.audit...)
}

func copyClass(c Class) Class {
	c.Students = append([]string(nil), c.Students...)
	c.Schedule = append([]Session(nil), c.Schedule...)
	return c
}
