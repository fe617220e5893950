package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxCodeAttempts = 5

// StatusPresent is the only status a stored record can have.
const StatusPresent = "present"

// Notifier receives audit entries after a state change has been committed.
type Notifier interface {
	Notify(ctx context.Context, e AuditEntry) error
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	CodeTTL    time.Duration
	CodeLength int
	// Location defines calendar-day boundaries for "today".
	Location *time.Location
	// MatchByEmail reproduces the legacy roster diff that treats a student as
	// present when any present record carries the same email.
	MatchByEmail bool
	Notifier     Notifier
	// NotifyTimeout bounds each audit publish so a slow broker cannot stall requests.
	NotifyTimeout time.Duration
}

// Service owns the attendance code lifecycle, redemption and the read-side aggregations.
type Service struct {
	store        Store
	codeTTL      time.Duration
	codeLen      int
	loc          *time.Location
	matchByEmail bool
	notifier     Notifier
	notifyWait   time.Duration

	now     func() time.Time
	newCode func(n int) (string, error)
}

// NewService creates a service backed by a store.
func NewService(store Store, opts Options) *Service {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = time.Hour
	}
	if opts.CodeLength <= 0 {
		opts.CodeLength = 6
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 500 * time.Millisecond
	}
	return &Service{
		store:        store,
		codeTTL:      opts.CodeTTL,
		codeLen:      opts.CodeLength,
		loc:          opts.Location,
		matchByEmail: opts.MatchByEmail,
		notifier:     opts.Notifier,
		notifyWait:   opts.NotifyTimeout,
		now:          time.Now,
		newCode:      GenerateCode,
	}
}

// Day returns the calendar-day key of t in the service's zone.
func (s *Service) Day(t time.Time) string {
	return t.In(s.loc).Format(DayLayout)
}

// IssuedCode is the result of a successful IssueCode.
type IssuedCode struct {
	Code      string
	ExpiresAt time.Time
	ClassID   string
	ClassName string
	// Superseded is the previous code when it was still live at issue time.
	Superseded string
}

// IssueCode replaces the class's active code with a fresh one. Any previous code stops
// being redeemable immediately.
func (s *Service) IssueCode(ctx context.Context, teacherID, classID string) (IssuedCode, error) {
	cls, err := s.store.ClassByID(ctx, classID)
	if err != nil {
		return IssuedCode{}, err
	}
	if cls.TeacherID != teacherID {
		return IssuedCode{}, ErrForbidden
	}

	now := s.now()
	code, err := s.unusedCode(ctx, now)
	if err != nil {
		return IssuedCode{}, err
	}
	grant := Grant{Code: code, ExpiresAt: now.Add(s.codeTTL)}

	prev, err := s.store.SetActiveCode(ctx, classID, teacherID, grant)
	if err != nil {
		return IssuedCode{}, err
	}

	detail := map[string]string{
		"code":      code,
		"expiresAt": grant.ExpiresAt.UTC().Format(time.RFC3339),
	}
	issued := IssuedCode{Code: code, ExpiresAt: grant.ExpiresAt, ClassID: classID, ClassName: cls.Name}
	if prev.Live(now) {
		issued.Superseded = prev.Code
		log.Printf("class %s: code %s superseded %s before expiry", classID, prev.Code, prev.ExpiresAt.Sub(now).Round(time.Second))
		detail["superseded"] = prev.Code
	}
	s.notify(ctx, AuditEntry{Kind: AuditCodeIssued, ClassID: classID, ActorID: teacherID, Detail: detail, OccurredAt: now.UTC()})

	return issued, nil
}

// unusedCode avoids handing out a code that another class can currently redeem,
// since redemption resolves the class from the code alone.
func (s *Service) unusedCode(ctx context.Context, now time.Time) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := s.newCode(s.codeLen)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		_, err = s.store.ClassByActiveCode(ctx, code, now)
		if errors.Is(err, ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no unused attendance code after %d attempts", maxCodeAttempts)
}

// Redemption is the result of a successful Redeem.
type Redemption struct {
	Record    Record
	ClassName string
}

// Redeem marks studentID present in the class whose live code equals code.
func (s *Service) Redeem(ctx context.Context, studentID, code string, loc Location) (Redemption, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Redemption{}, NewValidationError(errors.New("attendance code is required"),
			FieldError{Field: "code", Error: "this field is required"})
	}

	now := s.now()
	cls, err := s.store.ClassByActiveCode(ctx, code, now)
	if errors.Is(err, ErrNotFound) {
		return Redemption{}, ErrInvalidCode
	}
	if err != nil {
		return Redemption{}, err
	}

	rec, err := s.store.InsertRecord(ctx, Record{
		ID:        uuid.NewString(),
		StudentID: studentID,
		TeacherID: cls.TeacherID,
		ClassID:   cls.ID,
		Day:       s.Day(now),
		Code:      code,
		Location:  loc,
		CreatedAt: now.UTC(),
	})
	if err != nil {
		return Redemption{}, err
	}

	s.notify(ctx, AuditEntry{
		Kind:    AuditMarked,
		ClassID: cls.ID,
		ActorID: studentID,
		Detail: map[string]string{
			"code": code,
			"day":  rec.Day,
			"lat":  fmt.Sprintf("%f", loc.Lat),
			"lng":  fmt.Sprintf("%f", loc.Lng),
		},
		OccurredAt: rec.CreatedAt,
	})
	return Redemption{Record: rec, ClassName: cls.Name}, nil
}

// Stats summarises one student's attendance in one class.
type Stats struct {
	Total      int `json:"total"`
	Present    int `json:"present"`
	Absent     int `json:"absent"`
	Percentage int `json:"percentage"`
}

// StudentStats counts the student's presence events for classID.
func (s *Service) StudentStats(ctx context.Context, studentID, classID string) (Stats, error) {
	total, err := s.store.CountRecords(ctx, studentID, classID)
	if err != nil {
		return Stats{}, err
	}
	// every stored record is a presence event
	present := total
	return Stats{
		Total:      total,
		Present:    present,
		Absent:     total - present,
		Percentage: Percent(present, total),
	}, nil
}

// PresentStudent is a roster entry that redeemed a code today.
type PresentStudent struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Time  time.Time `json:"time"`
}

// AbsentStudent is a roster entry with no presence event today.
type AbsentStudent struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Snapshot is today's attendance for one class or for all of a teacher's classes.
type Snapshot struct {
	Present              []PresentStudent `json:"present"`
	Absent               []AbsentStudent  `json:"absent"`
	TotalStudents        int              `json:"totalStudents"`
	AttendancePercentage int              `json:"attendancePercentage"`
}

// TodaySnapshot diffs the roster of the scoped classes against today's records.
// An empty classID scopes to every class the teacher owns.
func (s *Service) TodaySnapshot(ctx context.Context, teacherID, classID string) (Snapshot, error) {
	var classes []Class
	if classID != "" {
		cls, err := s.store.ClassByID(ctx, classID)
		if err != nil {
			return Snapshot{}, err
		}
		if cls.TeacherID != teacherID {
			return Snapshot{}, ErrForbidden
		}
		classes = []Class{cls}
	} else {
		var err error
		if classes, err = s.store.ClassesByTeacher(ctx, teacherID); err != nil {
			return Snapshot{}, err
		}
	}

	records, err := s.store.RecordsForDay(ctx, teacherID, classID, s.Day(s.now()))
	if err != nil {
		return Snapshot{}, err
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.StudentID)
	}
	for _, c := range classes {
		ids = append(ids, c.Students...)
	}
	people, err := s.usersByID(ctx, ids)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Present: []PresentStudent{}, Absent: []AbsentStudent{}}
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		u := people[r.StudentID]
		snap.Present = append(snap.Present, PresentStudent{ID: r.StudentID, Name: u.Name, Email: u.Email, Time: r.CreatedAt})
		seen[s.rosterKey(r.StudentID, u)] = true
	}
	for _, c := range classes {
		for _, sid := range c.Students {
			snap.TotalStudents++
			u := people[sid]
			if seen[s.rosterKey(sid, u)] {
				continue
			}
			snap.Absent = append(snap.Absent, AbsentStudent{ID: sid, Name: u.Name, Email: u.Email})
		}
	}
	snap.AttendancePercentage = Percent(len(snap.Present), snap.TotalStudents)
	return snap, nil
}

func (s *Service) rosterKey(id string, u User) string {
	if s.matchByEmail {
		return "email:" + u.Email
	}
	return "id:" + id
}

func (s *Service) usersByID(ctx context.Context, ids []string) (map[string]User, error) {
	out := make(map[string]User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	users, err := s.store.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// Percent returns round(n/d*100) clamped to [0, 100], and 0 when d is 0.
func Percent(n, d int) int {
	if d <= 0 || n <= 0 {
		return 0
	}
	p := int(math.Round(float64(n) / float64(d) * 100))
	if p > 100 {
		return 100
	}
	return p
}

func (s *Service) notify(ctx context.Context, e AuditEntry) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.notifyWait)
	defer cancel()
	if err := s.notifier.Notify(ctx, e); err != nil {
		log.Printf("audit %s for class %s not published: %v", e.Kind, e.ClassID, err)
	}
}
