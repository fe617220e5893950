package attendance

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Roles carried in bearer tokens and stored on users.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// DayLayout is the calendar-day key format stored on attendance records.
const DayLayout = "2006-01-02"

// User is a teacher or a student account.
type User struct {
	ID           string    `json:"id" db:"id" bson:"_id"`
	Name         string    `json:"name" db:"name" bson:"name"`
	Email        string    `json:"email" db:"email" bson:"email"`
	PasswordHash string    `json:"-" db:"password_hash" bson:"password_hash"`
	Role         string    `json:"role" db:"role" bson:"role"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at" bson:"created_at"`
}

// SetPassword hashes and stores the password credential.
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword reports whether password matches the stored hash.
func (u User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Session is one scheduled meeting of a class.
type Session struct {
	Day      string `json:"day" bson:"day"`
	Time     string `json:"time" bson:"time"`
	Location string `json:"location" bson:"location"`
}

// Class is owned by one teacher and carries at most one active attendance code.
type Class struct {
	ID          string    `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	Code        string    `json:"code" bson:"code"`
	TeacherID   string    `json:"teacherId" bson:"teacher_id"`
	Schedule    []Session `json:"schedule" bson:"schedule"`
	Students    []string  `json:"-" bson:"students"`
	ActiveCode  string    `json:"-" bson:"active_code,omitempty"`
	CodeExpires time.Time `json:"-" bson:"code_expires,omitempty"`
	CreatedAt   time.Time `json:"createdAt" bson:"created_at"`
}

// Grant returns the class's current code and its expiry.
func (c Class) Grant() Grant {
	return Grant{Code: c.ActiveCode, ExpiresAt: c.CodeExpires}
}

// Enrolled reports whether studentID is on the roster.
func (c Class) Enrolled(studentID string) bool {
	for _, id := range c.Students {
		if id == studentID {
			return true
		}
	}
	return false
}

// Grant is an issued attendance code and its absolute expiry.
type Grant struct {
	Code      string
	ExpiresAt time.Time
}

// Live reports whether the grant is redeemable at now. Expiry is exclusive.
func (g Grant) Live(now time.Time) bool {
	return g.Code != "" && now.Before(g.ExpiresAt)
}

// Matches reports whether code redeems this grant at now.
func (g Grant) Matches(code string, now time.Time) bool {
	return g.Live(now) && g.Code == code
}

// Location is a geolocation reading captured at redemption.
type Location struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// Record is a presence event: a student redeemed a class's code on Day.
// Absence is never stored; it is derived from the roster on read.
type Record struct {
	ID        string    `json:"id" bson:"_id"`
	StudentID string    `json:"studentId" bson:"student_id"`
	TeacherID string    `json:"teacherId" bson:"teacher_id"`
	ClassID   string    `json:"classId" bson:"class_id"`
	Day       string    `json:"day" bson:"day"`
	Code      string    `json:"code" bson:"code"`
	Location  Location  `json:"location" bson:"location"`
	CreatedAt time.Time `json:"date" bson:"created_at"`
}

// Audit kinds emitted by the service.
const (
	AuditCodeIssued = "code.issued"
	AuditMarked     = "attendance.marked"
)

// AuditEntry is a durable trace of a state change.
type AuditEntry struct {
	Kind       string            `json:"kind" bson:"kind"`
	ClassID    string            `json:"classId" bson:"class_id"`
	ActorID    string            `json:"actorId" bson:"actor_id"`
	Detail     map[string]string `json:"detail,omitempty" bson:"detail,omitempty"`
	OccurredAt time.Time         `json:"occurredAt" bson:"occurred_at"`
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
