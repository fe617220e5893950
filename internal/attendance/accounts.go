package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const minPasswordLen = 6

// NewUser is the input for RegisterUser.
type NewUser struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// RegisterUser validates and stores a new account with a bcrypt password hash.
func (s *Service) RegisterUser(ctx context.Context, nu NewUser) (User, error) {
	u := User{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(nu.Name),
		Email:     NormalizeEmail(nu.Email),
		Role:      strings.ToLower(strings.TrimSpace(nu.Role)),
		CreatedAt: s.now().UTC(),
	}

	var flds []FieldError
	if u.Name == "" {
		flds = append(flds, FieldError{Field: "name", Error: "this field is required"})
	}
	if !strings.Contains(u.Email, "@") {
		flds = append(flds, FieldError{Field: "email", Error: "must be a valid email address"})
	}
	if len(nu.Password) < minPasswordLen {
		flds = append(flds, FieldError{Field: "password", Error: fmt.Sprintf("must be at least %d characters", minPasswordLen)})
	}
	if u.Role != RoleTeacher && u.Role != RoleStudent {
		flds = append(flds, FieldError{Field: "role", Error: "must be teacher or student"})
	}
	if len(flds) > 0 {
		return User{}, NewValidationError(errors.New("invalid user"), flds...)
	}

	if err := u.SetPassword(nu.Password); err != nil {
		return User{}, err
	}
	created, err := s.store.CreateUser(ctx, u)
	if errors.Is(err, ErrEmailTaken) {
		return User{}, NewValidationError(err, FieldError{Field: "email", Error: err.Error()})
	}
	return created, err
}

// UserByEmail looks an account up by its normalized email.
func (s *Service) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.store.UserByEmail(ctx, NormalizeEmail(email))
}

// Enroll adds the student with studentEmail to the roster of the class with classCode.
func (s *Service) Enroll(ctx context.Context, classCode, studentEmail string) (Class, User, error) {
	cls, err := s.store.ClassByCode(ctx, strings.TrimSpace(classCode))
	if err != nil {
		return Class{}, User{}, fmt.Errorf("class %q: %w", classCode, err)
	}
	u, err := s.UserByEmail(ctx, studentEmail)
	if err != nil {
		return Class{}, User{}, fmt.Errorf("user %q: %w", studentEmail, err)
	}
	if u.Role != RoleStudent {
		return Class{}, User{}, NewValidationError(fmt.Errorf("user %q is a %s, not a student", u.Email, u.Role))
	}
	if err := s.store.EnrollStudent(ctx, cls.ID, u.ID); err != nil {
		return Class{}, User{}, err
	}
	return cls, u, nil
}
