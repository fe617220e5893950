package attendance

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("class is owned by another teacher")
	ErrInvalidCode         = errors.New("invalid or expired attendance code")
	ErrDuplicateSubmission = errors.New("attendance already marked for today")
	ErrNoActiveCode        = errors.New("class has no active attendance code")
	ErrClassCodeTaken      = errors.New("class code already exists")
	ErrEmailTaken          = errors.New("a user with this email already exists")
)

// FieldError is used to indicate an error with a specific request field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError rejects input before any state is touched.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed"
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }
