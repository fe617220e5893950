package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"rollcall/internal/attendance"
)

func TestDescribe(t *testing.T) {
	plain := errors.New("boom")
	assert.Same(t, plain, describe(plain))

	err := describe(attendance.NewValidationError(errors.New("invalid user"),
		attendance.FieldError{Field: "email", Error: "must be a valid email address"},
		attendance.FieldError{Field: "password", Error: "must be at least 6 characters"},
	))
	assert.EqualError(t, err, "invalid user (email: must be a valid email address; password: must be at least 6 characters)")
}

func TestCommandTree(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"migrate", "user", "class", "token"})

	cmd, _, err := rootCmd.Find([]string{"class", "enroll"})
	assert.NoError(t, err)
	assert.Equal(t, "enroll", cmd.Name())
}
