package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/store"
)

var classCmd = &cobra.Command{
	Use:   "class",
	Short: "Manage class rosters",
}

var classEnrollCmd = &cobra.Command{
	Use:     "enroll",
	Short:   "Add students to a class roster",
	Example: "  attendctl class enroll --class MATH101 --student ada@school.test --student babbage@school.test",
	RunE: func(cmd *cobra.Command, args []string) error {
		code, _ := cmd.Flags().GetString("class")
		students, _ := cmd.Flags().GetStringSlice("student")

		return withBackend(cmd.Context(), func(cfg config.App, b *store.Backend) error {
			svc, err := newService(cfg, b)
			if err != nil {
				return err
			}
			var failed []string
			for _, email := range students {
				cls, u, err := svc.Enroll(cmd.Context(), code, email)
				if err != nil {
					failed = append(failed, fmt.Sprintf("%s: %v", email, describe(err)))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enrolled %s in %s (%s)\n", u.Email, cls.Code, cls.Name)
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d enrollment(s) failed:\n  %s", len(failed), strings.Join(failed, "\n  "))
			}
			return nil
		})
	},
}

func init() {
	classEnrollCmd.Flags().String("class", "", "Class code (required)")
	classEnrollCmd.Flags().StringSlice("student", nil, "Student email, repeatable (required)")
	classEnrollCmd.MarkFlagRequired("class")
	classEnrollCmd.MarkFlagRequired("student")
	classCmd.AddCommand(classEnrollCmd)
}

// describe flattens validation field errors into the message.
func describe(err error) error {
	var verr *attendance.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) == 0 {
		return err
	}
	parts := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return fmt.Errorf("%v (%s)", verr, strings.Join(parts, "; "))
}
