package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/store"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a teacher or student account",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		role, _ := cmd.Flags().GetString("role")

		return withBackend(cmd.Context(), func(cfg config.App, b *store.Backend) error {
			svc, err := newService(cfg, b)
			if err != nil {
				return err
			}
			u, err := svc.RegisterUser(cmd.Context(), attendance.NewUser{
				Name:     name,
				Email:    email,
				Password: password,
				Role:     role,
			})
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s <%s> id=%s\n", u.Role, u.Name, u.Email, u.ID)
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for an existing account",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		return withBackend(cmd.Context(), func(cfg config.App, b *store.Backend) error {
			svc, err := newService(cfg, b)
			if err != nil {
				return err
			}
			u, err := svc.UserByEmail(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("user %q: %w", email, err)
			}
			if password != "" && !u.CheckPassword(password) {
				return fmt.Errorf("password does not match for %s", u.Email)
			}
			tok, err := auth.Issue(u.ID, u.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
			return nil
		})
	},
}

func init() {
	userAddCmd.Flags().String("name", "", "Display name (required)")
	userAddCmd.Flags().String("email", "", "Email address (required)")
	userAddCmd.Flags().String("password", "", "Password, at least 6 characters (required)")
	userAddCmd.Flags().String("role", attendance.RoleStudent, "teacher or student")
	userAddCmd.MarkFlagRequired("name")
	userAddCmd.MarkFlagRequired("email")
	userAddCmd.MarkFlagRequired("password")
	userCmd.AddCommand(userAddCmd)

	tokenCmd.Flags().String("email", "", "Account email (required)")
	tokenCmd.Flags().String("password", "", "Verify this password before minting")
	tokenCmd.MarkFlagRequired("email")
}
