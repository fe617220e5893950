package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "attendctl",
	Short:         "Operator tooling for the attendance service",
	Long:          "Schema migrations, account and roster management, and bearer tokens for smoke tests.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQL migrations (postgres) or create indexes (mongo)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd.Context(), func(cfg config.App, b *store.Backend) error {
			if err := b.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", b.Name)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, userCmd, classCmd, tokenCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.SetFlags(0)
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

// withBackend opens the configured store for the duration of fn.
func withBackend(ctx context.Context, fn func(config.App, *store.Backend) error) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.StoreBackend == config.BackendMemory {
		return fmt.Errorf("STORE_BACKEND=memory has nothing to administer; point attendctl at postgres or mongo")
	}
	b, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(cfg, b)
}

func newService(cfg config.App, b *store.Backend) (*attendance.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return attendance.NewService(b.Store, attendance.Options{
		CodeTTL:    cfg.CodeTTL,
		CodeLength: cfg.CodeLength,
		Location:   loc,
	}), nil
}
