package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/familyrx/medtrack/internal/infrastructure/migrations"
	"github.com/familyrx/medtrack/internal/store"
)

type migrationStatus struct {
	DatabaseType string `json:"databaseType" yaml:"databaseType"`
	Version      uint   `json:"version" yaml:"version"`
	Dirty        bool   `json:"dirty" yaml:"dirty"`
	Applied      bool   `json:"applied" yaml:"applied"`
}

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}

	run := func(step func(*migrations.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg := a.rt.Config
			if cfg.Database.Type == store.KindMemory {
				return fmt.Errorf("the memory store has no schema")
			}
			m, err := migrations.Open(cfg.Database.Type, strings.TrimPrefix(cfg.Database.URL, "sqlite://"), a.logger())
			if err != nil {
				return err
			}
			defer m.Close()

			if step != nil {
				if err := step(m); err != nil {
					return err
				}
			}
			version, dirty, ok, err := m.Version()
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), migrationStatus{
				DatabaseType: cfg.Database.Type,
				Version:      version,
				Dirty:        dirty,
				Applied:      ok,
			})
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE:  run((*migrations.Migrator).Up),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every applied migration",
			Args:  cobra.NoArgs,
			RunE:  run((*migrations.Migrator).Down),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE:  run(nil),
		},
	)
	return cmd
}
