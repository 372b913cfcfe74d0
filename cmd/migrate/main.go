// migrate applies the embedded SQL migrations to DATABASE_URL.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kaldor-iiot/backend/internal/config"
	"kaldor-iiot/backend/internal/db/migrate"
)

func main() {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Database migrations",
		SilenceUsage: true,
	}
	root.AddCommand(
		stepCmd("up", "Apply all pending migrations", migrate.Up),
		stepCmd("down", "Roll back all migrations", migrate.Down),
		versionCmd(),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func databaseURL() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("config: %w", err)
	}
	return cfg.DatabaseURL, nil
}

func stepCmd(name, short string, step func(dsn string) error) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := databaseURL()
			if err != nil {
				return err
			}
			switch err := step(dsn); {
			case errors.Is(err, migrate.ErrNoChange):
				fmt.Fprintf(cmd.OutOrStdout(), "migrations %s: nothing to do\n", name)
			case err != nil:
				return fmt.Errorf("migrate %s: %w", name, err)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "migrations %s: done\n", name)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := databaseURL()
			if err != nil {
				return err
			}
			st, err := migrate.Version(dsn)
			if err != nil {
				return fmt.Errorf("migrate version: %w", err)
			}
			out := cmd.OutOrStdout()
			switch {
			case !st.Applied:
				fmt.Fprintln(out, "schema: no migrations applied")
			case st.Dirty:
				fmt.Fprintf(out, "schema: version %d (dirty)\n", st.Version)
			default:
				fmt.Fprintf(out, "schema: version %d\n", st.Version)
			}
			return nil
		},
	}
}
