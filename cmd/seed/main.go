// seed creates the development accounts: admin (perimeter 1), operator
// (perimeter 2) and viewer (perimeter 3). Existing usernames are skipped.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"kaldor-iiot/backend/internal/config"
	"kaldor-iiot/backend/internal/db"
	iddomain "kaldor-iiot/backend/internal/identity/domain"
	"kaldor-iiot/backend/internal/security"
	userdomain "kaldor-iiot/backend/internal/user/domain"
	userrepo "kaldor-iiot/backend/internal/user/repository"
)

type account struct {
	username  string
	role      string
	perimeter int
}

var accounts = []account{
	{"admin", iddomain.RoleAdmin, iddomain.PerimeterInner},
	{"operator", iddomain.RoleOperator, iddomain.PerimeterMiddle},
	{"viewer", iddomain.RoleViewer, iddomain.PerimeterOuter},
}

func main() {
	var password string
	root := &cobra.Command{
		Use:          "seed",
		Short:        "Create development accounts",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.IsProduction() {
				return errors.New("refusing to seed development accounts when APP_ENV=production")
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}
			conn, err := db.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("db: %w", err)
			}
			defer conn.Close()

			created, err := seed(cmd.Context(), userrepo.NewPostgresRepository(conn), security.NewHasher(cfg.BcryptCost), password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seed: created %d of %d accounts\n", created, len(accounts))
			return nil
		},
	}
	root.Flags().StringVar(&password, "password", "password123", "password for every seeded account")
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func seed(ctx context.Context, users userrepo.Repository, hasher *security.Hasher, password string) (int, error) {
	hash, err := hasher.Hash([]byte(password))
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	created := 0
	for _, a := range accounts {
		u := &userdomain.User{
			ID:           uuid.NewString(),
			Username:     a.username,
			PasswordHash: hash,
			Roles:        []string{a.role},
			Perimeter:    a.perimeter,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := u.Validate(); err != nil {
			return created, fmt.Errorf("%s: %w", a.username, err)
		}
		err := users.Create(ctx, u)
		if errors.Is(err, userrepo.ErrDuplicateUsername) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create %s: %w", a.username, err)
		}
		created++
	}
	return created, nil
}
