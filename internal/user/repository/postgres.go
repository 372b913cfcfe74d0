package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"kaldor-iiot/backend/internal/user/domain"
)

const uniqueViolation = "23505"

const (
	userColumns = `id, username, password_hash, roles, perimeter, status, created_at, updated_at`

	selectUserByID       = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	selectUserByUsername = `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	insertUser           = `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, selectUserByID, id)
}

// GetByUsername returns the user with the given username, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, selectUserByUsername, username)
}

// Create persists the user to the database. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	roles, err := json.Marshal(nonNil(u.Roles))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, insertUser,
		u.ID, u.Username, u.PasswordHash, roles, u.Perimeter, string(u.Status), u.CreatedAt, u.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateUsername
	}
	return err
}

func (r *PostgresRepository) getOne(ctx context.Context, query, arg string) (*domain.User, error) {
	var (
		u      domain.User
		roles  []byte
		status string
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &roles, &u.Perimeter, &status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(roles, &u.Roles); err != nil {
		return nil, err
	}
	u.Status = domain.UserStatus(status)
	return &u, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
