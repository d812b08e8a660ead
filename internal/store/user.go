package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lugares/apiserver/types"
)

// UserRepository handles persistence for identities and their role records.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `uid, email, display_name, photo_url, password_hash, created_at, updated_at`

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.UID,
		&user.Email,
		&user.DisplayName,
		&user.PhotoURL,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByUID(ctx context.Context, uid string) (types.User, error) {
	if _, err := uuid.Parse(uid); err != nil {
		return types.User{}, ErrNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE uid = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, uid))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email))))
}

// GetRole returns the raw role label recorded for uid. Labels are returned
// as stored; older rows may carry legacy labels.
func (r *UserRepository) GetRole(ctx context.Context, uid string) (string, error) {
	if _, err := uuid.Parse(uid); err != nil {
		return "", ErrNotFound
	}
	const query = `SELECT role FROM user_roles WHERE uid = $1`
	var label string
	if err := r.db.QueryRowContext(ctx, query, uid).Scan(&label); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return label, nil
}

// CreateWithRole writes the identity record and its role record in a single
// transaction.
func (r *UserRepository) CreateWithRole(ctx context.Context, user types.User, role types.Role) (types.User, error) {
	if user.UID == "" {
		user.UID = uuid.NewString()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		const insertUser = `
			INSERT INTO users (uid, email, display_name, photo_url, password_hash, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		if _, err := tx.ExecContext(
			ctx,
			insertUser,
			user.UID,
			user.Email,
			user.DisplayName,
			user.PhotoURL,
			user.PasswordHash,
			user.CreatedAt,
			user.UpdatedAt,
		); err != nil {
			return mapWriteError(err)
		}

		const insertRole = `INSERT INTO user_roles (uid, role, created_at) VALUES ($1, $2, $3)`
		if _, err := tx.ExecContext(ctx, insertRole, user.UID, role.String(), now); err != nil {
			return mapWriteError(err)
		}
		return nil
	})
	if err != nil {
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE users
		SET email = $1,
			display_name = $2,
			photo_url = $3,
			password_hash = $4,
			updated_at = $5
		WHERE uid = $6`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Email,
		user.DisplayName,
		user.PhotoURL,
		user.PasswordHash,
		user.UpdatedAt,
		user.UID,
	)
	if err != nil {
		return types.User{}, mapWriteError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.User{}, err
	}
	if affected == 0 {
		return types.User{}, ErrNotFound
	}
	return user, nil
}
