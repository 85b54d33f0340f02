package users

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/botcore/core/errs"
)

// Repository reads and writes user rows. Implementations receive the
// executor per call so the same code runs inside or outside a transaction.
type Repository interface {
	FindByTelegramID(ctx context.Context, q sqlx.ExtContext, telegramID int64) (*User, error)
	Insert(ctx context.Context, q sqlx.ExtContext, u *User) error
	UpdateRole(ctx context.Context, q sqlx.ExtContext, telegramID int64, role Role) error
	UpdateProfile(ctx context.Context, q sqlx.ExtContext, u *User) error
}

// PostgresRepository is the sqlx-backed Repository.
type PostgresRepository struct{}

// NewPostgresRepository returns the production repository.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// FindByTelegramID returns the user or a user_not_registered error when the
// row does not exist.
func (r *PostgresRepository) FindByTelegramID(ctx context.Context, q sqlx.ExtContext, telegramID int64) (*User, error) {
	const query = `
		SELECT id, telegram_id, username, full_name, is_bot, role
		FROM users
		WHERE telegram_id = $1`
	var u User
	if err := sqlx.GetContext(ctx, q, &u, query, telegramID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.UserNotRegistered(telegramID)
		}
		return nil, errs.Storage("users.find", err)
	}
	return &u, nil
}

// Insert creates the row and fills in the generated ID.
func (r *PostgresRepository) Insert(ctx context.Context, q sqlx.ExtContext, u *User) error {
	const query = `
		INSERT INTO users (telegram_id, username, full_name, is_bot, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	row := q.QueryRowxContext(ctx, query, u.TelegramID, u.Username, u.FullName, u.IsBot, u.Role)
	if err := row.Scan(&u.ID); err != nil {
		return errs.Storage("users.insert", err)
	}
	return nil
}

// UpdateRole changes the role of an existing user.
func (r *PostgresRepository) UpdateRole(ctx context.Context, q sqlx.ExtContext, telegramID int64, role Role) error {
	const query = `UPDATE users SET role = $2 WHERE telegram_id = $1`
	res, err := q.ExecContext(ctx, query, telegramID, role)
	if err != nil {
		return errs.Storage("users.update_role", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.UserNotRegistered(telegramID)
	}
	return nil
}

// UpdateProfile refreshes the mutable profile fields from Telegram.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, q sqlx.ExtContext, u *User) error {
	const query = `
		UPDATE users
		SET username = $2, full_name = $3
		WHERE telegram_id = $1`
	if _, err := q.ExecContext(ctx, query, u.TelegramID, u.Username, u.FullName); err != nil {
		return errs.Storage("users.update_profile", err)
	}
	return nil
}
