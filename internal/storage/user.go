package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatewarden/gatewarden/internal/model"
)

const userColumns = `id, username, status, expires_at, registered_at`

// GetOrCreateUser returns the user with the given id, inserting a fresh
// record on first sight. A stored username that no longer matches is
// updated in place. The bool reports whether the user was created.
func (s *Service) GetOrCreateUser(ctx context.Context, id, username string) (*model.User, bool, error) {
	u, err := s.GetUser(ctx, id)
	if err == nil {
		if username != "" && u.Username != username {
			if _, err := s.db.Exec(ctx, "UPDATE users SET username = $1 WHERE id = $2", username, id); err != nil {
				return nil, false, fmt.Errorf("rename user %s: %w", id, mapError(err))
			}
			u.Username = username
		}
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	u = &model.User{
		ID:           id,
		Username:     username,
		Status:       model.UserCreated,
		RegisteredAt: time.Now(),
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO users (id, username, status, registered_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, u.Status, u.RegisteredAt,
	)
	if err != nil {
		// A concurrent first sight of the same user may have won the insert.
		if errors.Is(mapError(err), ErrConflict) {
			u, err := s.GetUser(ctx, id)
			return u, false, err
		}
		return nil, false, fmt.Errorf("insert user %s: %w", id, mapError(err))
	}
	return u, true, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Status, &u.ExpiresAt, &u.RegisteredAt)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, mapError(err))
	}
	return &u, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY registered_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Status, &u.ExpiresAt, &u.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *Service) SetUserStatus(ctx context.Context, id, status string) error {
	if !model.ValidUserStatus(status) {
		return fmt.Errorf("user status %q: %w", status, model.ErrValidation)
	}
	tag, err := s.db.Exec(ctx, "UPDATE users SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("set user %s status: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set user %s status: %w", id, ErrNotFound)
	}
	return nil
}

// SetUserExpiry sets or clears the account expiry date. A nil until clears
// it.
func (s *Service) SetUserExpiry(ctx context.Context, id string, until *time.Time) error {
	tag, err := s.db.Exec(ctx, "UPDATE users SET expires_at = $1 WHERE id = $2", until, id)
	if err != nil {
		return fmt.Errorf("set user %s expiry: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set user %s expiry: %w", id, ErrNotFound)
	}
	return nil
}
