package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fundaciontea/donations-api/internal/domain"
	"github.com/fundaciontea/donations-api/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, name, role, created_at`

// FindOrCreateUserByEmail attaches a stable donor identity to an email.
// Emails are compared case-insensitively; the unique index on LOWER(email)
// closes the race between concurrent creates for the same address.
func (r *Repository) FindOrCreateUserByEmail(ctx context.Context, email, name string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("email is required")
	}

	user, err := r.findUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	user = &models.User{ID: uuid.New(), Email: &email, Role: domain.RoleDonor}
	if name = strings.TrimSpace(name); name != "" {
		user.Name = &name
	}

	query := `INSERT INTO users (id, email, name, role, created_at) VALUES ($1, $2, $3, $4, NOW()) RETURNING created_at`
	err = r.db.QueryRow(ctx, query, user.ID, user.Email, user.Name, user.Role).Scan(&user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race to a concurrent insert; the winner is the user.
			return r.findUserByEmail(ctx, email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (r *Repository) findUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	user := &models.User{}
	err := r.db.QueryRow(ctx, query, email).Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}
