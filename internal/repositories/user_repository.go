package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"groupchat/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email in use")
)

// UserRepository abstracts account persistence.
type UserRepository interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	ListUsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
	SearchUsers(ctx context.Context, query string, excludeID string, limit int) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// CreateUser inserts an account; a duplicate email yields ErrEmailTaken.
func (r *UserRepo) CreateUser(ctx context.Context, name, email, passwordHash string) (models.User, error) {
	var user models.User
	err := r.db.QueryRowxContext(ctx, `INSERT INTO users (id, name, email, password_hash) VALUES ($1, $2, $3, $4) RETURNING id, name, email, password_hash, created_at`,
		uuid.NewString(), name, strings.ToLower(email), passwordHash).
		Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if hasPQCode(err, pqUniqueViolation) {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, err
	}
	return user, nil
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, name, email, password_hash, created_at FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) || isMalformedID(err) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetUserByEmail fetches a user by login email.
func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, name, email, password_hash, created_at FROM users WHERE email=$1`, strings.ToLower(email))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// ListUsersByIDs returns the users present in ids.
func (r *UserRepo) ListUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	users := []models.User{}
	err := r.db.SelectContext(ctx, &users, `SELECT id, name, email, password_hash, created_at FROM users WHERE id = ANY($1) ORDER BY name ASC`, pq.Array(ids))
	return users, err
}

// SearchUsers matches name or email case-insensitively, excluding one user.
func (r *UserRepo) SearchUsers(ctx context.Context, query string, excludeID string, limit int) ([]models.User, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	users := []models.User{}
	err := r.db.SelectContext(ctx, &users, `SELECT id, name, email, password_hash, created_at FROM users
        WHERE id <> $1 AND (name ILIKE $2 OR email ILIKE $2)
        ORDER BY name ASC LIMIT $3`, excludeID, pattern, limit)
	return users, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
