package user

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"sidehustle-chat/internal/db"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = "id, username, display_name, avatar_ref, password, is_moderator, created_at"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarRef, &u.Password, &u.IsModerator, &u.CreatedAt)
	return u, err
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	query := `INSERT INTO users (id, username, display_name, avatar_ref, password, is_moderator, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query, user.ID, user.Username, user.DisplayName, user.AvatarRef,
		user.Password, user.IsModerator, user.CreatedAt)
	if db.IsUniqueViolation(err) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.CreateUser.Insert: ")
	}
	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE username = $1"

	u, err := scanUser(r.db.QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.GetUserByUsername.Scan: ")
	}
	return u, nil
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = $1"

	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.GetUserByID.Scan: ")
	}
	return u, nil
}

func (r *Repository) SetModerator(ctx context.Context, id string, moderator bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE users SET is_moderator = $1 WHERE id = $2", moderator, id)
	if err != nil {
		return errors.Wrap(err, "userRepo.SetModerator.Update: ")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	// LOWER/LIKE instead of ILIKE so the same query runs on SQLite.
	q := `SELECT id, username, display_name, avatar_ref FROM users
		WHERE LOWER(username) LIKE $1 OR LOWER(display_name) LIKE $1
		ORDER BY username LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+stripWildcards(strings.ToLower(query))+"%")
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.SearchUsers.Query: ")
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarRef); err != nil {
			return nil, errors.Wrap(err, "userRepo.SearchUsers.Scan: ")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func stripWildcards(s string) string {
	return strings.NewReplacer("%", "", "_", "").Replace(s)
}
