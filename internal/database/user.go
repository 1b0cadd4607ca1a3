package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/funknet/funknet/internal/database/models"
)

// userRepo implements UserRepository.
type userRepo struct {
	db *DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *DB) UserRepository {
	return &userRepo{db: db}
}

// userColumns is the SELECT list shared by all user queries.
const userColumns = `id, username, funk_key, allowed_channels, active, created_at, last_seen`

// Create inserts a new funk user. An empty FunkKey is replaced with a
// generated one, returned via the model.
func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	if user.FunkKey == "" {
		key, err := GenerateFunkKey()
		if err != nil {
			return err
		}
		user.FunkKey = key
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, funk_key, allowed_channels, active, created_at)
		 VALUES (?, ?, ?, ?, datetime('now'))`,
		user.Username, user.FunkKey, encodeChannels(user.AllowedChannels), user.Active,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	user.ID = id
	return nil
}

// GetByID returns a user by ID, or nil if not found.
func (r *userRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetByFunkKey returns a user by funk key, or nil if not found. This is
// the verify path for relay authentication; inactive users are returned
// as-is and filtered by the caller.
func (r *userRepo) GetByFunkKey(ctx context.Context, funkKey string) (*models.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE funk_key = ?`, funkKey))
}

// List returns all users ordered by username.
func (r *userRepo) List(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Update modifies username, allowed channels and active flag. The funk
// key is immutable; rotate by delete and recreate.
func (r *userRepo) Update(ctx context.Context, user *models.User) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET username = ?, allowed_channels = ?, active = ? WHERE id = ?`,
		user.Username, encodeChannels(user.AllowedChannels), user.Active, user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return nil
}

// Delete removes a user by ID.
func (r *userRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

// TouchLastSeen stamps the user's last_seen to now.
func (r *userRepo) TouchLastSeen(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_seen = datetime('now') WHERE id = ?`, id); err != nil {
		return fmt.Errorf("touching last_seen: %w", err)
	}
	return nil
}

// scanOne scans a single user row, mapping sql.ErrNoRows to (nil, nil).
func (r *userRepo) scanOne(row *sql.Row) (*models.User, error) {
	u, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

func scanUser(scan func(dest ...any) error) (*models.User, error) {
	var u models.User
	var channels string
	if err := scan(&u.ID, &u.Username, &u.FunkKey, &channels, &u.Active, &u.CreatedAt, &u.LastSeen); err != nil {
		return nil, err
	}
	u.AllowedChannels = decodeChannels(channels)
	return &u, nil
}

// encodeChannels serialises an allowed-channel set as a comma-separated
// list, the store's canonical form.
func encodeChannels(channels []int) string {
	parts := make([]string, len(channels))
	for i, c := range channels {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

// decodeChannels parses the comma-separated form, skipping junk entries.
func decodeChannels(s string) []int {
	if s == "" {
		return nil
	}
	var channels []int
	for _, part := range strings.Split(s, ",") {
		c, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		channels = append(channels, c)
	}
	return channels
}
