package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/funknet/funknet/internal/database/models"
)

// channelRepo implements ChannelRepository.
type channelRepo struct {
	db *DB
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *DB) ChannelRepository {
	return &channelRepo{db: db}
}

// List returns the channel plan ordered by id.
func (r *channelRepo) List(ctx context.Context) ([]models.Channel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, restricted, created_at FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var c models.Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.Restricted, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning channel row: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// GetByID returns a channel by id, or nil if not found.
func (r *channelRepo) GetByID(ctx context.Context, id int) (*models.Channel, error) {
	var c models.Channel
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, restricted, created_at FROM channels WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Restricted, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying channel: %w", err)
	}
	return &c, nil
}
