package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/funknet/funknet/internal/database/models"
)

// connLogRepo implements ConnectionLogRepository.
type connLogRepo struct {
	db *DB
}

// NewConnectionLogRepository creates a new ConnectionLogRepository.
func NewConnectionLogRepository(db *DB) ConnectionLogRepository {
	return &connLogRepo{db: db}
}

// Record inserts one connect/disconnect audit row.
func (r *connLogRepo) Record(ctx context.Context, userID int64, channelID int, action, ip string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connection_logs (id, user_id, channel_id, action, ip_address, created_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'))`,
		uuid.NewString(), userID, channelID, action, ip,
	)
	if err != nil {
		return fmt.Errorf("inserting connection log: %w", err)
	}
	return nil
}

// ListRecent returns the newest log rows, most recent first.
func (r *connLogRepo) ListRecent(ctx context.Context, limit int) ([]models.ConnectionLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, channel_id, action, ip_address, created_at
		 FROM connection_logs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying connection logs: %w", err)
	}
	defer rows.Close()

	var logs []models.ConnectionLog
	for rows.Next() {
		var l models.ConnectionLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.ChannelID, &l.Action, &l.IPAddress, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning connection log row: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
