package database

import (
	"context"
	"fmt"

	"github.com/funknet/funknet/internal/database/models"
)

// trafficRepo implements TrafficRepository.
type trafficRepo struct {
	db *DB
}

// NewTrafficRepository creates a new TrafficRepository.
func NewTrafficRepository(db *DB) TrafficRepository {
	return &trafficRepo{db: db}
}

// Record inserts one aggregate traffic sample. Zero-byte intervals are
// skipped so idle servers do not grow the table.
func (r *trafficRepo) Record(ctx context.Context, bytesIn, bytesOut int64) error {
	if bytesIn == 0 && bytesOut == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO traffic_stats (bytes_in, bytes_out, created_at)
		 VALUES (?, ?, datetime('now'))`,
		bytesIn, bytesOut,
	)
	if err != nil {
		return fmt.Errorf("inserting traffic sample: %w", err)
	}
	return nil
}

// ListRecent returns the newest samples, most recent first.
func (r *trafficRepo) ListRecent(ctx context.Context, limit int) ([]models.TrafficSample, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, bytes_in, bytes_out, created_at
		 FROM traffic_stats ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying traffic samples: %w", err)
	}
	defer rows.Close()

	var samples []models.TrafficSample
	for rows.Next() {
		var s models.TrafficSample
		if err := rows.Scan(&s.ID, &s.BytesIn, &s.BytesOut, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning traffic row: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
