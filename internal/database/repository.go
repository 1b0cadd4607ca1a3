package database

import (
	"context"

	"github.com/funknet/funknet/internal/database/models"
)

// UserRepository manages funk-key users.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByFunkKey(ctx context.Context, funkKey string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id int64) error
	TouchLastSeen(ctx context.Context, id int64) error
}

// ChannelRepository reads the channel plan.
type ChannelRepository interface {
	List(ctx context.Context) ([]models.Channel, error)
	GetByID(ctx context.Context, id int) (*models.Channel, error)
}

// ConnectionLogRepository records connect/disconnect audit events.
type ConnectionLogRepository interface {
	Record(ctx context.Context, userID int64, channelID int, action, ip string) error
	ListRecent(ctx context.Context, limit int) ([]models.ConnectionLog, error)
}

// TrafficRepository records aggregate relay traffic.
type TrafficRepository interface {
	Record(ctx context.Context, bytesIn, bytesOut int64) error
	ListRecent(ctx context.Context, limit int) ([]models.TrafficSample, error)
}

// AdminUserRepository manages control-plane accounts.
type AdminUserRepository interface {
	Create(ctx context.Context, user *models.AdminUser) error
	GetByUsername(ctx context.Context, username string) (*models.AdminUser, error)
	Count(ctx context.Context) (int64, error)
}
