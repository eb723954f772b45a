package repository

import (
	"context"

	"app/internal/domain/model"
)

type NotificationRepository interface {
	Create(ctx context.Context, n model.Notification) error
	ListByUserID(ctx context.Context, userID int64, limit int) ([]model.Notification, error)
}
