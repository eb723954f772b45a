package repository

import (
	"context"

	"app/internal/domain/model"
)

type WebhookEventRepository interface {
	// 処理済みイベントを記録する。既に同じevent_idがあればErrDuplicate。
	Insert(ctx context.Context, e model.WebhookEvent) error
}
