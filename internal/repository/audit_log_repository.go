package repository

import (
	"context"
	"time"

	"app/internal/domain/model"
)

// 監査ログ一覧の絞り込み。nilのフィールドは条件に使わない。
type AuditLogFilter struct {
	ActorUserID  *int64
	Action       *model.AuditAction
	ResourceType *model.AuditResourceType
	ResourceID   *int64
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	Limit        int
	Offset       int
}

// 管理者操作（エスクローのrelease/hold/refund、異議解決、キャンセル）の記録。
type AuditLogRepository interface {
	Create(ctx context.Context, log model.AuditLog) error

	//条件付き一覧。新しい順。
	List(ctx context.Context, filter AuditLogFilter) ([]model.AuditLog, error)
}
