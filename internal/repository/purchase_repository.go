package repository

import (
	"context"
	"errors"
	"time"

	"app/internal/domain/model"
)

var ErrNotFound = errors.New("not found")

// 重複（ユニーク制約違反）。webhookの二重配信検知に使う。
var ErrDuplicate = errors.New("duplicate")

type PurchaseRepository interface {
	FindByID(ctx context.Context, purchaseID int64) (model.Purchase, error)

	// 行ロック付き取得。コマンドとスイープの同時更新を直列化する。
	FindByIDForUpdate(ctx context.Context, purchaseID int64) (model.Purchase, error)

	Create(ctx context.Context, p model.Purchase) (int64, error)

	// 全カラム保存。ライフサイクル系は複数フィールドが同時に動くので個別更新にしない。
	Save(ctx context.Context, p model.Purchase) error

	// スイープ対象（未終了かつ異議申し立て中でない）のID一覧。
	ListSweepTargetIDs(ctx context.Context, now time.Time) ([]int64, error)
}
