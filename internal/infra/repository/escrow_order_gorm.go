package repository

import (
	"context"
	"errors"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EscrowOrderGormRepository struct {
	db *gorm.DB
}

func NewEscrowOrderGormRepository(db *gorm.DB) *EscrowOrderGormRepository {
	return &EscrowOrderGormRepository{db: db}
}

func (r *EscrowOrderGormRepository) FindByID(ctx context.Context, orderID int64) (model.EscrowOrder, error) {
	var o model.EscrowOrder
	err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.EscrowOrder{}, repo.ErrNotFound
	}
	if err != nil {
		return model.EscrowOrder{}, err
	}
	return o, nil
}

func (r *EscrowOrderGormRepository) FindByIDForUpdate(ctx context.Context, orderID int64) (model.EscrowOrder, error) {
	var o model.EscrowOrder
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.EscrowOrder{}, repo.ErrNotFound
	}
	if err != nil {
		return model.EscrowOrder{}, err
	}
	return o, nil
}

func (r *EscrowOrderGormRepository) FindByPurchaseID(ctx context.Context, purchaseID int64) (model.EscrowOrder, bool, error) {
	var o model.EscrowOrder
	err := r.db.WithContext(ctx).Where("purchase_id = ?", purchaseID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.EscrowOrder{}, false, nil
	}
	if err != nil {
		return model.EscrowOrder{}, false, err
	}
	return o, true, nil
}

func (r *EscrowOrderGormRepository) Create(ctx context.Context, o model.EscrowOrder) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&o).Error; err != nil {
		return 0, err
	}
	return o.ID, nil
}

func (r *EscrowOrderGormRepository) Save(ctx context.Context, o model.EscrowOrder) error {
	res := r.db.WithContext(ctx).Save(&o)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *EscrowOrderGormRepository) ListAutoReleasableIDs(ctx context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&model.EscrowOrder{}).
		Where("payment_status = ?", model.EscrowStatusPaid).
		Where("auto_release_at IS NOT NULL AND auto_release_at <= ?", now).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *EscrowOrderGormRepository) ListPendingOnboardingIDs(ctx context.Context, sellerID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&model.EscrowOrder{}).
		Where("seller_id = ?", sellerID).
		Where("payment_status = ?", model.EscrowStatusPendingOnboarding).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
