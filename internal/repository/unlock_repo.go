package repository

import (
	"context"
	"errors"
	"time"

	"matchpay/internal/model"

	"gorm.io/gorm"
)

var ErrDuplicateUnlock = errors.New("该资料已解锁过")

type UnlockRepository struct {
	db *gorm.DB
}

func NewUnlockRepository(db *gorm.DB) *UnlockRepository {
	return &UnlockRepository{db: db}
}

// Create 写入解锁记录
// (viewer_id, target_id) 撞上联合唯一索引时返回 ErrDuplicateUnlock，
// 调用方据此触发积分补偿
func (r *UnlockRepository) Create(ctx context.Context, unlock *model.ProfileUnlock) error {
	err := r.db.WithContext(ctx).Create(unlock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateUnlock
		}
		return err
	}
	return nil
}

// GetByViewerTarget 查一对 (viewer, target) 的解锁记录，不存在返回 (nil, nil)
func (r *UnlockRepository) GetByViewerTarget(ctx context.Context, viewerID, targetID int64) (*model.ProfileUnlock, error) {
	var unlock model.ProfileUnlock
	err := r.db.WithContext(ctx).
		Where("viewer_id = ? AND target_id = ?", viewerID, targetID).
		First(&unlock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &unlock, nil
}

func (r *UnlockRepository) ListByViewer(ctx context.Context, viewerID int64, page, pageSize int) ([]*model.ProfileUnlock, int64, error) {
	var unlocks []*model.ProfileUnlock
	var total int64

	query := r.db.WithContext(ctx).Model(&model.ProfileUnlock{}).Where("viewer_id = ?", viewerID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("unlocked_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&unlocks).Error

	return unlocks, total, err
}

// StatsByViewer 解锁历史的汇总：总花费积分和最近一次解锁时间
func (r *UnlockRepository) StatsByViewer(ctx context.Context, viewerID int64) (int, *time.Time, error) {
	var totalCost int
	err := r.db.WithContext(ctx).
		Model(&model.ProfileUnlock{}).
		Select("COALESCE(SUM(cost), 0)").
		Where("viewer_id = ?", viewerID).
		Scan(&totalCost).Error
	if err != nil {
		return 0, nil, err
	}

	var last model.ProfileUnlock
	err = r.db.WithContext(ctx).
		Where("viewer_id = ?", viewerID).
		Order("unlocked_at DESC, id DESC").
		First(&last).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return totalCost, nil, nil
		}
		return 0, nil, err
	}
	return totalCost, &last.UnlockedAt, nil
}
