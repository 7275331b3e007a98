package repository

import (
	"context"
	"errors"
	"time"

	"matchpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrPlanRecordNotFound   = errors.New("套餐记录不存在")
	ErrInsufficientCredits  = errors.New("积分不足")
	ErrCarryForwardConflict = errors.New("积分结转冲突，请重试")
	ErrRefundNothingToUndo  = errors.New("无可回退的积分")
)

type UserPlanRepository struct {
	db *gorm.DB
}

func NewUserPlanRepository(db *gorm.DB) *UserPlanRepository {
	return &UserPlanRepository{db: db}
}

func (r *UserPlanRepository) Create(ctx context.Context, tx *gorm.DB, plan *model.UserPlan) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(plan).Error
}

func (r *UserPlanRepository) GetByID(ctx context.Context, id int64) (*model.UserPlan, error) {
	var plan model.UserPlan
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanRecordNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// GetByTransactionID 按交易ID查套餐，不存在时返回 (nil, nil)
// 捕获接口靠它判断"这笔钱是不是已经兑现过了"
func (r *UserPlanRepository) GetByTransactionID(ctx context.Context, tx *gorm.DB, transactionID int64) (*model.UserPlan, error) {
	if tx == nil {
		tx = r.db
	}
	var plan model.UserPlan
	err := tx.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

// GetLatestFunded 取用户最近一次由已完成交易出资的套餐，没有返回 (nil, nil)
func (r *UserPlanRepository) GetLatestFunded(ctx context.Context, ownerID int64) (*model.UserPlan, error) {
	var plan model.UserPlan
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Where("transaction_id IN (?)",
			r.db.Model(&model.Transaction{}).Select("id").Where("status = ?", model.TxStatusCompleted)).
		Order("created_at DESC, id DESC").
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

// CollectCarryForward 收集可结转的套餐：出资交易已完成、还有剩余积分、且没被结转过。
// 纯读操作，真正的清零动作由激活流程在同一个事务里完成
func (r *UserPlanRepository) CollectCarryForward(ctx context.Context, tx *gorm.DB, ownerID int64) ([]*model.UserPlan, int, error) {
	if tx == nil {
		tx = r.db
	}

	var plans []*model.UserPlan
	err := tx.WithContext(ctx).
		Where("owner_id = ? AND credits_remaining > 0 AND carried_forward_to_plan_id IS NULL", ownerID).
		Where("transaction_id IN (?)",
			r.db.Model(&model.Transaction{}).Select("id").Where("status = ?", model.TxStatusCompleted)).
		Order("created_at DESC, id DESC").
		Find(&plans).Error
	if err != nil {
		return nil, 0, err
	}

	total := 0
	for _, p := range plans {
		total += p.CreditsRemaining
	}
	return plans, total, nil
}

// RetireInto 把旧套餐的剩余积分结转到新套餐并清零
//
// 【关键点】WHERE 条件里带上读到的 credits_remaining 和"未被结转"两个判断，
// 如果并发的另一次购买先把这条记录结转走了，RowsAffected 会是 0，
// 整个激活事务随之回滚，杜绝同一笔积分被算两次
func (r *UserPlanRepository) RetireInto(ctx context.Context, tx *gorm.DB, source *model.UserPlan, newPlanID int64, now time.Time) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.UserPlan{}).
		Where("id = ? AND carried_forward_to_plan_id IS NULL AND credits_remaining = ?",
			source.ID, source.CreditsRemaining).
		Updates(map[string]interface{}{
			"transferred_out_credits":    source.CreditsRemaining,
			"credits_remaining":          0,
			"carried_forward_to_plan_id": newPlanID,
			"carried_forward_at":         now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCarryForwardConflict
	}
	return nil
}

// SpendCredit 扣一个积分
//
// 【关键点】"credits_remaining > 0" 必须嵌在 UPDATE 的 WHERE 里，和扣减同属
// 一条语句。先读后写的话，两个并发请求会同时读到最后一个积分，各扣一次把
// 余额扣成负数。条件没匹配到行就返回积分不足
func (r *UserPlanRepository) SpendCredit(ctx context.Context, planID int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.UserPlan{}).
		Where("id = ? AND credits_remaining > 0", planID).
		Updates(map[string]interface{}{
			"credits_remaining": gorm.Expr("credits_remaining - 1"),
			"credits_used":      gorm.Expr("credits_used + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

// RefundCredit 退回一个积分
// 解锁记录撞上唯一索引时的补偿动作，把 SpendCredit 扣掉的积分原样加回去
func (r *UserPlanRepository) RefundCredit(ctx context.Context, planID int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.UserPlan{}).
		Where("id = ? AND credits_used > 0", planID).
		Updates(map[string]interface{}{
			"credits_remaining": gorm.Expr("credits_remaining + 1"),
			"credits_used":      gorm.Expr("credits_used - 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRefundNothingToUndo
	}
	return nil
}

func (r *UserPlanRepository) ListByOwner(ctx context.Context, ownerID int64, page, pageSize int) ([]*model.UserPlan, int64, error) {
	var plans []*model.UserPlan
	var total int64

	query := r.db.WithContext(ctx).Model(&model.UserPlan{}).Where("owner_id = ?", ownerID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&plans).Error

	return plans, total, err
}

// ListActiveFunded 用户当前未过期且有出资的套餐（支付汇总用）
func (r *UserPlanRepository) ListActiveFunded(ctx context.Context, ownerID int64, now time.Time) ([]*model.UserPlan, error) {
	var plans []*model.UserPlan
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Where("transaction_id IN (?)",
			r.db.Model(&model.Transaction{}).Select("id").Where("status = ?", model.TxStatusCompleted)).
		Order("created_at DESC").
		Find(&plans).Error
	return plans, err
}
