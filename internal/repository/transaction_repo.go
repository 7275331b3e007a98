package repository

import (
	"context"
	"errors"
	"time"

	"matchpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound = errors.New("交易不存在")
	ErrStatusConflict      = errors.New("交易状态不允许此操作")
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("gateway_order_id = ?", gatewayOrderID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// UpdateStatus 按状态机流转交易状态
// WHERE 里带上 fromStatus，并发下谁先改成功谁算数，终态永远不会被改写
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrStatusConflict
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkCompleted 网关捕获成功后落账：PENDING -> COMPLETED，同时记录捕获凭证
func (r *TransactionRepository) MarkCompleted(ctx context.Context, tx *gorm.DB, id int64, captureID, payerEmail, payerID string) error {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, model.TxStatusPending).
		Updates(map[string]interface{}{
			"status":             model.TxStatusCompleted,
			"gateway_capture_id": captureID,
			"payer_email":        payerEmail,
			"payer_id":           payerID,
			"completed_at":       &now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkFailed 网关明确拒绝后终结交易并记下原因
func (r *TransactionRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status IN ?", id, []string{model.TxStatusCreated, model.TxStatusPending}).
		Updates(map[string]interface{}{
			"status":         model.TxStatusFailed,
			"failure_reason": reason,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// SetGatewayOrder 创建网关订单后回填订单号
func (r *TransactionRepository) SetGatewayOrder(ctx context.Context, id int64, gatewayOrderID string) error {
	return r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", id).
		Update("gateway_order_id", gatewayOrderID).Error
}

// SetPlanID 激活成功后回填套餐ID
func (r *TransactionRepository) SetPlanID(ctx context.Context, tx *gorm.DB, id int64, planID int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", id).
		Update("plan_id", planID).Error
}

func (r *TransactionRepository) ListByOwner(ctx context.Context, ownerID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("owner_id = ?", ownerID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// SumCompletedByOwner 已完成交易的笔数和总金额（支付汇总用）
func (r *TransactionRepository) SumCompletedByOwner(ctx context.Context, ownerID int64) (int64, int64, error) {
	type row struct {
		Cnt   int64
		Total int64
	}
	var res row
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Select("COUNT(*) AS cnt, COALESCE(SUM(amount), 0) AS total").
		Where("owner_id = ? AND status = ?", ownerID, model.TxStatusCompleted).
		Scan(&res).Error
	if err != nil {
		return 0, 0, err
	}
	return res.Cnt, res.Total, nil
}

// GetLatestCompletedByOwner 最近一笔已完成交易，没有返回 (nil, nil)
func (r *TransactionRepository) GetLatestCompletedByOwner(ctx context.Context, ownerID int64) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", ownerID, model.TxStatusCompleted).
		Order("completed_at DESC, id DESC").
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// GetStaleCreated 超时未支付的 CREATED 交易（清理任务用）
func (r *TransactionRepository) GetStaleCreated(ctx context.Context, before time.Time, limit int) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.TxStatusCreated, before).
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}
