package model

import (
	"time"
)

const (
	TxStatusCreated   = "CREATED"
	TxStatusPending   = "PENDING"
	TxStatusCompleted = "COMPLETED"
	TxStatusFailed    = "FAILED"
	TxStatusCancelled = "CANCELLED"
)

// 状态机只允许向前流转：CREATED -> PENDING -> 终态
// COMPLETED / FAILED / CANCELLED 是终态，到达后不再变更。
// CREATED 可以直接失败/取消（网关下单失败、超时清理），但 COMPLETED 必须经过 PENDING
var ValidStatusTransitions = map[string][]string{
	TxStatusCreated: {TxStatusPending, TxStatusFailed, TxStatusCancelled},
	TxStatusPending: {TxStatusCompleted, TxStatusFailed, TxStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	switch status {
	case TxStatusCompleted, TxStatusFailed, TxStatusCancelled:
		return true
	}
	return false
}

const GatewayPayPal = "PAYPAL"

// Transaction 支付交易表
// 每次发起购买生成一条，记录网关订单号和状态机流转
type Transaction struct {
	ID            int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	OwnerID       int64  `gorm:"index;not null" json:"owner_id"`
	OwnerVivID    string `gorm:"type:varchar(32);index;not null" json:"owner_viv_id"`
	PlanCode      string `gorm:"type:varchar(32);not null" json:"plan_code"`
	PlanName      string `gorm:"type:varchar(64)" json:"plan_name"`
	Amount        int64  `gorm:"not null" json:"amount"` // 按最小货币单位（分）存储
	Currency      string `gorm:"type:varchar(8);not null;default:USD" json:"currency"`
	Status        string `gorm:"type:varchar(20);index;not null" json:"status"`
	Gateway       string `gorm:"type:varchar(20);not null;default:PAYPAL" json:"gateway"`

	GatewayOrderID   string `gorm:"type:varchar(64);index" json:"gateway_order_id"`
	GatewayCaptureID string `gorm:"type:varchar(64)" json:"gateway_capture_id"`
	PayerEmail       string `gorm:"type:varchar(128)" json:"payer_email"`
	PayerID          string `gorm:"type:varchar(64)" json:"payer_id"`

	// 激活成功后回填的套餐ID。注意幂等判断以 user_plan.transaction_id
	// 的存在性为准，这个字段只是方便查询
	PlanID        *int64     `json:"plan_id"`
	FailureReason string     `gorm:"type:varchar(256)" json:"failure_reason"`
	CompletedAt   *time.Time `json:"completed_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "plan_transaction"
}
