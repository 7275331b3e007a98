package model

import (
	"time"
)

// UserPlan 用户套餐表
// 每完成一笔购买生成一条记录，是积分台账的核心数据
//
// 【不变量】credits_remaining = credits_allocated + credits_carried_forward_from - credits_used，
// 且永远 >= 0；一笔交易至多对应一条套餐记录（transaction_id 唯一索引兜底）
type UserPlan struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID     int64  `gorm:"index;not null" json:"owner_id"`
	OwnerVivID  string `gorm:"type:varchar(32);index;not null" json:"owner_viv_id"`
	PlanCode    string `gorm:"type:varchar(32);not null" json:"plan_code"`
	DisplayName string `gorm:"type:varchar(64)" json:"display_name"`
	Price       int64  `gorm:"not null" json:"price"`
	Currency    string `gorm:"type:varchar(8);not null;default:USD" json:"currency"`

	CreditsAllocated          int `gorm:"not null;default:0" json:"credits_allocated"`            // 本套餐自带积分
	CreditsCarriedForwardFrom int `gorm:"not null;default:0" json:"credits_carried_forward_from"` // 从旧套餐结转进来的积分
	CreditsUsed               int `gorm:"not null;default:0" json:"credits_used"`
	CreditsRemaining          int `gorm:"not null;default:0" json:"credits_remaining"`

	// 结转出去之后 credits_remaining 归零，transferred_out_credits 记录转走了多少
	TransferredOutCredits  int        `gorm:"not null;default:0" json:"transferred_out_credits"`
	CarriedForwardToPlanID *int64     `gorm:"index" json:"carried_forward_to_plan_id"`
	CarriedForwardAt       *time.Time `json:"carried_forward_at"`

	ExpiresAt     *time.Time `json:"expires_at"` // nil 表示永不过期
	TransactionID int64      `gorm:"uniqueIndex;not null" json:"transaction_id"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserPlan) TableName() string {
	return "user_plan"
}

// Expired 套餐在 now 时刻是否已过期
func (p *UserPlan) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && p.ExpiresAt.Before(now)
}

// PlanSummary 套餐摘要，对外接口返回的统一视图
type PlanSummary struct {
	PlanID           int64      `json:"plan_id"`
	PlanCode         string     `json:"plan_code"`
	PlanName         string     `json:"plan_name"`
	Price            int64      `json:"price"`
	Currency         string     `json:"currency"`
	CreditsTotal     int        `json:"credits_total"`
	CreditsUsed      int        `json:"credits_used"`
	CreditsRemaining int        `json:"credits_remaining"`
	CarriedForward   int        `json:"carried_forward"`
	ActivatedAt      time.Time  `json:"activated_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
	IsActive         bool       `json:"is_active"`
	OwnerVivID       string     `json:"owner_viv_id"`
}

// Summarize 生成套餐摘要
// isActive 不落库，读取时根据付款状态和有效期现算（funded 表示关联交易已 COMPLETED）
func (p *UserPlan) Summarize(funded bool, now time.Time) *PlanSummary {
	return &PlanSummary{
		PlanID:           p.ID,
		PlanCode:         p.PlanCode,
		PlanName:         p.DisplayName,
		Price:            p.Price,
		Currency:         p.Currency,
		CreditsTotal:     p.CreditsAllocated + p.CreditsCarriedForwardFrom,
		CreditsUsed:      p.CreditsUsed,
		CreditsRemaining: p.CreditsRemaining,
		CarriedForward:   p.CreditsCarriedForwardFrom,
		ActivatedAt:      p.CreatedAt,
		ExpiresAt:        p.ExpiresAt,
		IsActive:         funded && !p.Expired(now),
		OwnerVivID:       p.OwnerVivID,
	}
}
