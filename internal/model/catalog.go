package model

import (
	"time"
)

// ============================================================================
// 有效期规则
// ============================================================================

const (
	ValidityMonthly   = "monthly"   // 起始时间 + 1 个自然月
	ValidityQuarterly = "quarterly" // 起始时间 + 3 个自然月
	ValidityYearly    = "yearly"    // 起始时间 + 1 年
	ValidityDays      = "days"      // 起始时间 + N 天
	ValidityNone      = "none"      // 永不过期（按量付费套餐）
)

// ValidityRule 统一后的有效期规则
// 套餐目录里各种写法（天数/月/年/永久）在 Resolve 阶段归一化成这一种形式
type ValidityRule struct {
	Unit string `json:"unit"`
	Days int    `json:"days"` // 仅 Unit == ValidityDays 时有意义
}

// PlanConfig 一次购买所使用的套餐配置快照
// 从目录解析出来之后不可再变更
type PlanConfig struct {
	PlanCode    string       `json:"plan_code"`
	DisplayName string       `json:"display_name"`
	Price       int64        `json:"price"` // 按最小货币单位（分）存储
	Currency    string       `json:"currency"`
	CreditCount int          `json:"credit_count"`
	Validity    ValidityRule `json:"validity"`
	Features    []string     `json:"features"`
	Source      string       `json:"source"` // database / static
}

// ============================================================================
// 套餐目录实体
// ============================================================================

// CatalogPlan 套餐目录表
// 管理员在后台维护的动态套餐。解析套餐时数据库记录优先于静态兜底表
type CatalogPlan struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PlanCode     string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"plan_code"`
	PlanName     string    `gorm:"type:varchar(64);not null" json:"plan_name"`
	DisplayName  string    `gorm:"type:varchar(64)" json:"display_name"`
	Tagline      string    `gorm:"type:varchar(256)" json:"tagline"`
	Price        int64     `gorm:"not null" json:"price"`
	Currency     string    `gorm:"type:varchar(8);not null;default:USD" json:"currency"`
	CreditCount  int       `gorm:"not null" json:"credit_count"`
	ValidityUnit string    `gorm:"type:varchar(16);not null;default:days" json:"validity_unit"`
	ValidityDays int       `gorm:"not null;default:0" json:"validity_days"`
	Features     []string  `gorm:"serializer:json" json:"features"`
	Popular      bool      `gorm:"not null;default:false" json:"popular"`
	BestValue    bool      `gorm:"not null;default:false" json:"best_value"`
	IsActive     bool      `gorm:"index;not null;default:true" json:"is_active"`
	SortOrder    int       `gorm:"not null;default:0" json:"sort_order"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CatalogPlan) TableName() string {
	return "catalog_plan"
}

// Config 把目录记录归一化成套餐配置
func (p *CatalogPlan) Config() *PlanConfig {
	rule := ValidityRule{Unit: p.ValidityUnit, Days: p.ValidityDays}
	switch p.ValidityUnit {
	case ValidityMonthly, ValidityQuarterly, ValidityYearly, ValidityNone:
		rule.Days = 0
	default:
		// 各种历史写法（days / 空值）统一落到固定天数；没配天数就是永久
		if p.ValidityDays > 0 {
			rule = ValidityRule{Unit: ValidityDays, Days: p.ValidityDays}
		} else {
			rule = ValidityRule{Unit: ValidityNone}
		}
	}

	display := p.DisplayName
	if display == "" {
		display = p.PlanName
	}

	return &PlanConfig{
		PlanCode:    p.PlanCode,
		DisplayName: display,
		Price:       p.Price,
		Currency:    p.Currency,
		CreditCount: p.CreditCount,
		Validity:    rule,
		Features:    p.Features,
		Source:      "database",
	}
}
