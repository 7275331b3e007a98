package model

import (
	"time"
)

// Member 会员表
// 相亲平台的会员目录。本服务只关心解锁前置校验需要的字段：
// 是否完成实名验证、资料是否填写完整
type Member struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	VivID            string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"viv_id"` // 会员编号，全站唯一
	Name             string    `gorm:"type:varchar(128);not null" json:"name"`
	Email            string    `gorm:"type:varchar(128)" json:"email"`
	Verified         bool      `gorm:"not null;default:false" json:"verified"`          // 邮箱/实名验证
	ProfileCompleted bool      `gorm:"not null;default:false" json:"profile_completed"` // 资料完整度
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Member) TableName() string {
	return "member"
}

// ============================================================
// 请求主体（Principal）
// ============================================================

const (
	PrincipalKindMember = "MEMBER"
	PrincipalKindAdmin  = "ADMIN"
)

// Principal 请求主体，在系统边界（中间件）解析一次后显式传入各服务。
// 要么是会员，要么是管理员，不允许"鸭子类型"式的多种形态
type Principal struct {
	Kind             string
	MemberID         int64
	VivID            string
	Verified         bool
	ProfileCompleted bool
}

func (p *Principal) IsAdmin() bool {
	return p.Kind == PrincipalKindAdmin
}

func (p *Principal) IsMember() bool {
	return p.Kind == PrincipalKindMember
}
