package model

import (
	"time"
)

// ProfileUnlock 资料解锁表
// 一对 (viewer, target) 至多一条记录，联合唯一索引是防止重复扣积分的最后防线。
// 只插入，不修改，不删除
type ProfileUnlock struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ViewerID    int64     `gorm:"uniqueIndex:uk_viewer_target;not null" json:"viewer_id"`
	TargetID    int64     `gorm:"uniqueIndex:uk_viewer_target;not null" json:"target_id"`
	ViewerVivID string    `gorm:"type:varchar(32);index;not null" json:"viewer_viv_id"`
	TargetVivID string    `gorm:"type:varchar(32);not null" json:"target_viv_id"`
	PlanID      int64     `gorm:"index;not null" json:"plan_id"` // 扣的是哪个套餐的积分
	Cost        int       `gorm:"not null;default:1" json:"cost"`
	UnlockedAt  time.Time `gorm:"autoCreateTime;index" json:"unlocked_at"`
}

func (ProfileUnlock) TableName() string {
	return "profile_unlock"
}
