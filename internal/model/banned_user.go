package model

import (
	"time"
)

// BannedUser 封禁名单（只读视图）
// 封禁管理在后台系统，这里只在下单前查一眼
type BannedUser struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Reason    string    `gorm:"type:varchar(256)" json:"reason"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (BannedUser) TableName() string {
	return "banned_user"
}
