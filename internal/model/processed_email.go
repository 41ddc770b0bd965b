package model

import (
	"time"
)

// ProcessedEmail 已处理邮件表
//
// message_id 全局唯一，是整个邮件链路的去重闸门：
// 推送通道（Pub/Sub）会重投，重投的消息必须命中这里直接短路，
// 保证同一封凭证邮件至多产生一次订单变更和一次通知
type ProcessedEmail struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageID   string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"message_id"`
	VoucherCode string    `gorm:"type:varchar(64);not null" json:"voucher_code"`
	OrderNo     string    `gorm:"type:varchar(64);index;not null" json:"order_no"`
	UserPhone   string    `gorm:"type:varchar(20)" json:"user_phone"`
	ProcessedAt time.Time `gorm:"autoCreateTime" json:"processed_at"`
}

func (ProcessedEmail) TableName() string {
	return "processed_email"
}
