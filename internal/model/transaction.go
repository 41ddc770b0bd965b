package model

import (
	"time"
)

const (
	TrxStatusPending    = "PENDING"
	TrxStatusProcessing = "PROCESSING"
	TrxStatusSuccess    = "SUCCESS"
	TrxStatusFailed     = "FAILED"
)

// ValidStatusTransitions 订单状态只能向前流转，终态不可再变
var ValidStatusTransitions = map[string][]string{
	TrxStatusPending:    {TrxStatusProcessing, TrxStatusSuccess, TrxStatusFailed},
	TrxStatusProcessing: {TrxStatusSuccess, TrxStatusFailed},
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
	return status == TrxStatusSuccess || status == TrxStatusFailed
}

const (
	// CategoryDirect 直充类商品：供应商 confirm 成功即到账
	CategoryDirect = "DIRECT"
	// CategoryVoucher 卡密类商品：confirm 后供应商异步发凭证邮件，
	// 由邮件匹配流程完结订单
	CategoryVoucher = "VOUCHER"
)

// Transaction 充值订单表
// 下单即落库，是后续邮件匹配的关联锚点
type Transaction struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	RequestID    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"` // 幂等ID，客户端生成
	UserID       int64      `gorm:"index;not null" json:"user_id"`
	ProductID    string     `gorm:"type:varchar(64);not null" json:"product_id"`
	PackageCode  string     `gorm:"type:varchar(64);not null" json:"package_code"` // 供应商侧套餐编码
	Category     string     `gorm:"type:varchar(20);not null" json:"category"`     // DIRECT / VOUCHER
	Price        int64      `gorm:"not null" json:"price"`
	Fee          int64      `gorm:"not null;default:0" json:"fee"`
	Total        int64      `gorm:"not null" json:"total"`
	GameUserID   string     `gorm:"type:varchar(64);not null" json:"game_user_id"` // 充值目标账号
	GameServerID string     `gorm:"type:varchar(64)" json:"game_server_id"`
	GameUsername string     `gorm:"type:varchar(128)" json:"game_username"` // inquiry 返回的昵称，仅展示用
	Phone        string     `gorm:"type:varchar(20)" json:"phone"`          // 买家通知号码（WhatsApp）
	Status       string     `gorm:"type:varchar(20);index;not null" json:"status"`
	ProviderRef  string     `gorm:"type:varchar(64)" json:"provider_ref"` // 供应商侧 inquiry/订单号
	Note         string     `gorm:"type:varchar(256)" json:"note"`        // 审计备注，终态后仍允许追加
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transaction"
}
