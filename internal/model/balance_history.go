package model

import (
	"time"
)

const (
	BalanceTypeTopup    = "TOPUP"    // 后台/支付渠道充值入账
	BalanceTypeVoucher  = "VOUCHER"  // 兑换码入账
	BalanceTypePurchase = "PURCHASE" // 购买扣款
)

const (
	// DirectionDebit 入账：增加可用余额
	DirectionDebit = "DEBIT"
	// DirectionCredit 出账：减少可用余额
	DirectionCredit = "CREDIT"
)

// BalanceHistory 余额流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 记录交易前后余额 —— 便于校验余额一致性
// 3. 行内余额只作审计参考，历史余额由调用方从当前余额逆推
type BalanceHistory struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	JournalNo     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"journal_no"`
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	OrderNo       string    `gorm:"type:varchar(64);index" json:"order_no"` // 购买扣款时关联订单号
	Amount        int64     `gorm:"not null" json:"amount"`                 // 恒为正数，方向由 direction 表达
	Direction     string    `gorm:"type:varchar(10);not null" json:"direction"`
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	VoucherCode   string    `gorm:"type:varchar(64)" json:"voucher_code"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (BalanceHistory) TableName() string {
	return "balance_history"
}
