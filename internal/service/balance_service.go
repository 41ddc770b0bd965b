package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/model"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/repository"
	"github.com/alvent88/TopAsli-Voucher-sub000/pkg/idgen"

	"gorm.io/gorm"
)

// BalanceService 余额账本，account.balance 和 balance_history 的唯一写入口
type BalanceService struct {
	db          *gorm.DB
	accountRepo *repository.AccountRepository
	historyRepo *repository.HistoryRepository
	trxRepo     *repository.TransactionRepository
}

func NewBalanceService(db *gorm.DB) *BalanceService {
	return &BalanceService{
		db:          db,
		accountRepo: repository.NewAccountRepository(db),
		historyRepo: repository.NewHistoryRepository(db),
		trxRepo:     repository.NewTransactionRepository(db),
	}
}

// GetBalance 查询可用余额，账户不存在按 0 处理
func (s *BalanceService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}

// Apply 余额变更的唯一入口
//
// 【关键点】流水插入和余额更新在同一个数据库事务里，要么都成功要么
// 都不发生。amount 恒为正数，方向由类型决定：
//   TOPUP / VOUCHER -> 入账（DEBIT，余额增加）
//   PURCHASE        -> 出账（CREDIT，余额减少），余额不足直接拒绝
func (s *BalanceService) Apply(ctx context.Context, userID, amount int64, balanceType, remark, voucherCode string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.ApplyTx(ctx, tx, userID, amount, balanceType, "", remark, voucherCode)
	})
}

// ApplyTx 在外部事务内执行余额变更
// 购买扣款需要和订单状态流转共事务，由 PurchaseService 调用
func (s *BalanceService) ApplyTx(ctx context.Context, tx *gorm.DB, userID, amount int64, balanceType, orderNo, remark, voucherCode string) error {
	if amount <= 0 {
		return errors.New("金额必须大于0")
	}

	// 账户必须在本事务内读取，BalanceBefore/BalanceAfter 才依据的是
	// 条件更新真正作用时的余额，而不是事务外的一份旧快照
	account, err := s.accountRepo.GetOrCreate(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("获取账户信息失败: %w", err)
	}

	var direction string
	var balanceAfter int64

	switch balanceType {
	case model.BalanceTypeTopup, model.BalanceTypeVoucher:
		direction = model.DirectionDebit
		balanceAfter = account.Balance + amount
		if err := s.accountRepo.Increase(ctx, tx, userID, amount, account.Version); err != nil {
			return fmt.Errorf("入账失败: %w", err)
		}
	case model.BalanceTypePurchase:
		direction = model.DirectionCredit
		balanceAfter = account.Balance - amount
		// 余额校验和扣减是同一条条件 UPDATE，并发购买不会双双通过
		if err := s.accountRepo.Deduct(ctx, tx, userID, amount, account.Version); err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知流水类型: %s", balanceType)
	}

	entry := &model.BalanceHistory{
		JournalNo:     idgen.GenerateJournalNo(),
		UserID:        userID,
		OrderNo:       orderNo,
		Amount:        amount,
		Direction:     direction,
		Type:          balanceType,
		VoucherCode:   voucherCode,
		BalanceBefore: account.Balance,
		BalanceAfter:  balanceAfter,
		Remark:        remark,
	}
	if err := s.historyRepo.Create(ctx, tx, entry); err != nil {
		return fmt.Errorf("记录流水失败: %w", err)
	}

	return nil
}

// HistoryItem 余额明细合并流中的一项
// Amount 带符号：入账为正，购买为负。调用方从当前余额开始
// 从新到旧逐项回减即可还原任意时点的历史余额
type HistoryItem struct {
	Time        time.Time `json:"time"`
	Type        string    `json:"type"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	VoucherCode string    `json:"voucher_code,omitempty"`
	OrderNo     string    `json:"order_no,omitempty"`
}

// History 余额明细，倒序合并两个来源：
// 入账流水（充值/兑换码）+ 成功的购买订单。
// 购买扣款虽然也有流水行，但那是审计用的，合并流里用订单本身表达，
// 避免同一笔消费出现两次
func (s *BalanceService) History(ctx context.Context, userID int64, from, to *time.Time) ([]*HistoryItem, error) {
	credits, err := s.historyRepo.ListCreditsByUser(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("查询入账流水失败: %w", err)
	}

	purchases, err := s.trxRepo.ListSuccessByUser(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("查询购买订单失败: %w", err)
	}

	items := make([]*HistoryItem, 0, len(credits)+len(purchases))
	i, j := 0, 0
	for i < len(credits) || j < len(purchases) {
		takeCredit := j >= len(purchases) ||
			(i < len(credits) && !credits[i].CreatedAt.Before(purchases[j].CreatedAt))

		if takeCredit {
			c := credits[i]
			items = append(items, &HistoryItem{
				Time:        c.CreatedAt,
				Type:        c.Type,
				Amount:      c.Amount,
				Description: c.Remark,
				VoucherCode: c.VoucherCode,
			})
			i++
		} else {
			p := purchases[j]
			items = append(items, &HistoryItem{
				Time:        p.CreatedAt,
				Type:        model.BalanceTypePurchase,
				Amount:      -p.Total,
				Description: fmt.Sprintf("购买 %s/%s", p.ProductID, p.PackageCode),
				OrderNo:     p.OrderNo,
			})
			j++
		}
	}
	return items, nil
}
