package repository

import (
	"context"
	"time"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/model"

	"gorm.io/gorm"
)

// HistoryRepository 余额流水仓储，只有 Create 和查询，没有更新删除
type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.BalanceHistory) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// ListCreditsByUser 查询区间内的入账流水（充值/兑换码），倒序
func (r *HistoryRepository) ListCreditsByUser(ctx context.Context, userID int64, from, to *time.Time) ([]*model.BalanceHistory, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ? AND type IN ?", userID,
			[]string{model.BalanceTypeTopup, model.BalanceTypeVoucher})
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at <= ?", *to)
	}

	var entries []*model.BalanceHistory
	err := query.Order("created_at DESC").Find(&entries).Error
	return entries, err
}

func (r *HistoryRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.BalanceHistory, int64, error) {
	var entries []*model.BalanceHistory
	var total int64

	query := r.db.WithContext(ctx).Model(&model.BalanceHistory{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

// GetByOrderNo 按订单号查流水，未找到返回 (nil, nil)
func (r *HistoryRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.BalanceHistory, error) {
	var entry model.BalanceHistory
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}
