package repository

import (
	"context"
	"errors"
	"time"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTrxNotFound      = errors.New("订单不存在")
	ErrTrxStatusInvalid = errors.New("订单状态不合法")
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trx *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trx).Error
}

func (r *TransactionRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.Transaction, error) {
	var trx model.Transaction
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&trx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTrxNotFound
		}
		return nil, err
	}
	return &trx, nil
}

// GetByRequestID 按幂等ID查询，未找到时返回 (nil, nil)
func (r *TransactionRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Transaction, error) {
	var trx model.Transaction
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&trx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trx, nil
}

// UpdateStatus 带前置状态守卫的状态流转
// WHERE status = fromStatus 保证终态不会被并发写回退
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrTrxStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}

	if model.IsTerminalStatus(toStatus) {
		now := time.Now()
		updates["completed_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("order_no = ? AND status = ?", orderNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrTrxStatusInvalid
	}

	return nil
}

// SetProviderRef 回填供应商侧单号
func (r *TransactionRepository) SetProviderRef(ctx context.Context, tx *gorm.DB, orderNo, providerRef string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("order_no = ?", orderNo).
		Update("provider_ref", providerRef).Error
}

// AppendNote 追加审计备注，终态订单也允许
func (r *TransactionRepository) AppendNote(ctx context.Context, orderNo, note string) error {
	return r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("order_no = ?", orderNo).
		Update("note", note).Error
}

// FindLatestPendingVoucher 取时间窗内最新的待处理卡密订单
//
// 邮件内容与订单之间没有任何密码学绑定，只能按"最近的待处理卡密订单"
// 弱关联（见 FulfillmentService 的说明）。未命中返回 (nil, nil)
func (r *TransactionRepository) FindLatestPendingVoucher(ctx context.Context, since time.Time) (*model.Transaction, error) {
	var trx model.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND category = ? AND created_at >= ?",
			model.TrxStatusPending, model.CategoryVoucher, since).
		Order("created_at DESC").
		First(&trx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trx, nil
}

// GetStaleUnfinished 查询长时间未完结的订单，供对账任务巡检
func (r *TransactionRepository) GetStaleUnfinished(ctx context.Context, before time.Time, limit int) ([]*model.Transaction, error) {
	var trxs []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]string{model.TrxStatusPending, model.TrxStatusProcessing}, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&trxs).Error
	return trxs, err
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var trxs []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&trxs).Error

	return trxs, total, err
}

// ListSuccessByUser 查询区间内的成功订单（余额明细合并流用）
func (r *TransactionRepository) ListSuccessByUser(ctx context.Context, userID int64, from, to *time.Time) ([]*model.Transaction, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.TrxStatusSuccess)
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at <= ?", *to)
	}

	var trxs []*model.Transaction
	err := query.Order("created_at DESC").Find(&trxs).Error
	return trxs, err
}
