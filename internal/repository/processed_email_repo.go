package repository

import (
	"context"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/model"

	"gorm.io/gorm"
)

type ProcessedEmailRepository struct {
	db *gorm.DB
}

func NewProcessedEmailRepository(db *gorm.DB) *ProcessedEmailRepository {
	return &ProcessedEmailRepository{db: db}
}

// ExistsByMessageID 去重查询
// 查不到也不代表一定能插入成功 —— 真正的闸门是 message_id 唯一索引，
// 并发重投时后写的事务会因唯一键冲突整体回滚
func (r *ProcessedEmailRepository) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ProcessedEmail{}).
		Where("message_id = ?", messageID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *ProcessedEmailRepository) Create(ctx context.Context, tx *gorm.DB, rec *model.ProcessedEmail) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(rec).Error
}

func (r *ProcessedEmailRepository) GetByMessageID(ctx context.Context, messageID string) (*model.ProcessedEmail, error) {
	var rec model.ProcessedEmail
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}
