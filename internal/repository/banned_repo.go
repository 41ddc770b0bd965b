package repository

import (
	"context"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/model"

	"gorm.io/gorm"
)

type BannedUserRepository struct {
	db *gorm.DB
}

func NewBannedUserRepository(db *gorm.DB) *BannedUserRepository {
	return &BannedUserRepository{db: db}
}

// IsBanned 下单前的封禁检查，封禁管理本身在后台系统
func (r *BannedUserRepository) IsBanned(ctx context.Context, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.BannedUser{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
