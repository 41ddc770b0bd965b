package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/config"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/infrastructure/lock"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/model"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/provider"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/repository"
	"github.com/alvent88/TopAsli-Voucher-sub000/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ProviderAPI 供应商接口抽象，测试注入假实现
type ProviderAPI interface {
	Inquiry(ctx context.Context, packageCode, userID, serverID string) (*provider.InquiryResult, error)
	Confirm(ctx context.Context, inquiryID, partnerRef string) (*provider.ConfirmResult, error)
}

// Notifier 通知通道抽象（WhatsApp 网关）
type Notifier interface {
	Send(ctx context.Context, target, message string) error
}

var (
	ErrUserBanned = errors.New("用户已被封禁，禁止下单")
)

// PurchaseService 购买编排：inquiry -> 落单 -> confirm 状态机
type PurchaseService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	provider    ProviderAPI
	balance     *BalanceService
	trxRepo     *repository.TransactionRepository
	outboxRepo  *repository.OutboxRepository
	bannedRepo  *repository.BannedUserRepository
}

// NewPurchaseService redisClient 允许为 nil（单元测试/单机部署），
// 此时并发保护完全依赖数据库条件更新兜底
func NewPurchaseService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, providerAPI ProviderAPI) *PurchaseService {
	return &PurchaseService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		provider:    providerAPI,
		balance:     NewBalanceService(db),
		trxRepo:     repository.NewTransactionRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		bannedRepo:  repository.NewBannedUserRepository(db),
	}
}

type InquiryRequest struct {
	PackageCode  string `json:"package_code" binding:"required"`
	GameUserID   string `json:"game_user_id" binding:"required"`
	GameServerID string `json:"game_server_id"`
}

// Inquire 询价，只读，可重复调用，不落任何本地状态
func (s *PurchaseService) Inquire(ctx context.Context, req *InquiryRequest) (*provider.InquiryResult, error) {
	return s.provider.Inquiry(ctx, req.PackageCode, req.GameUserID, req.GameServerID)
}

type CreateOrderRequest struct {
	RequestID    string
	UserID       int64
	ProductID    string
	PackageCode  string
	Category     string
	Price        int64
	Fee          int64
	GameUserID   string
	GameServerID string
	GameUsername string
	Phone        string
}

// CreateOrder 落单，生成 PENDING 订单
// 订单是第一个持久化产物，也是后续邮件匹配的关联锚点。
// request_id 幂等：重复提交返回已有订单
func (s *PurchaseService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*model.Transaction, error) {
	banned, err := s.bannedRepo.IsBanned(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("查询封禁状态失败: %w", err)
	}
	if banned {
		return nil, ErrUserBanned
	}

	existing, err := s.trxRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	trx := &model.Transaction{
		OrderNo:      idgen.GenerateOrderNo(),
		RequestID:    req.RequestID,
		UserID:       req.UserID,
		ProductID:    req.ProductID,
		PackageCode:  req.PackageCode,
		Category:     req.Category,
		Price:        req.Price,
		Fee:          req.Fee,
		Total:        req.Price + req.Fee,
		GameUserID:   req.GameUserID,
		GameServerID: req.GameServerID,
		GameUsername: req.GameUsername,
		Phone:        req.Phone,
		Status:       model.TrxStatusPending,
	}

	if err := s.trxRepo.Create(ctx, nil, trx); err != nil {
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}
	return trx, nil
}

// ConfirmPurchase 确认购买
//
// 【关键点】confirm 是唯一触发供应商发货的调用，外部副作用无法回滚：
//  1. 供应商明确拒绝 -> 订单置 FAILED，余额分文未动
//  2. 网络超时/未知 -> 订单留在 PENDING，交给人工对账，绝不盲目重试
//  3. 供应商成功 -> 扣款、状态流转、发件箱事件在同一个数据库事务里提交；
//     直充类订单置 SUCCESS，卡密类订单保持 PENDING 等凭证邮件完结
func (s *PurchaseService) ConfirmPurchase(ctx context.Context, orderNo, inquiryID string) (*model.Transaction, error) {
	trx, err := s.trxRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if model.IsTerminalStatus(trx.Status) {
		// 终态订单重复 confirm 按幂等处理
		return trx, nil
	}
	if trx.Status != model.TrxStatusPending {
		return trx, nil
	}

	// 按用户加锁，挡住同一笔订单的并发 confirm
	if s.redisClient != nil {
		confirmLock := lock.NewConfirmLock(s.redisClient, trx.UserID, orderNo)
		if err := confirmLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer confirmLock.Unlock(ctx)

		// 拿到锁后重读，前一个持有者可能已经完结了这笔订单
		trx, err = s.trxRepo.GetByOrderNo(ctx, orderNo)
		if err != nil {
			return nil, err
		}
		if trx.Status != model.TrxStatusPending {
			return trx, nil
		}
	}

	// 先做余额预检，余额明显不够就不去打供应商的 confirm
	balance, err := s.balance.GetBalance(ctx, trx.UserID)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	if balance < trx.Total {
		return nil, repository.ErrBalanceNotEnough
	}

	result, err := s.provider.Confirm(ctx, inquiryID, trx.OrderNo)
	if err != nil {
		if errors.Is(err, provider.ErrRejected) {
			// 明确拒绝：没有任何发货发生，可以放心置失败
			if stErr := s.trxRepo.UpdateStatus(ctx, nil, orderNo, model.TrxStatusPending, model.TrxStatusFailed); stErr != nil {
				log.Printf("[PurchaseService] 订单置失败状态出错: orderNo=%s, err=%v", orderNo, stErr)
			}
			log.Printf("[PurchaseService] 供应商拒绝 confirm: orderNo=%s, err=%v", orderNo, err)
			return nil, err
		}
		// 超时/网络错误：供应商可能已经受理，订单留在 PENDING 等人工对账
		log.Printf("[PurchaseService] confirm 结果未知，订单待对账: orderNo=%s, err=%v", orderNo, err)
		_ = s.trxRepo.AppendNote(ctx, orderNo, fmt.Sprintf("confirm 结果未知: %v", err))
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.trxRepo.SetProviderRef(ctx, tx, orderNo, result.OrderRef); err != nil {
			return fmt.Errorf("回填供应商单号失败: %w", err)
		}

		remark := fmt.Sprintf("购买-%s-%s", trx.ProductID, trx.PackageCode)
		if err := s.balance.ApplyTx(ctx, tx, trx.UserID, trx.Total, model.BalanceTypePurchase, orderNo, remark, ""); err != nil {
			return err
		}

		status := model.TrxStatusPending
		if trx.Category == model.CategoryDirect {
			// 直充类到账即完结；卡密类保持 PENDING 等邮件匹配
			if err := s.trxRepo.UpdateStatus(ctx, tx, orderNo, model.TrxStatusPending, model.TrxStatusSuccess); err != nil {
				return fmt.Errorf("更新订单状态失败: %w", err)
			}
			status = model.TrxStatusSuccess
		}

		msgPayload := map[string]interface{}{
			"order_no":     orderNo,
			"user_id":      trx.UserID,
			"total":        trx.Total,
			"category":     trx.Category,
			"provider_ref": result.OrderRef,
			"status":       status,
			"confirmed_at": time.Now().Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: orderNo,
			Topic:      s.cfg.Kafka.Topic.TopupResult,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		return s.outboxRepo.Create(ctx, tx, outboxMsg)
	})

	if err != nil {
		// 供应商已受理但本地落账失败：这是最危险的分叉，
		// 只能大声记录留给对账任务，绝不能自动重发 confirm
		log.Printf("[PurchaseService] 供应商已确认但本地落账失败: orderNo=%s, providerRef=%s, err=%v",
			orderNo, result.OrderRef, err)
		_ = s.trxRepo.AppendNote(ctx, orderNo,
			fmt.Sprintf("供应商已确认(ref=%s)但本地落账失败，需人工对账", result.OrderRef))
		return nil, err
	}

	log.Printf("[PurchaseService] confirm 成功: orderNo=%s, category=%s, providerRef=%s",
		orderNo, trx.Category, result.OrderRef)

	return s.trxRepo.GetByOrderNo(ctx, orderNo)
}

func (s *PurchaseService) GetTransaction(ctx context.Context, orderNo string) (*model.Transaction, error) {
	return s.trxRepo.GetByOrderNo(ctx, orderNo)
}

func (s *PurchaseService) ListUserTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.trxRepo.ListByUserID(ctx, userID, page, pageSize)
}
