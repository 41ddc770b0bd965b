package job

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/config"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/repository"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/service"

	"gorm.io/gorm"
)

// DepositChecker 供应商押金余额查询
type DepositChecker interface {
	Balance(ctx context.Context) (int64, error)
}

// ReconcileJob 对账任务：找出长时间未完结的订单，推给客服人工处理
//
// 【关键点】对账任务只报告，绝不自动改订单状态：
// 停在 PENDING 的订单可能是凭证邮件迟到，也可能是 confirm 结果未知，
// 两种情况都需要人工核对供应商后台才能定性，自动流转只会把错账做实
type ReconcileJob struct {
	db       *gorm.DB
	trxRepo  *repository.TransactionRepository
	notifier service.Notifier
	deposit  DepositChecker
	cfg      *config.Config
	stopCh   chan struct{}
	interval time.Duration

	batchSize int
	// alerted 记录已告警过的订单，避免每个周期重复轰炸客服
	alerted map[string]struct{}
	// depositAlerted 押金低位告警只发一次，回到水位线以上后复位
	depositAlerted bool
}

// NewReconcileJob deposit 允许为 nil（测试或未配置预警线时跳过押金检查）
func NewReconcileJob(db *gorm.DB, cfg *config.Config, notifier service.Notifier, deposit DepositChecker) *ReconcileJob {
	return &ReconcileJob{
		db:        db,
		trxRepo:   repository.NewTransactionRepository(db),
		notifier:  notifier,
		deposit:   deposit,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  time.Minute,
		batchSize: 50,
		alerted:   make(map[string]struct{}),
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	log.Println("[ReconcileJob] 对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ReconcileJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ReconcileJob] 任务停止")
			return
		case <-ticker.C:
			j.reportStaleTransactions(ctx)
			j.checkProviderDeposit(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

func (j *ReconcileJob) reportStaleTransactions(ctx context.Context) {
	threshold := time.Duration(j.cfg.Business.ReconcileAfterMinutes) * time.Minute
	before := time.Now().Add(-threshold)

	stale, err := j.trxRepo.GetStaleUnfinished(ctx, before, j.batchSize)
	if err != nil {
		log.Printf("[ReconcileJob] 查询滞留订单失败: %v", err)
		return
	}

	if len(stale) == 0 {
		return
	}

	log.Printf("[ReconcileJob] 发现 %d 笔滞留订单", len(stale))

	for _, trx := range stale {
		if _, ok := j.alerted[trx.OrderNo]; ok {
			continue
		}

		msg := fmt.Sprintf("【对账告警】订单滞留超过 %d 分钟，需人工核对供应商后台\n订单: %s\n用户: %d\n类别: %s\n状态: %s\n金额: %d\n创建时间: %s",
			j.cfg.Business.ReconcileAfterMinutes,
			trx.OrderNo, trx.UserID, trx.Category, trx.Status, trx.Total,
			trx.CreatedAt.Format("2006-01-02 15:04:05"))

		if err := j.notifier.Send(ctx, j.cfg.WhatsApp.AdminPhone, msg); err != nil {
			// 告警失败下个周期还会重试，不记 alerted
			log.Printf("[ReconcileJob] 对账告警发送失败: orderNo=%s, err=%v", trx.OrderNo, err)
			continue
		}

		j.alerted[trx.OrderNo] = struct{}{}
		log.Printf("[ReconcileJob] 滞留订单已上报客服: orderNo=%s, status=%s", trx.OrderNo, trx.Status)
	}

	// 防止 alerted 无限增长：已完结的订单不会再出现在滞留列表里，
	// 超过阈值时整体重建，代价只是偶尔重复一次告警
	if len(j.alerted) > 10000 {
		j.alerted = make(map[string]struct{})
	}
}

// checkProviderDeposit 押金水位检查
// 押金不足时供应商会开始拒单，提前预警比事后对账便宜得多
func (j *ReconcileJob) checkProviderDeposit(ctx context.Context) {
	floor := j.cfg.Business.MinProviderDeposit
	if j.deposit == nil || floor <= 0 {
		return
	}

	balance, err := j.deposit.Balance(ctx)
	if err != nil {
		log.Printf("[ReconcileJob] 查询供应商押金失败: %v", err)
		return
	}

	if balance >= floor {
		j.depositAlerted = false
		return
	}
	if j.depositAlerted {
		return
	}

	msg := fmt.Sprintf("【押金告警】供应商押金已低于预警线，请尽快充值\n当前押金: %d\n预警线: %d", balance, floor)
	if err := j.notifier.Send(ctx, j.cfg.WhatsApp.AdminPhone, msg); err != nil {
		log.Printf("[ReconcileJob] 押金告警发送失败: %v", err)
		return
	}
	j.depositAlerted = true
	log.Printf("[ReconcileJob] 押金低位已上报客服: balance=%d, floor=%d", balance, floor)
}
