package service

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/config"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/gmail"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/model"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/repository"

	"gorm.io/gorm"
)

// PatternRule 凭证码提取规则，按声明顺序匹配，先命中先得
type PatternRule struct {
	Name string
	Re   *regexp.Regexp
}

// voucherPatterns 带前缀的规则在前，裸码兜底规则在最后。
// 供应商邮件模板改版时只需要在这里加一条规则。
var voucherPatterns = []PatternRule{
	{Name: "code_prefix", Re: regexp.MustCompile(`(?i)code\s*[:：]\s*([A-Za-z0-9\-]{8,32})`)},
	{Name: "voucher_prefix", Re: regexp.MustCompile(`(?i)voucher\s*[:：]\s*([A-Za-z0-9\-]{8,32})`)},
	{Name: "pin_prefix", Re: regexp.MustCompile(`(?i)pin\s*[:：]\s*([A-Za-z0-9\-]{8,32})`)},
	{Name: "bare_code", Re: regexp.MustCompile(`\b([A-Za-z0-9]{12,25})\b`)},
}

// ExtractVoucherCode 从邮件正文提取凭证码，提不出来返回空串
func ExtractVoucherCode(text string) string {
	for _, rule := range voucherPatterns {
		if m := rule.Re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// FulfillmentService 凭证邮件匹配：把供应商发来的卡密邮件关联到待完结订单
type FulfillmentService struct {
	db         *gorm.DB
	cfg        *config.Config
	notifier   Notifier
	trxRepo    *repository.TransactionRepository
	emailRepo  *repository.ProcessedEmailRepository
	outboxRepo *repository.OutboxRepository
}

func NewFulfillmentService(db *gorm.DB, cfg *config.Config, notifier Notifier) *FulfillmentService {
	return &FulfillmentService{
		db:         db,
		cfg:        cfg,
		notifier:   notifier,
		trxRepo:    repository.NewTransactionRepository(db),
		emailRepo:  repository.NewProcessedEmailRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
	}
}

// Process 处理一封推送来的邮件
//
// 【关键点】这里的返回值永远是 nil：webhook 必须对 Gmail 回 200，
// 否则 Pub/Sub 会不停重投同一条通知。所有失败路径都转成客服告警，
// message_id 唯一索引保证重投不会二次发放
func (s *FulfillmentService) Process(ctx context.Context, msg *gmail.Message) error {
	// 1. 去重：同一封邮件只处理一次
	exists, err := s.emailRepo.ExistsByMessageID(ctx, msg.ID)
	if err != nil {
		log.Printf("[Fulfillment] 查询邮件去重记录失败: messageID=%s, err=%v", msg.ID, err)
		s.escalate(ctx, fmt.Sprintf("邮件去重查询失败 messageID=%s: %v", msg.ID, err))
		return nil
	}
	if exists {
		log.Printf("[Fulfillment] 邮件已处理过，跳过: messageID=%s", msg.ID)
		return nil
	}

	// 2. 发件人过滤：非供应商邮件直接忽略，不算异常
	if !strings.Contains(msg.From, s.cfg.Gmail.VendorSender) {
		log.Printf("[Fulfillment] 非供应商邮件，忽略: messageID=%s, from=%s", msg.ID, msg.From)
		return nil
	}

	// 3. 提取凭证码，主题和正文都扫
	// 有的模板把码放在主题里，正文只有一句客套话
	code := ExtractVoucherCode(msg.Subject + "\n" + msg.Body)
	if code == "" {
		log.Printf("[Fulfillment] 邮件提取不出凭证码: messageID=%s, subject=%s", msg.ID, msg.Subject)
		s.escalate(ctx, fmt.Sprintf("供应商邮件无法提取凭证码，需人工处理\nmessageID: %s\n主题: %s", msg.ID, msg.Subject))
		return nil
	}

	// 4. 在时间窗内找最近一笔待完结的卡密订单
	window := time.Duration(s.cfg.Business.MatchWindowMinutes) * time.Minute
	trx, err := s.trxRepo.FindLatestPendingVoucher(ctx, time.Now().Add(-window))
	if err != nil {
		log.Printf("[Fulfillment] 查询待匹配订单失败: messageID=%s, err=%v", msg.ID, err)
		s.escalate(ctx, fmt.Sprintf("待匹配订单查询失败 messageID=%s: %v", msg.ID, err))
		return nil
	}
	if trx == nil {
		log.Printf("[Fulfillment] 时间窗内无待匹配订单: messageID=%s, code=%s", msg.ID, code)
		s.escalate(ctx, fmt.Sprintf("收到凭证码但找不到待匹配订单，需人工核对\nmessageID: %s\n凭证码: %s", msg.ID, code))
		return nil
	}

	// 5. 先把凭证发给用户，再落账。
	// 顺序是刻意的：宁可「用户收到码但订单没置成功」（对账任务会发现），
	// 也不要「订单置成功但用户没收到码」（用户白白扣了钱）
	userMsg := fmt.Sprintf("您的订单 %s 已完成，凭证码：%s\n请妥善保管，切勿外泄。", trx.OrderNo, code)
	if err := s.notifier.Send(ctx, trx.Phone, userMsg); err != nil {
		log.Printf("[Fulfillment] 凭证发送用户失败: orderNo=%s, err=%v", trx.OrderNo, err)
		s.escalate(ctx, fmt.Sprintf("凭证码无法送达用户，需人工补发\n订单: %s\n凭证码: %s\n手机: %s\n错误: %v",
			trx.OrderNo, code, trx.Phone, err))
		return nil
	}

	// 6. 状态流转 + 去重记录 + 发件箱事件，同一事务提交
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.trxRepo.UpdateStatus(ctx, tx, trx.OrderNo, model.TrxStatusPending, model.TrxStatusSuccess); err != nil {
			return fmt.Errorf("更新订单状态失败: %w", err)
		}

		rec := &model.ProcessedEmail{
			MessageID:   msg.ID,
			VoucherCode: code,
			OrderNo:     trx.OrderNo,
			UserPhone:   trx.Phone,
			ProcessedAt: time.Now(),
		}
		if err := s.emailRepo.Create(ctx, tx, rec); err != nil {
			return fmt.Errorf("写入邮件处理记录失败: %w", err)
		}

		outboxMsg := &model.OutboxMessage{
			MessageKey: trx.OrderNo,
			Topic:      s.cfg.Kafka.Topic.FulfillmentResult,
			Payload: fmt.Sprintf(`{"order_no":"%s","message_id":"%s","matched_at":"%s"}`,
				trx.OrderNo, msg.ID, time.Now().Format(time.RFC3339)),
			Status: model.OutboxStatusPending,
		}
		return s.outboxRepo.Create(ctx, tx, outboxMsg)
	})
	if err != nil {
		// 用户已经拿到码，但本地没落账成功：必须带全上下文告警，
		// 不写 processed_email 记录，留给人工核对后补录
		log.Printf("[Fulfillment] 凭证已发但落账失败: orderNo=%s, messageID=%s, err=%v", trx.OrderNo, msg.ID, err)
		s.escalate(ctx, fmt.Sprintf("凭证已发用户但订单落账失败，需人工补录\n订单: %s\nmessageID: %s\n凭证码: %s\n错误: %v",
			trx.OrderNo, msg.ID, code, err))
		return nil
	}

	log.Printf("[Fulfillment] 凭证匹配完结: orderNo=%s, messageID=%s", trx.OrderNo, msg.ID)
	return nil
}

// escalate 客服人工兜底告警，告警本身失败只记日志
func (s *FulfillmentService) escalate(ctx context.Context, message string) {
	if err := s.notifier.Send(ctx, s.cfg.WhatsApp.AdminPhone, "【履约告警】\n"+message); err != nil {
		log.Printf("[Fulfillment] 客服告警发送失败: %v", err)
	}
}
