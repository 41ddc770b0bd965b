package handler

import (
	"context"
	"encoding/json"
	"log"
	"strconv"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/gmail"

	"github.com/gin-gonic/gin"
)

// MailSource 邮件来源抽象，webhook 测试注入假实现
type MailSource interface {
	MessagesSince(ctx context.Context, historyID string) ([]*gmail.Message, error)
}

// pubsubPush Pub/Sub 推送外层信封
type pubsubPush struct {
	Message struct {
		Data      string `json:"data"` // base64url 编码的通知正文
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// gmailNotification 通知正文，只关心 historyId
type gmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// GmailWebhook Gmail Pub/Sub 推送入口
// POST /webhook/gmail
//
// 【关键点】无论处理成败一律回 200：
// 回非 2xx 会让 Pub/Sub 反复重投同一条通知，把失败放大成风暴。
// 真正的可靠性由 message_id 去重 + 人工告警兜底，不靠重投
func (h *Handler) GmailWebhook(c *gin.Context) {
	var push pubsubPush
	if err := c.ShouldBindJSON(&push); err != nil {
		log.Printf("[Webhook] 推送体解析失败: %v", err)
		c.JSON(200, gin.H{"status": "ignored"})
		return
	}

	raw, err := gmail.DecodeBase64URL(push.Message.Data)
	if err != nil {
		log.Printf("[Webhook] 推送 data 解码失败: messageId=%s, err=%v", push.Message.MessageID, err)
		c.JSON(200, gin.H{"status": "ignored"})
		return
	}

	var notif gmailNotification
	if err := json.Unmarshal(raw, &notif); err != nil {
		log.Printf("[Webhook] 通知正文解析失败: messageId=%s, err=%v", push.Message.MessageID, err)
		c.JSON(200, gin.H{"status": "ignored"})
		return
	}
	if notif.HistoryID == 0 {
		log.Printf("[Webhook] 通知缺少 historyId: messageId=%s", push.Message.MessageID)
		c.JSON(200, gin.H{"status": "ignored"})
		return
	}

	messages, err := h.mail.MessagesSince(c.Request.Context(), strconv.FormatUint(notif.HistoryID, 10))
	if err != nil {
		// 拉信失败也回 200，下一条推送会带着更新的 historyId 再来
		log.Printf("[Webhook] 拉取邮件失败: historyId=%d, err=%v", notif.HistoryID, err)
		c.JSON(200, gin.H{"status": "fetch_failed"})
		return
	}

	for _, msg := range messages {
		// Process 内部永不返回错误，失败路径全部转客服告警
		_ = h.fulfillmentService.Process(c.Request.Context(), msg)
	}

	c.JSON(200, gin.H{"status": "ok", "processed": len(messages)})
}
