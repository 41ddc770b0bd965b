package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/config"
)

// WhatsAppClient 通知网关客户端
//
// 通知是尽力而为的旁路：发送失败只记录并转人工，
// 绝不回滚已提交的订单或余额变更
type WhatsAppClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewWhatsAppClient(cfg *config.WhatsAppConfig) *WhatsAppClient {
	return &WhatsAppClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type sendRequest struct {
	Target  string `json:"target"`
	Message string `json:"message"`
}

type sendResponse struct {
	Status bool   `json:"status"`
	Reason string `json:"reason"`
}

// Send 发送消息
// target 为带国家码的纯数字号码；非 2xx 或响应体 status=false 都算失败
func (c *WhatsAppClient) Send(ctx context.Context, target, message string) error {
	body, err := json.Marshal(sendRequest{Target: target, Message: message})
	if err != nil {
		return fmt.Errorf("序列化通知请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造通知请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("调用通知网关失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取通知网关响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("通知网关返回 http %d: %s", resp.StatusCode, string(respBody))
	}

	var result sendResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("解析通知网关响应失败: %w", err)
	}
	if !result.Status {
		return fmt.Errorf("通知网关拒绝发送: %s", result.Reason)
	}
	return nil
}
