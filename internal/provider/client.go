package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/config"
)

// Client 上游充值供应商（UniPlay）客户端
//
// 所有请求都带时间戳并用 HMAC-SHA512 签名；除换取 token 外的接口
// 还要带短时效 access token。供应商以响应体里的 status 字段表达
// 结果，HTTP 状态码不可信
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	loc        *time.Location
}

func NewClient(cfg *config.ProviderConfig) *Client {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		// 供应商固定在雅加达时区（WIB，UTC+7）
		loc = time.FixedZone("WIB", 7*3600)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		loc:        loc,
	}
}

// Sign 计算请求签名：hex(HMAC-SHA512(key = api_key + "|" + body, message = body))
//
// 【关键点】参与签名的字节必须与实际发送的请求体完全一致。
// 请求体一律由固定字段顺序的结构体经 json.Marshal 生成，
// 字段顺序即序列化顺序，任何重排都会让供应商判签名无效
func (c *Client) Sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(c.apiKey+"|"+string(body)))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// timestamp 供应商要求的时间格式，按其固定时区取当前墙钟
// 每次调用现生成，旧时间戳会被 600 拒收
func (c *Client) timestamp() string {
	return time.Now().In(c.loc).Format("2006-01-02 15:04:05")
}

// envelope 供应商统一响应结构，status 为 "200" 才算成功
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) doPost(ctx context.Context, path, accessToken string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("UPL-SIGNATURE", c.Sign(body))
	if accessToken != "" {
		req.Header.Set("UPL-ACCESS-TOKEN", accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("调用供应商接口失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取供应商响应失败: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("解析供应商响应失败: %w", err)
	}

	// 非 200 直接失败，不重试（签名/时间戳问题重试也没用，
	// 业务拒绝重试反而可能重复发货）
	if env.Status != "200" {
		return errForStatus(env.Status, env.Message)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("解析供应商响应数据失败: %w", err)
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// 请求/响应结构：字段顺序固定，不可调整（参与签名）
// ----------------------------------------------------------------------------

type tokenPayload struct {
	ApiKey    string `json:"api_key"`
	Timestamp string `json:"timestamp"`
}

type tokenData struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type inquiryPayload struct {
	ApiKey      string `json:"api_key"`
	PackageCode string `json:"package_code"`
	UserID      string `json:"user_id"`
	ServerID    string `json:"server_id,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// InquiryResult 询价结果，inquiry_id 是后续 confirm 的唯一凭据
type InquiryResult struct {
	InquiryID string `json:"inquiry_id"`
	Username  string `json:"username"`
	Price     int64  `json:"price"`
}

type confirmPayload struct {
	ApiKey     string `json:"api_key"`
	InquiryID  string `json:"inquiry_id"`
	PartnerRef string `json:"partner_ref"`
	Timestamp  string `json:"timestamp"`
}

// ConfirmResult 确认结果；卡密类商品此时还未发货，凭证走邮件异步到达
type ConfirmResult struct {
	OrderRef string `json:"order_ref"`
}

type balanceData struct {
	Balance int64 `json:"balance"`
}

// ----------------------------------------------------------------------------
// 对外接口
// ----------------------------------------------------------------------------

// GetAccessToken 换取短时效 access token
// 按参考实现不做缓存：每次签名调用重新换取，避免时钟偏差下的过期竞态
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	payload := tokenPayload{
		ApiKey:    c.apiKey,
		Timestamp: c.timestamp(),
	}
	var data tokenData
	if err := c.doPost(ctx, "/oauth/token", "", payload, &data); err != nil {
		return "", err
	}
	if data.AccessToken == "" {
		return "", fmt.Errorf("供应商未返回 access_token")
	}
	return data.AccessToken, nil
}

// Inquiry 询价：纯查询，供应商侧和本地都不产生状态变更
func (c *Client) Inquiry(ctx context.Context, packageCode, userID, serverID string) (*InquiryResult, error) {
	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := inquiryPayload{
		ApiKey:      c.apiKey,
		PackageCode: packageCode,
		UserID:      userID,
		ServerID:    serverID,
		Timestamp:   c.timestamp(),
	}
	var result InquiryResult
	if err := c.doPost(ctx, "/transaction/inquiry", token, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Confirm 确认购买：唯一会触发发货的调用
// partnerRef 传本地订单号，供应商会原样回显在对账单里
func (c *Client) Confirm(ctx context.Context, inquiryID, partnerRef string) (*ConfirmResult, error) {
	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := confirmPayload{
		ApiKey:     c.apiKey,
		InquiryID:  inquiryID,
		PartnerRef: partnerRef,
		Timestamp:  c.timestamp(),
	}
	var result ConfirmResult
	if err := c.doPost(ctx, "/transaction/confirm", token, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Balance 查询分销账户在供应商侧的押金余额
func (c *Client) Balance(ctx context.Context) (int64, error) {
	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return 0, err
	}

	payload := tokenPayload{
		ApiKey:    c.apiKey,
		Timestamp: c.timestamp(),
	}
	var data balanceData
	if err := c.doPost(ctx, "/balance", token, payload, &data); err != nil {
		return 0, err
	}
	return data.Balance, nil
}
