package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/config"
)

// Message 归一化后的邮件内容，匹配流程只关心这四个字段
type Message struct {
	ID      string
	From    string
	Subject string
	Body    string
}

// Client 凭证邮件抓取客户端
//
// Pub/Sub 推送只携带 historyId，邮件正文要拿着 OAuth2 refresh token
// 换 access token 后自行回查。凭证存放在配置里，不落库
type Client struct {
	tokenURL     string
	apiBaseURL   string
	clientID     string
	clientSecret string
	refreshToken string
	httpClient   *http.Client
}

func NewClient(cfg *config.GmailConfig) *Client {
	return &Client{
		tokenURL:     cfg.TokenURL,
		apiBaseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		refreshToken: cfg.RefreshToken,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

// DecodeBase64URL 解码 URL-safe base64，兼容有无填充两种写法
// Gmail 的正文和 Pub/Sub 的内层数据都是这种编码
func DecodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// accessToken 用 refresh token 换短时效 access token
func (c *Client) accessToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", c.refreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("构造 token 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("换取邮箱 access token 失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取 token 响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("换取邮箱 access token 失败: http %d: %s", resp.StatusCode, string(body))
	}

	var data struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("解析 token 响应失败: %w", err)
	}
	if data.AccessToken == "" {
		return "", fmt.Errorf("邮箱 token 响应缺少 access_token")
	}
	return data.AccessToken, nil
}

func (c *Client) getJSON(ctx context.Context, token, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("调用邮箱接口失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取邮箱响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("邮箱接口返回 http %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析邮箱响应失败: %w", err)
	}
	return nil
}

type historyResponse struct {
	History []struct {
		MessagesAdded []struct {
			Message struct {
				ID string `json:"id"`
			} `json:"message"`
		} `json:"messagesAdded"`
	} `json:"history"`
}

type messagePart struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []messagePart `json:"parts"`
}

type messageResponse struct {
	ID      string      `json:"id"`
	Payload messagePart `json:"payload"`
}

// MessagesSince 拉取 historyId 之后新到的邮件，逐封取全文
func (c *Client) MessagesSince(ctx context.Context, historyID string) ([]*Message, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var hist historyResponse
	path := fmt.Sprintf("/users/me/history?startHistoryId=%s&historyTypes=messageAdded",
		url.QueryEscape(historyID))
	if err := c.getJSON(ctx, token, path, &hist); err != nil {
		return nil, err
	}

	var messages []*Message
	seen := make(map[string]bool)
	for _, h := range hist.History {
		for _, added := range h.MessagesAdded {
			id := added.Message.ID
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true

			msg, err := c.getMessage(ctx, token, id)
			if err != nil {
				// 单封失败不中断整批，漏掉的会随下一次推送重查
				continue
			}
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

func (c *Client) getMessage(ctx context.Context, token, id string) (*Message, error) {
	var raw messageResponse
	if err := c.getJSON(ctx, token, "/users/me/messages/"+id+"?format=full", &raw); err != nil {
		return nil, err
	}

	msg := &Message{ID: raw.ID}
	for _, h := range raw.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			msg.From = h.Value
		case "subject":
			msg.Subject = h.Value
		}
	}

	// 正文优先取 text/plain，没有再退回 text/html
	body := findPartBody(&raw.Payload, "text/plain")
	if body == "" {
		body = findPartBody(&raw.Payload, "text/html")
	}
	msg.Body = body
	return msg, nil
}

// findPartBody 深度优先找指定 MIME 类型的正文并解码
func findPartBody(part *messagePart, mimeType string) string {
	if strings.HasPrefix(part.MimeType, mimeType) && part.Body.Data != "" {
		decoded, err := DecodeBase64URL(part.Body.Data)
		if err == nil {
			return string(decoded)
		}
	}
	for i := range part.Parts {
		if body := findPartBody(&part.Parts[i], mimeType); body != "" {
			return body
		}
	}
	return ""
}
