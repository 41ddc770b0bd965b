package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/config"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/gmail"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/model"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/provider"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeMailSource struct {
	messages []*gmail.Message
	err      error
	calls    int
	lastHist string
}

func (f *fakeMailSource) MessagesSince(ctx context.Context, historyID string) ([]*gmail.Message, error) {
	f.calls++
	f.lastHist = historyID
	return f.messages, f.err
}

type nopNotifier struct{}

func (nopNotifier) Send(ctx context.Context, target, message string) error { return nil }

type nopProvider struct{}

func (nopProvider) Inquiry(ctx context.Context, packageCode, userID, serverID string) (*provider.InquiryResult, error) {
	return &provider.InquiryResult{InquiryID: "INQ-1", Username: "PlayerOne", Price: 25000}, nil
}

func (nopProvider) Confirm(ctx context.Context, inquiryID, partnerRef string) (*provider.ConfirmResult, error) {
	return &provider.ConfirmResult{OrderRef: "UPL-REF-1"}, nil
}

func setupRouter(t *testing.T, mail MailSource) (*gin.Engine, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Account{},
		&model.Transaction{},
		&model.BalanceHistory{},
		&model.ProcessedEmail{},
		&model.OutboxMessage{},
		&model.BannedUser{},
	))

	cfg := &config.Config{}
	cfg.Kafka.Topic.TopupResult = "topup_result"
	cfg.Kafka.Topic.FulfillmentResult = "fulfillment_result"
	cfg.Gmail.VendorSender = "noreply@uniplay.id"
	cfg.WhatsApp.AdminPhone = "628000000001"
	cfg.Business.MatchWindowMinutes = 5
	cfg.Business.ReconcileAfterMinutes = 30
	cfg.Business.MaxRetryCount = 3

	balance := service.NewBalanceService(db)
	purchase := service.NewPurchaseService(db, nil, cfg, nopProvider{})
	fulfillment := service.NewFulfillmentService(db, cfg, nopNotifier{})

	return SetupRouter(balance, purchase, fulfillment, mail), db
}

func httpDo(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func pushBody(historyID uint64) map[string]interface{} {
	notif, _ := json.Marshal(map[string]interface{}{
		"emailAddress": "orders@topasli.com",
		"historyId":    historyID,
	})
	return map[string]interface{}{
		"message": map[string]interface{}{
			"data":      base64.URLEncoding.EncodeToString(notif),
			"messageId": "push-1",
		},
		"subscription": "projects/topasli/subscriptions/gmail-push",
	}
}

func TestGmailWebhookProcessesMessages(t *testing.T) {
	mail := &fakeMailSource{messages: []*gmail.Message{
		{
			ID:      "msg-1",
			From:    "UniPlay <noreply@uniplay.id>",
			Subject: "Voucher Pembelian Anda",
			Body:    "Code: GP5X8YQ2M1N4",
		},
	}}
	r, db := setupRouter(t, mail)

	// 待完结的卡密订单
	trx := &model.Transaction{
		OrderNo:     "TOP20260830000000000001",
		RequestID:   "req-1",
		UserID:      100,
		ProductID:   "google-play",
		PackageCode: "gp-100k",
		Category:    model.CategoryVoucher,
		Price:       100000,
		Total:       100000,
		Phone:       "628123456789",
		Status:      model.TrxStatusPending,
	}
	require.NoError(t, db.Create(trx).Error)

	w := httpDo(r, "POST", "/webhook/gmail", pushBody(424242))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, mail.calls)
	require.Equal(t, "424242", mail.lastHist)

	var got model.Transaction
	require.NoError(t, db.Where("order_no = ?", trx.OrderNo).First(&got).Error)
	require.Equal(t, model.TrxStatusSuccess, got.Status)
}

func TestGmailWebhookAlwaysAcks(t *testing.T) {
	mail := &fakeMailSource{}
	r, _ := setupRouter(t, mail)

	// 非法 JSON
	req := httptest.NewRequest("POST", "/webhook/gmail", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// data 不是 base64
	w = httpDo(r, "POST", "/webhook/gmail", map[string]interface{}{
		"message": map[string]interface{}{"data": "!!!", "messageId": "push-2"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	// 缺 historyId
	notif, _ := json.Marshal(map[string]interface{}{"emailAddress": "orders@topasli.com"})
	w = httpDo(r, "POST", "/webhook/gmail", map[string]interface{}{
		"message": map[string]interface{}{
			"data":      base64.URLEncoding.EncodeToString(notif),
			"messageId": "push-3",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Zero(t, mail.calls)
}

func TestGmailWebhookAcksFetchFailure(t *testing.T) {
	mail := &fakeMailSource{err: fmt.Errorf("token 过期")}
	r, _ := setupRouter(t, mail)

	// 拉信失败也必须回 200，等下一条推送
	w := httpDo(r, "POST", "/webhook/gmail", pushBody(100))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBalanceEndpoints(t *testing.T) {
	r, _ := setupRouter(t, &fakeMailSource{})

	w := httpDo(r, "POST", "/api/v1/balance/topup", map[string]interface{}{
		"user_id": 100,
		"amount":  50000,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = httpDo(r, "POST", "/api/v1/balance/redeem", map[string]interface{}{
		"user_id":      100,
		"amount":       25000,
		"voucher_code": "GOPAY-ABC123",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = httpDo(r, "GET", "/api/v1/balance?user_id=100", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Code int `json:"code"`
		Data struct {
			Balance int64 `json:"balance"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Code)
	require.Equal(t, int64(75000), resp.Data.Balance)

	// 参数错误
	w = httpDo(r, "GET", "/api/v1/balance?user_id=abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEqual(t, 0, resp.Code)
}

func TestPurchaseFlowEndpoints(t *testing.T) {
	r, _ := setupRouter(t, &fakeMailSource{})

	// 充值
	w := httpDo(r, "POST", "/api/v1/balance/topup", map[string]interface{}{
		"user_id": 100, "amount": 50000,
	})
	require.Equal(t, http.StatusOK, w.Code)

	// 下单
	w = httpDo(r, "POST", "/api/v1/purchase/create", map[string]interface{}{
		"request_id":   "req-http-1",
		"user_id":      100,
		"product_id":   "mobile-legends",
		"package_code": "ml-86dm",
		"category":     "DIRECT",
		"price":        25000,
		"fee":          1000,
		"game_user_id": "123456789",
		"phone":        "628123456789",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var createResp struct {
		Code int `json:"code"`
		Data struct {
			OrderNo string `json:"order_no"`
			Status  string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &createResp))
	require.Equal(t, 0, createResp.Code)
	require.Equal(t, model.TrxStatusPending, createResp.Data.Status)

	// 确认
	w = httpDo(r, "POST", "/api/v1/purchase/confirm", map[string]interface{}{
		"order_no":   createResp.Data.OrderNo,
		"inquiry_id": "INQ-1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var confirmResp struct {
		Code int `json:"code"`
		Data struct {
			Status      string `json:"status"`
			ProviderRef string `json:"provider_ref"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &confirmResp))
	require.Equal(t, 0, confirmResp.Code)
	require.Equal(t, model.TrxStatusSuccess, confirmResp.Data.Status)
	require.Equal(t, "UPL-REF-1", confirmResp.Data.ProviderRef)

	// 详情
	w = httpDo(r, "GET", "/api/v1/transaction/detail?order_no="+createResp.Data.OrderNo, nil)
	require.Equal(t, http.StatusOK, w.Code)
}
