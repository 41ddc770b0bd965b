package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/config"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB 每个测试独立的内存库，避免用例间互相污染
func setupTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Kafka.Topic.TopupResult = "topup_result"
	cfg.Kafka.Topic.FulfillmentResult = "fulfillment_result"
	cfg.Gmail.VendorSender = "noreply@uniplay.id"
	cfg.WhatsApp.AdminPhone = "628000000001"
	cfg.Business.MatchWindowMinutes = 5
	cfg.Business.ReconcileAfterMinutes = 30
	cfg.Business.MaxRetryCount = 3
	return cfg
}

// fakeNotifier 记录所有发出的消息
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []sentMessage
	fail  bool
	calls int
}

type sentMessage struct {
	Target  string
	Message string
}

func (f *fakeNotifier) Send(ctx context.Context, target, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return fmt.Errorf("网关不可用")
	}
	f.sent = append(f.sent, sentMessage{Target: target, Message: message})
	return nil
}

func (f *fakeNotifier) sentTo(target string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.Target == target {
			out = append(out, m)
		}
	}
	return out
}
