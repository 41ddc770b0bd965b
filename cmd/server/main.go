package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/config"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/gmail"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/handler"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/infrastructure/cache"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/infrastructure/database"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/infrastructure/mq"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/job"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/notify"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/provider"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/service"
	"github.com/alvent88/TopAsli-Voucher-sub000/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 外部对接客户端
	providerClient := provider.NewClient(&cfg.Provider)
	gmailClient := gmail.NewClient(&cfg.Gmail)
	whatsappClient := notify.NewWhatsAppClient(&cfg.WhatsApp)

	// 业务服务
	balanceService := service.NewBalanceService(db)
	purchaseService := service.NewPurchaseService(db, redisClient, cfg, providerClient)
	fulfillmentService := service.NewFulfillmentService(db, cfg, whatsappClient)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, cfg)
	go outboxSender.Start(ctx)

	reconcileJob := job.NewReconcileJob(db, cfg, whatsappClient, providerClient)
	go reconcileJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(balanceService, purchaseService, fulfillmentService, gmailClient)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
