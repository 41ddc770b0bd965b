package handler

import (
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(balance *service.BalanceService, purchase *service.PurchaseService,
	fulfillment *service.FulfillmentService, mail MailSource) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(balance, purchase, fulfillment, mail)

	api := r.Group("/api/v1")
	{
		// 余额相关
		balanceGroup := api.Group("/balance")
		{
			balanceGroup.GET("", h.GetBalance)
			balanceGroup.POST("/topup", h.Topup)
			balanceGroup.POST("/redeem", h.Redeem)
			balanceGroup.GET("/history", h.GetHistory)
		}

		// 购买相关
		purchaseGroup := api.Group("/purchase")
		{
			purchaseGroup.POST("/inquiry", h.Inquiry)
			purchaseGroup.POST("/create", h.CreateOrder)
			purchaseGroup.POST("/confirm", h.Confirm)
		}

		// 订单查询
		trxGroup := api.Group("/transaction")
		{
			trxGroup.GET("/detail", h.GetTransaction)
			trxGroup.GET("/list", h.ListTransactions)
		}
	}

	// Gmail 推送回调，路径不挂 api 前缀
	r.POST("/webhook/gmail", h.GmailWebhook)

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
