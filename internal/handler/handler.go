package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/model"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/provider"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/repository"
	"github.com/alvent88/TopAsli-Voucher-sub000/internal/service"
	"github.com/alvent88/TopAsli-Voucher-sub000/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	balanceService     *service.BalanceService
	purchaseService    *service.PurchaseService
	fulfillmentService *service.FulfillmentService
	mail               MailSource
}

// NewHandler 创建处理器实例
func NewHandler(balance *service.BalanceService, purchase *service.PurchaseService,
	fulfillment *service.FulfillmentService, mail MailSource) *Handler {
	return &Handler{
		balanceService:     balance,
		purchaseService:    purchase,
		fulfillmentService: fulfillment,
		mail:               mail,
	}
}

// ============================================================
// 余额相关接口
// ============================================================

// GetBalance 查询用户余额
// GET /api/v1/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userIDStr := c.Query("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	balance, err := h.balanceService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"user_id": userID,
		"balance": balance,
	})
}

// TopupRequest 充值请求
type TopupRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Remark string `json:"remark"`
}

// Topup 余额充值（后台/支付渠道回调简化版）
// POST /api/v1/balance/topup
func (h *Handler) Topup(c *gin.Context) {
	var req TopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	remark := req.Remark
	if remark == "" {
		remark = "余额充值"
	}
	if err := h.balanceService.Apply(c.Request.Context(), req.UserID, req.Amount, model.BalanceTypeTopup, remark, ""); err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"message": "充值成功"})
}

// RedeemRequest 兑换码入账请求
type RedeemRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	VoucherCode string `json:"voucher_code" binding:"required"`
}

// Redeem 兑换码入账
// POST /api/v1/balance/redeem
func (h *Handler) Redeem(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.balanceService.Apply(c.Request.Context(), req.UserID, req.Amount,
		model.BalanceTypeVoucher, "兑换码入账", req.VoucherCode); err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"message": "兑换成功"})
}

// GetHistory 查询余额收支明细
// GET /api/v1/balance/history?user_id=xxx&from=2026-01-01&to=2026-01-31
func (h *Handler) GetHistory(c *gin.Context) {
	userIDStr := c.Query("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	var from, to *time.Time
	if s := c.Query("from"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			response.ParamError(c, "from 日期格式错误，应为 YYYY-MM-DD")
			return
		}
		from = &t
	}
	if s := c.Query("to"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			response.ParamError(c, "to 日期格式错误，应为 YYYY-MM-DD")
			return
		}
		// to 为闭区间，取当天末尾
		end := t.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}

	items, err := h.balanceService.History(c.Request.Context(), userID, from, to)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":  items,
		"total": len(items),
	})
}

// ============================================================
// 购买相关接口
// ============================================================

// Inquiry 询价
// POST /api/v1/purchase/inquiry
func (h *Handler) Inquiry(c *gin.Context) {
	var req service.InquiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.purchaseService.Inquire(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, provider.ErrRejected) {
			response.BusinessError(c, response.CodeProviderRejected, err.Error())
			return
		}
		response.BusinessError(c, response.CodeProviderTimeout, "供应商暂时不可用: "+err.Error())
		return
	}

	response.Success(c, result)
}

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	RequestID    string `json:"request_id" binding:"required"` // 幂等ID
	UserID       int64  `json:"user_id" binding:"required"`
	ProductID    string `json:"product_id" binding:"required"`
	PackageCode  string `json:"package_code" binding:"required"`
	Category     string `json:"category" binding:"required,oneof=DIRECT VOUCHER"`
	Price        int64  `json:"price" binding:"required,gt=0"`
	Fee          int64  `json:"fee" binding:"gte=0"`
	GameUserID   string `json:"game_user_id" binding:"required"`
	GameServerID string `json:"game_server_id"`
	GameUsername string `json:"game_username"`
	Phone        string `json:"phone" binding:"required"`
}

// CreateOrder 创建订单
// POST /api/v1/purchase/create
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	serviceReq := &service.CreateOrderRequest{
		RequestID:    req.RequestID,
		UserID:       req.UserID,
		ProductID:    req.ProductID,
		PackageCode:  req.PackageCode,
		Category:     req.Category,
		Price:        req.Price,
		Fee:          req.Fee,
		GameUserID:   req.GameUserID,
		GameServerID: req.GameServerID,
		GameUsername: req.GameUsername,
		Phone:        req.Phone,
	}

	trx, err := h.purchaseService.CreateOrder(c.Request.Context(), serviceReq)
	if err != nil {
		if errors.Is(err, service.ErrUserBanned) {
			response.BusinessError(c, response.CodeUserBanned, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"order_no": trx.OrderNo,
		"status":   trx.Status,
		"total":    trx.Total,
	})
}

// ConfirmRequest 确认购买请求
type ConfirmRequest struct {
	OrderNo   string `json:"order_no" binding:"required"`
	InquiryID string `json:"inquiry_id" binding:"required"`
}

// Confirm 确认购买
// POST /api/v1/purchase/confirm
//
// 【关键点】confirm 既有外部副作用又有本地落账，
// 错误需要区分给到客户端：余额不足和供应商拒绝都是业务失败，
// 网络超时则告知结果未知，客户端不应自行重试
func (h *Handler) Confirm(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trx, err := h.purchaseService.ConfirmPurchase(c.Request.Context(), req.OrderNo, req.InquiryID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrTrxNotFound):
			response.BusinessError(c, response.CodeTrxNotFound, "订单不存在")
		case errors.Is(err, repository.ErrBalanceNotEnough):
			response.BusinessError(c, response.CodeBalanceNotEnough, "余额不足")
		case errors.Is(err, provider.ErrRejected):
			response.BusinessError(c, response.CodeProviderRejected, err.Error())
		default:
			response.BusinessError(c, response.CodeProviderTimeout, "处理结果未知，请勿重复提交，稍后查询订单状态")
		}
		return
	}

	response.Success(c, gin.H{
		"order_no":     trx.OrderNo,
		"status":       trx.Status,
		"provider_ref": trx.ProviderRef,
	})
}

// GetTransaction 查询订单详情
// GET /api/v1/transaction/detail?order_no=xxx
func (h *Handler) GetTransaction(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.ParamError(c, "order_no 参数不能为空")
		return
	}

	trx, err := h.purchaseService.GetTransaction(c.Request.Context(), orderNo)
	if err != nil {
		if errors.Is(err, repository.ErrTrxNotFound) {
			response.BusinessError(c, response.CodeTrxNotFound, "订单不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, trx)
}

// ListTransactions 查询用户订单列表
// GET /api/v1/transaction/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userIDStr := c.Query("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	list, total, err := h.purchaseService.ListUserTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
