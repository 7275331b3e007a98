package handler

import (
	"errors"
	"strconv"

	"matchpay/internal/config"
	"matchpay/internal/gateway"
	"matchpay/internal/model"
	"matchpay/internal/repository"
	"matchpay/internal/service"
	"matchpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	catalogService *service.CatalogService
	orderService   *service.OrderService
	captureService *service.CaptureService
	unlockService  *service.UnlockService
	planService    *service.PlanService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gw gateway.PaymentGateway) *Handler {
	catalogService := service.NewCatalogService(db)
	return &Handler{
		catalogService: catalogService,
		orderService:   service.NewOrderService(db, cfg, gw, catalogService),
		captureService: service.NewCaptureService(db, rdb, cfg, gw, catalogService),
		unlockService:  service.NewUnlockService(db),
		planService:    service.NewPlanService(db),
	}
}

// writeServiceError 业务错误统一映射成带业务码的响应
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPlanNotFound):
		response.BusinessError(c, response.CodePlanNotFound, err.Error())
	case errors.Is(err, repository.ErrTransactionNotFound):
		response.BusinessError(c, response.CodeTransactionNotFound, err.Error())
	case errors.Is(err, service.ErrTransactionClosed), errors.Is(err, repository.ErrStatusConflict):
		response.BusinessError(c, response.CodeStatusConflict, err.Error())
	case errors.Is(err, gateway.ErrGatewayDeclined):
		response.BusinessError(c, response.CodeGatewayError, err.Error())
	case errors.Is(err, service.ErrNoActivePlan):
		response.BusinessError(c, response.CodeNoActivePlan, err.Error())
	case errors.Is(err, service.ErrPlanExpired):
		response.BusinessError(c, response.CodePlanExpired, err.Error())
	case errors.Is(err, repository.ErrInsufficientCredits):
		response.BusinessError(c, response.CodeInsufficientCredits, err.Error())
	case errors.Is(err, service.ErrNotVerified),
		errors.Is(err, service.ErrProfileIncomplete),
		errors.Is(err, service.ErrSelfUnlock),
		errors.Is(err, service.ErrTargetUnavailable):
		response.BusinessError(c, response.CodeProfileNotEligible, err.Error())
	case errors.Is(err, repository.ErrMemberNotFound):
		response.BusinessError(c, response.CodeMemberNotFound, err.Error())
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrMemberOnly):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrAmountMismatch):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 套餐购买接口
// ============================================================

// CreateOrderRequest 下单请求
type CreateOrderRequest struct {
	PlanKey  string `json:"plan_key" binding:"required"` // 套餐代码或名称
	Amount   int64  `json:"amount"`                      // 可选，仅做一致性校验
	Currency string `json:"currency"`
}

// CreateOrder 发起套餐购买
// POST /api/v1/plans/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.orderService.CreateOrder(c.Request.Context(), &service.CreateOrderRequest{
		Principal: currentPrincipal(c),
		PlanKey:   req.PlanKey,
		Amount:    req.Amount,
		Currency:  req.Currency,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// CaptureOrderRequest 捕获请求，交易ID和网关订单号至少带一个
type CaptureOrderRequest struct {
	TransactionID  int64  `json:"transaction_id"`
	GatewayOrderID string `json:"gateway_order_id"`
}

// CaptureOrder 捕获付款并激活套餐
// POST /api/v1/plans/orders/capture
//
// 【关键点】重复提交同一笔交易是安全的：已兑现的交易原样回放，
// 不会再向网关发起第二次扣款
func (h *Handler) CaptureOrder(c *gin.Context) {
	var req CaptureOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.TransactionID <= 0 && req.GatewayOrderID == "" {
		response.ParamError(c, "transaction_id 和 gateway_order_id 至少传一个")
		return
	}

	result, err := h.captureService.Capture(c.Request.Context(), &service.CaptureRequest{
		Principal:      currentPrincipal(c),
		TransactionID:  req.TransactionID,
		GatewayOrderID: req.GatewayOrderID,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// GetPlanSummary 当前套餐摘要
// GET /api/v1/plans/summary
func (h *Handler) GetPlanSummary(c *gin.Context) {
	p := currentPrincipal(c)
	if p == nil || !p.IsMember() {
		response.Forbidden(c, "仅会员可查询")
		return
	}

	summary, err := h.planService.GetPlanSummary(c.Request.Context(), p.MemberID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"has_plan": summary != nil,
		"plan":     summary,
	})
}

// ListTransactions 交易历史
// GET /api/v1/plans/transactions?page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	p := currentPrincipal(c)
	if p == nil || !p.IsMember() {
		response.Forbidden(c, "仅会员可查询")
		return
	}

	page, pageSize := pagination(c)
	result, err := h.planService.ListTransactions(c.Request.Context(), p.MemberID, page, pageSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// ListPlans 历史套餐
// GET /api/v1/plans/history?page=1&page_size=10
func (h *Handler) ListPlans(c *gin.Context) {
	p := currentPrincipal(c)
	if p == nil || !p.IsMember() {
		response.Forbidden(c, "仅会员可查询")
		return
	}

	page, pageSize := pagination(c)
	result, err := h.planService.ListPlans(c.Request.Context(), p.MemberID, page, pageSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// GetPaymentSummary 支付汇总
// GET /api/v1/plans/payments/summary
func (h *Handler) GetPaymentSummary(c *gin.Context) {
	p := currentPrincipal(c)
	if p == nil || !p.IsMember() {
		response.Forbidden(c, "仅会员可查询")
		return
	}

	summary, err := h.planService.GetPaymentSummary(c.Request.Context(), p.MemberID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, summary)
}

// ListCatalog 套餐目录（公开接口）
// GET /api/v1/plans/catalog
func (h *Handler) ListCatalog(c *gin.Context) {
	plans, err := h.catalogService.ListCatalog(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, gin.H{"plans": plans})
}

// ============================================================
// 资料解锁接口
// ============================================================

// UnlockProfileRequest 解锁请求
type UnlockProfileRequest struct {
	TargetID int64 `json:"target_id" binding:"required"`
}

// UnlockProfile 解锁一份资料（扣一个积分）
// POST /api/v1/profiles/unlock
func (h *Handler) UnlockProfile(c *gin.Context) {
	var req UnlockProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.unlockService.Unlock(c.Request.Context(), &service.UnlockRequest{
		Principal: currentPrincipal(c),
		TargetID:  req.TargetID,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// ListUnlocks 解锁历史
// GET /api/v1/profiles/unlocks?page=1&page_size=10
func (h *Handler) ListUnlocks(c *gin.Context) {
	p := currentPrincipal(c)
	if p == nil || !p.IsMember() {
		response.Forbidden(c, "仅会员可查询")
		return
	}

	page, pageSize := pagination(c)
	history, err := h.unlockService.History(c.Request.Context(), p.MemberID, page, pageSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, history)
}

// CheckUnlocked 查某份资料是否已解锁
// GET /api/v1/profiles/unlocks/:targetId
func (h *Handler) CheckUnlocked(c *gin.Context) {
	p := currentPrincipal(c)
	if p == nil || !p.IsMember() {
		response.Forbidden(c, "仅会员可查询")
		return
	}

	targetID, err := strconv.ParseInt(c.Param("targetId"), 10, 64)
	if err != nil || targetID <= 0 {
		response.ParamError(c, "targetId 参数错误")
		return
	}

	unlock, err := h.unlockService.IsUnlocked(c.Request.Context(), p.MemberID, targetID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"unlocked": unlock != nil,
		"unlock":   unlock,
	})
}

// ============================================================
// 管理端接口
// ============================================================

// AdminPlanRequest 管理端套餐参数
type AdminPlanRequest struct {
	PlanCode     string   `json:"plan_code" binding:"required"`
	PlanName     string   `json:"plan_name" binding:"required"`
	DisplayName  string   `json:"display_name"`
	Tagline      string   `json:"tagline"`
	Price        int64    `json:"price" binding:"gte=0"`
	Currency     string   `json:"currency"`
	CreditCount  int      `json:"credit_count" binding:"gte=0"`
	ValidityUnit string   `json:"validity_unit"`
	ValidityDays int      `json:"validity_days"`
	Features     []string `json:"features"`
	Popular      bool     `json:"popular"`
	BestValue    bool     `json:"best_value"`
	SortOrder    int      `json:"sort_order"`
}

// CreateCatalogPlan 管理端新增套餐
// POST /api/v1/admin/plans
func (h *Handler) CreateCatalogPlan(c *gin.Context) {
	var req AdminPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	validityUnit := req.ValidityUnit
	if validityUnit == "" {
		validityUnit = model.ValidityDays
	}

	plan := &model.CatalogPlan{
		PlanCode:     req.PlanCode,
		PlanName:     req.PlanName,
		DisplayName:  req.DisplayName,
		Tagline:      req.Tagline,
		Price:        req.Price,
		Currency:     currency,
		CreditCount:  req.CreditCount,
		ValidityUnit: validityUnit,
		ValidityDays: req.ValidityDays,
		Features:     req.Features,
		Popular:      req.Popular,
		BestValue:    req.BestValue,
		IsActive:     true,
		SortOrder:    req.SortOrder,
	}
	if err := h.catalogService.CreatePlan(c.Request.Context(), plan); err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, plan)
}

// UpdateCatalogPlanRequest 管理端更新套餐请求，指针字段区分"没传"和"置零"
type UpdateCatalogPlanRequest struct {
	PlanName     *string   `json:"plan_name"`
	DisplayName  *string   `json:"display_name"`
	Tagline      *string   `json:"tagline"`
	Price        *int64    `json:"price"`
	CreditCount  *int      `json:"credit_count"`
	ValidityUnit *string   `json:"validity_unit"`
	ValidityDays *int      `json:"validity_days"`
	Features     *[]string `json:"features"`
	Popular      *bool     `json:"popular"`
	BestValue    *bool     `json:"best_value"`
	IsActive     *bool     `json:"is_active"`
	SortOrder    *int      `json:"sort_order"`
}

// UpdateCatalogPlan 管理端更新套餐
// PUT /api/v1/admin/plans/:planCode
func (h *Handler) UpdateCatalogPlan(c *gin.Context) {
	planCode := c.Param("planCode")
	if planCode == "" {
		response.ParamError(c, "planCode 参数不能为空")
		return
	}

	var req UpdateCatalogPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	updates := map[string]interface{}{}
	if req.PlanName != nil {
		updates["plan_name"] = *req.PlanName
	}
	if req.DisplayName != nil {
		updates["display_name"] = *req.DisplayName
	}
	if req.Tagline != nil {
		updates["tagline"] = *req.Tagline
	}
	if req.Price != nil {
		updates["price"] = *req.Price
	}
	if req.CreditCount != nil {
		updates["credit_count"] = *req.CreditCount
	}
	if req.ValidityUnit != nil {
		updates["validity_unit"] = *req.ValidityUnit
	}
	if req.ValidityDays != nil {
		updates["validity_days"] = *req.ValidityDays
	}
	if req.Popular != nil {
		updates["popular"] = *req.Popular
	}
	if req.BestValue != nil {
		updates["best_value"] = *req.BestValue
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.SortOrder != nil {
		updates["sort_order"] = *req.SortOrder
	}
	if len(updates) == 0 && req.Features == nil {
		response.ParamError(c, "没有需要更新的字段")
		return
	}
	if req.Features != nil {
		updates["features"] = *req.Features
	}

	if err := h.catalogService.UpdatePlan(c.Request.Context(), planCode, updates); err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "套餐已更新"})
}

// pagination 解析分页参数
func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}
