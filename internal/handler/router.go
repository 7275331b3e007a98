package handler

import (
	"matchpay/internal/config"
	"matchpay/internal/gateway"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gw gateway.PaymentGateway) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg, gw)

	memberAuth := MemberAuthMiddleware(db)
	adminAuth := AdminAuthMiddleware(cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 套餐购买与查询
		plans := api.Group("/plans")
		{
			plans.GET("/catalog", h.ListCatalog)

			plans.POST("/orders", memberAuth, h.CreateOrder)
			plans.POST("/orders/capture", memberAuth, h.CaptureOrder)
			plans.GET("/summary", memberAuth, h.GetPlanSummary)
			plans.GET("/history", memberAuth, h.ListPlans)
			plans.GET("/transactions", memberAuth, h.ListTransactions)
			plans.GET("/payments/summary", memberAuth, h.GetPaymentSummary)
		}

		// 资料解锁
		profiles := api.Group("/profiles", memberAuth)
		{
			profiles.POST("/unlock", h.UnlockProfile)
			profiles.GET("/unlocks", h.ListUnlocks)
			profiles.GET("/unlocks/:targetId", h.CheckUnlocked)
		}

		// 管理端
		admin := api.Group("/admin", adminAuth)
		{
			admin.POST("/plans", h.CreateCatalogPlan)
			admin.PUT("/plans/:planCode", h.UpdateCatalogPlan)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
