package handler

import (
	"log"
	"strconv"
	"time"

	"matchpay/internal/config"
	"matchpay/internal/model"
	"matchpay/internal/repository"
	"matchpay/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const principalKey = "principal"

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %v", err)
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Member-Id, X-Admin-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// MemberAuthMiddleware 会员身份中间件
// 网关层已完成认证，这里按 X-Member-Id 头取会员并组装请求主体。
// 主体在系统边界解析一次，后续各层显式传参
func MemberAuthMiddleware(db *gorm.DB) gin.HandlerFunc {
	memberRepo := repository.NewMemberRepository(db)

	return func(c *gin.Context) {
		memberIDStr := c.GetHeader("X-Member-Id")
		memberID, err := strconv.ParseInt(memberIDStr, 10, 64)
		if err != nil || memberID <= 0 {
			response.Unauthorized(c, "缺少有效的会员身份")
			c.Abort()
			return
		}

		member, err := memberRepo.GetByID(c.Request.Context(), memberID)
		if err != nil {
			response.Unauthorized(c, "会员身份无效")
			c.Abort()
			return
		}

		c.Set(principalKey, &model.Principal{
			Kind:             model.PrincipalKindMember,
			MemberID:         member.ID,
			VivID:            member.VivID,
			Verified:         member.Verified,
			ProfileCompleted: member.ProfileCompleted,
		})
		c.Next()
	}
}

// AdminAuthMiddleware 管理端身份中间件，校验 X-Admin-Key 请求头
func AdminAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Admin-Key")
		if cfg.Server.AdminKey == "" || key != cfg.Server.AdminKey {
			response.Forbidden(c, "无管理权限")
			c.Abort()
			return
		}

		c.Set(principalKey, &model.Principal{Kind: model.PrincipalKindAdmin})
		c.Next()
	}
}

// currentPrincipal 取出中间件解析好的请求主体
func currentPrincipal(c *gin.Context) *model.Principal {
	v, exists := c.Get(principalKey)
	if !exists {
		return nil
	}
	p, ok := v.(*model.Principal)
	if !ok {
		return nil
	}
	return p
}
