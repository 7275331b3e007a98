package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"matchpay/internal/config"
	"matchpay/internal/gateway"
	"matchpay/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 内存 SQLite，每个用例一个独立库
// 单连接把并发用例串行化，让条件更新的行为可复现
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.Member{},
		&model.CatalogPlan{},
		&model.UserPlan{},
		&model.Transaction{},
		&model.ProfileUnlock{},
		&model.OutboxMessage{},
	))
	return db
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, AdminKey: "test-admin-key"},
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{PurchaseReceipt: "test.purchase.receipt"},
		},
		PayPal: config.PayPalConfig{
			ReturnURL: "https://example.com/return",
			CancelURL: "https://example.com/cancel",
		},
		Business: config.BusinessConfig{
			TransactionTimeoutMinutes: 30,
			MaxRetryCount:             3,
		},
	}
}

// fakeGateway 假网关，记录每笔订单被捕获的次数
type fakeGateway struct {
	mu            sync.Mutex
	createCalls   int
	createErr     error
	captureCalls  map[string]int
	captureStatus string
	captureErr    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		captureCalls:  make(map[string]int),
		captureStatus: gateway.CaptureStatusCompleted,
	}
}

func (g *fakeGateway) CreateOrder(ctx context.Context, in *gateway.CreateOrderInput) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	orderID := fmt.Sprintf("GW-ORDER-%d", g.createCalls)
	return &gateway.Order{
		OrderID:     orderID,
		Status:      "CREATED",
		ApprovalURL: "https://sandbox.example.com/approve/" + orderID,
	}, nil
}

func (g *fakeGateway) CaptureOrder(ctx context.Context, orderID string) (*gateway.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureCalls[orderID]++
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	return &gateway.CaptureResult{
		Status:     g.captureStatus,
		CaptureID:  "CAP-" + orderID,
		PayerEmail: "payer@example.com",
		PayerID:    "PAYER123",
	}, nil
}

func (g *fakeGateway) captureCount(orderID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captureCalls[orderID]
}

func (g *fakeGateway) totalCaptureCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.captureCalls {
		total += n
	}
	return total
}

func (g *fakeGateway) setCaptureErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureErr = err
}

func (g *fakeGateway) setCaptureStatus(status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureStatus = status
}

// testEnv 一套完整的服务依赖
type testEnv struct {
	db       *gorm.DB
	rdb      *redis.Client
	cfg      *config.Config
	gw       *fakeGateway
	catalog  *CatalogService
	orders   *OrderService
	captures *CaptureService
	unlocks  *UnlockService
	plans    *PlanService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	gw := newFakeGateway()
	catalog := NewCatalogService(db)

	return &testEnv{
		db:       db,
		rdb:      rdb,
		cfg:      cfg,
		gw:       gw,
		catalog:  catalog,
		orders:   NewOrderService(db, cfg, gw, catalog),
		captures: NewCaptureService(db, rdb, cfg, gw, catalog),
		unlocks:  NewUnlockService(db),
		plans:    NewPlanService(db),
	}
}

func seedMember(t *testing.T, db *gorm.DB, vivID string, verified, profileCompleted bool) *model.Member {
	t.Helper()
	member := &model.Member{
		VivID:            vivID,
		Name:             "Member " + vivID,
		Email:            vivID + "@example.com",
		Verified:         verified,
		ProfileCompleted: profileCompleted,
	}
	require.NoError(t, db.Create(member).Error)
	return member
}

func principalOf(m *model.Member) *model.Principal {
	return &model.Principal{
		Kind:             model.PrincipalKindMember,
		MemberID:         m.ID,
		VivID:            m.VivID,
		Verified:         m.Verified,
		ProfileCompleted: m.ProfileCompleted,
	}
}

// purchase 走完整的下单 + 捕获流程
func purchase(t *testing.T, env *testEnv, m *model.Member, planKey string) *CaptureResponse {
	t.Helper()
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		Principal: principalOf(m),
		PlanKey:   planKey,
	})
	require.NoError(t, err)

	resp, err := env.captures.Capture(ctx, &CaptureRequest{
		Principal:     principalOf(m),
		TransactionID: order.TransactionID,
	})
	require.NoError(t, err)
	return resp
}
