package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"matchpay/internal/config"
	"matchpay/internal/gateway"
	"matchpay/internal/infrastructure/lock"
	"matchpay/internal/model"
	"matchpay/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	ErrForbidden         = errors.New("无权操作该交易")
	ErrTransactionClosed = errors.New("交易已终结，请重新下单")
)

// CaptureService 支付捕获协调器
//
// 捕获是整条链路上唯一"动钱"的操作，必须同时满足：
//  1. 同一笔交易重复捕获只扣一次款、只生成一个套餐（幂等）
//  2. 扣款成功后套餐必然激活，不存在"钱扣了、积分没到账"的终局
//  3. 同一用户的两次激活不能把结转积分算两次
//
// 手段：网关调用前先查台账回放；按用户加 Redis 锁把激活串行化；
// 落账 + 激活 + 回执入箱放在同一个数据库事务里
type CaptureService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	gateway         gateway.PaymentGateway
	catalog         *CatalogService
	transactionRepo *repository.TransactionRepository
	userPlanRepo    *repository.UserPlanRepository
	outboxRepo      *repository.OutboxRepository
}

func NewCaptureService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config,
	gw gateway.PaymentGateway, catalog *CatalogService) *CaptureService {
	return &CaptureService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		gateway:         gw,
		catalog:         catalog,
		transactionRepo: repository.NewTransactionRepository(db),
		userPlanRepo:    repository.NewUserPlanRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

type CaptureRequest struct {
	Principal      *model.Principal
	TransactionID  int64
	GatewayOrderID string // 可选，没有交易ID时按网关订单号定位
}

type CaptureResponse struct {
	Transaction     *model.Transaction `json:"transaction"`
	Plan            *model.PlanSummary `json:"plan"`
	AlreadyCaptured bool               `json:"already_captured"`
}

// Capture 捕获一笔交易的付款并激活套餐
func (s *CaptureService) Capture(ctx context.Context, req *CaptureRequest) (*CaptureResponse, error) {
	trans, err := s.locateTransaction(ctx, req)
	if err != nil {
		return nil, err
	}

	// 会员只能捕获自己的交易，管理员放行
	if req.Principal == nil {
		return nil, ErrForbidden
	}
	if req.Principal.IsMember() && trans.OwnerID != req.Principal.MemberID {
		return nil, ErrForbidden
	}

	// 先回放：这笔钱已经兑现过就直接返回，绝不再碰网关。
	// 补激活（COMPLETED 但套餐缺失）要动结转，留到拿锁之后做
	if resp, done, err := s.replayExisting(ctx, trans); done || err != nil {
		return resp, err
	}
	if trans.Status == model.TxStatusFailed || trans.Status == model.TxStatusCancelled {
		return nil, ErrTransactionClosed
	}

	// 按用户加锁，同一用户的激活串行执行
	actLock := lock.NewActivationLock(s.redisClient, trans.OwnerID, trans.TransactionNo)
	if err := actLock.Lock(ctx, 100*time.Millisecond, 50); err != nil {
		return nil, err
	}
	defer func() {
		if err := actLock.Unlock(context.Background()); err != nil {
			log.Printf("[CaptureService] 释放激活锁失败: owner=%d, err=%v", trans.OwnerID, err)
		}
	}()

	// 【关键点】拿到锁后重读交易再查一遍回放。等锁期间另一个请求
	// 可能已经完成了捕获，这里不双检就会重复调网关扣款
	trans, err = s.transactionRepo.GetByID(ctx, trans.ID)
	if err != nil {
		return nil, err
	}
	if resp, done, err := s.replayIfHonored(ctx, trans); done || err != nil {
		return resp, err
	}
	if trans.Status == model.TxStatusFailed || trans.Status == model.TxStatusCancelled {
		return nil, ErrTransactionClosed
	}

	// 套餐配置在动钱之前解析好：配置是解析后不再变的快照，解析失败时
	// 交易原地不动，也不会出现已扣款却配不出套餐的钱
	planConfig, err := s.catalog.Resolve(ctx, trans.PlanCode)
	if err != nil {
		return nil, err
	}

	if trans.Status == model.TxStatusCreated {
		if err := s.transactionRepo.UpdateStatus(ctx, nil, trans.ID,
			model.TxStatusCreated, model.TxStatusPending); err != nil {
			return nil, err
		}
	}

	// 网关捕获。传输层错误时结果未知，交易停在 PENDING，
	// 客户端重试会重新走到这里——回放检查保证不会重复入账
	capture, err := s.gateway.CaptureOrder(ctx, trans.GatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("捕获支付失败: %w", err)
	}
	if capture.Status != gateway.CaptureStatusCompleted {
		if markErr := s.transactionRepo.MarkFailed(ctx, trans.ID,
			"网关捕获状态: "+capture.Status); markErr != nil {
			log.Printf("[CaptureService] 标记交易失败出错: transactionID=%d, err=%v", trans.ID, markErr)
		}
		return nil, gateway.ErrGatewayDeclined
	}

	// 落账 + 激活 + 回执入箱，单事务。任何一步失败整体回滚，
	// 交易留在 PENDING，下次重试自走自愈路径
	var plan *model.UserPlan
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.transactionRepo.MarkCompleted(ctx, tx, trans.ID,
			capture.CaptureID, capture.PayerEmail, capture.PayerID); err != nil {
			return err
		}

		var err error
		plan, err = s.activate(ctx, tx, trans, planConfig)
		if err != nil {
			return err
		}

		if err := s.transactionRepo.SetPlanID(ctx, tx, trans.ID, plan.ID); err != nil {
			return err
		}
		return s.enqueueReceipt(ctx, tx, trans, plan)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[CaptureService] 捕获成功: transactionNo=%s, owner=%s, plan=%s, credits=%d",
		trans.TransactionNo, trans.OwnerVivID, plan.PlanCode, plan.CreditsRemaining)

	trans, err = s.transactionRepo.GetByID(ctx, trans.ID)
	if err != nil {
		return nil, err
	}
	return &CaptureResponse{
		Transaction: trans,
		Plan:        plan.Summarize(true, time.Now()),
	}, nil
}

// locateTransaction 按交易ID或网关订单号定位交易
func (s *CaptureService) locateTransaction(ctx context.Context, req *CaptureRequest) (*model.Transaction, error) {
	if req.TransactionID > 0 {
		return s.transactionRepo.GetByID(ctx, req.TransactionID)
	}
	if req.GatewayOrderID != "" {
		trans, err := s.transactionRepo.GetByGatewayOrderID(ctx, req.GatewayOrderID)
		if err != nil {
			return nil, err
		}
		if trans == nil {
			return nil, repository.ErrTransactionNotFound
		}
		return trans, nil
	}
	return nil, repository.ErrTransactionNotFound
}

// replayExisting 幂等回放检查
//
// 幂等判断以 user_plan.transaction_id 的存在性为准：套餐已存在就直接
// 返回已兑现的结果，顺手修一下可能没落上的交易状态。只读不激活，
// 锁外调用也安全
func (s *CaptureService) replayExisting(ctx context.Context, trans *model.Transaction) (*CaptureResponse, bool, error) {
	existing, err := s.userPlanRepo.GetByTransactionID(ctx, nil, trans.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, nil
	}

	if trans.Status != model.TxStatusCompleted {
		log.Printf("[CaptureService] 套餐已激活但交易状态是 %s，尝试修复: transactionID=%d",
			trans.Status, trans.ID)
		if trans.Status == model.TxStatusPending {
			if err := s.transactionRepo.MarkCompleted(ctx, nil, trans.ID,
				trans.GatewayCaptureID, trans.PayerEmail, trans.PayerID); err != nil {
				log.Printf("[CaptureService] 修复交易状态失败: transactionID=%d, err=%v", trans.ID, err)
			}
		}
	}
	trans, err = s.transactionRepo.GetByID(ctx, trans.ID)
	if err != nil {
		return nil, false, err
	}
	return &CaptureResponse{
		Transaction:     trans,
		Plan:            existing.Summarize(trans.Status == model.TxStatusCompleted, time.Now()),
		AlreadyCaptured: true,
	}, true, nil
}

// replayIfHonored 锁内回放 + 补激活
//
// 交易 COMPLETED 但套餐缺失（落账和激活之间进程崩溃的窗口，正常单事务
// 流程下不会出现）时不碰网关，只补激活。补激活会收结转积分，
// 【关键点】必须持有激活锁才能走到这里，否则并发重试会撞唯一索引
func (s *CaptureService) replayIfHonored(ctx context.Context, trans *model.Transaction) (*CaptureResponse, bool, error) {
	if resp, done, err := s.replayExisting(ctx, trans); done || err != nil {
		return resp, done, err
	}
	if trans.Status != model.TxStatusCompleted {
		return nil, false, nil
	}

	planConfig, err := s.catalog.Resolve(ctx, trans.PlanCode)
	if err != nil {
		return nil, false, err
	}

	var plan *model.UserPlan
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		plan, err = s.activate(ctx, tx, trans, planConfig)
		if err != nil {
			return err
		}
		if err := s.transactionRepo.SetPlanID(ctx, tx, trans.ID, plan.ID); err != nil {
			return err
		}
		return s.enqueueReceipt(ctx, tx, trans, plan)
	})
	if err != nil {
		return nil, false, err
	}

	log.Printf("[CaptureService] 补激活完成: transactionNo=%s, plan=%s", trans.TransactionNo, plan.PlanCode)
	return &CaptureResponse{
		Transaction:     trans,
		Plan:            plan.Summarize(true, time.Now()),
		AlreadyCaptured: true,
	}, true, nil
}

// activate 套餐激活：收集可结转积分 -> 建新套餐 -> 清退旧套餐
// 三步必须在同一个事务（tx）里，同生共死
func (s *CaptureService) activate(ctx context.Context, tx *gorm.DB,
	trans *model.Transaction, planConfig *model.PlanConfig) (*model.UserPlan, error) {
	sources, carried, err := s.userPlanRepo.CollectCarryForward(ctx, tx, trans.OwnerID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	plan := &model.UserPlan{
		OwnerID:                   trans.OwnerID,
		OwnerVivID:                trans.OwnerVivID,
		PlanCode:                  planConfig.PlanCode,
		DisplayName:               planConfig.DisplayName,
		Price:                     trans.Amount,
		Currency:                  trans.Currency,
		CreditsAllocated:          planConfig.CreditCount,
		CreditsCarriedForwardFrom: carried,
		CreditsRemaining:          planConfig.CreditCount + carried,
		ExpiresAt:                 ExpiryOf(planConfig.Validity, now),
		TransactionID:             trans.ID,
	}
	if err := s.userPlanRepo.Create(ctx, tx, plan); err != nil {
		return nil, err
	}

	for _, src := range sources {
		if err := s.userPlanRepo.RetireInto(ctx, tx, src, plan.ID, now); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// enqueueReceipt 购买回执入发件箱，由后台任务异步投递到 Kafka
func (s *CaptureService) enqueueReceipt(ctx context.Context, tx *gorm.DB,
	trans *model.Transaction, plan *model.UserPlan) error {
	payload, err := json.Marshal(map[string]interface{}{
		"owner_viv_id":   trans.OwnerVivID,
		"transaction_no": trans.TransactionNo,
		"plan_code":      plan.PlanCode,
		"plan_name":      plan.DisplayName,
		"credits_total":  plan.CreditsAllocated + plan.CreditsCarriedForwardFrom,
		"amount":         trans.Amount,
		"currency":       trans.Currency,
		"completed_at":   time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: trans.TransactionNo,
		Topic:      s.cfg.Kafka.Topic.PurchaseReceipt,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}
