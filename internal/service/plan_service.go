package service

import (
	"context"
	"time"

	"matchpay/internal/model"
	"matchpay/internal/repository"

	"gorm.io/gorm"
)

// PlanService 套餐查询服务
// 只读：当前套餐摘要、交易历史、支付汇总
type PlanService struct {
	userPlanRepo    *repository.UserPlanRepository
	transactionRepo *repository.TransactionRepository
}

func NewPlanService(db *gorm.DB) *PlanService {
	return &PlanService{
		userPlanRepo:    repository.NewUserPlanRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// GetPlanSummary 用户当前套餐摘要，没有任何已出资套餐时返回 (nil, nil)
func (s *PlanService) GetPlanSummary(ctx context.Context, ownerID int64) (*model.PlanSummary, error) {
	plan, err := s.userPlanRepo.GetLatestFunded(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, nil
	}
	return plan.Summarize(true, time.Now()), nil
}

type TransactionPage struct {
	Transactions []*model.Transaction `json:"transactions"`
	Total        int64                `json:"total"`
	Page         int                  `json:"page"`
	PageSize     int                  `json:"page_size"`
}

// ListTransactions 交易历史（分页，按创建时间倒序）
func (s *PlanService) ListTransactions(ctx context.Context, ownerID int64, page, pageSize int) (*TransactionPage, error) {
	transactions, total, err := s.transactionRepo.ListByOwner(ctx, ownerID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &TransactionPage{
		Transactions: transactions,
		Total:        total,
		Page:         page,
		PageSize:     pageSize,
	}, nil
}

type PlanPage struct {
	Plans    []*model.PlanSummary `json:"plans"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// ListPlans 历史套餐（分页），含已结转清退的旧套餐
func (s *PlanService) ListPlans(ctx context.Context, ownerID int64, page, pageSize int) (*PlanPage, error) {
	plans, total, err := s.userPlanRepo.ListByOwner(ctx, ownerID, page, pageSize)
	if err != nil {
		return nil, err
	}
	result := &PlanPage{Total: total, Page: page, PageSize: pageSize}
	now := time.Now()
	for _, p := range plans {
		// 已结转清退的套餐不再算有效
		result.Plans = append(result.Plans, p.Summarize(p.CarriedForwardToPlanID == nil, now))
	}
	return result, nil
}

type PaymentSummary struct {
	TotalPayments int64                `json:"total_payments"`
	TotalAmount   int64                `json:"total_amount"`
	Currency      string               `json:"currency"`
	LastPayment   *model.Transaction   `json:"last_payment"`
	ActivePlans   []*model.PlanSummary `json:"active_plans"`
}

// GetPaymentSummary 支付汇总：已完成交易的笔数和总额、最近一笔、当前有效套餐
func (s *PlanService) GetPaymentSummary(ctx context.Context, ownerID int64) (*PaymentSummary, error) {
	count, amount, err := s.transactionRepo.SumCompletedByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	last, err := s.transactionRepo.GetLatestCompletedByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	activePlans, err := s.userPlanRepo.ListActiveFunded(ctx, ownerID, now)
	if err != nil {
		return nil, err
	}

	summary := &PaymentSummary{
		TotalPayments: count,
		TotalAmount:   amount,
		Currency:      "USD",
		LastPayment:   last,
	}
	if last != nil {
		summary.Currency = last.Currency
	}
	for _, p := range activePlans {
		summary.ActivePlans = append(summary.ActivePlans, p.Summarize(true, now))
	}
	return summary, nil
}
