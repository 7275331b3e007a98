package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"matchpay/internal/config"
	"matchpay/internal/gateway"
	"matchpay/internal/model"
	"matchpay/internal/repository"
	"matchpay/pkg/idgen"

	"gorm.io/gorm"
)

var (
	ErrNotVerified       = errors.New("请先完成邮箱验证")
	ErrProfileIncomplete = errors.New("请先完善个人资料")
	ErrAmountMismatch    = errors.New("支付金额与套餐价格不符")
	ErrMemberOnly        = errors.New("仅会员可执行此操作")
)

// OrderService 下单服务
// 创建本地交易记录 + 网关订单，返回付款授权链接
type OrderService struct {
	cfg             *config.Config
	gateway         gateway.PaymentGateway
	catalog         *CatalogService
	transactionRepo *repository.TransactionRepository
}

func NewOrderService(db *gorm.DB, cfg *config.Config, gw gateway.PaymentGateway, catalog *CatalogService) *OrderService {
	return &OrderService{
		cfg:             cfg,
		gateway:         gw,
		catalog:         catalog,
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

type CreateOrderRequest struct {
	Principal *model.Principal
	PlanKey   string
	Amount    int64  // 可选，传了必须和套餐价格一致（按最小货币单位）
	Currency  string // 可选，传了必须和套餐币种一致
}

type CreateOrderResponse struct {
	TransactionID  int64  `json:"transaction_id"`
	TransactionNo  string `json:"transaction_no"`
	GatewayOrderID string `json:"gateway_order_id"`
	ApprovalURL    string `json:"approval_url"`
	PlanCode       string `json:"plan_code"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

// CreateOrder 发起套餐购买
//
// 金额以服务端解析到的套餐价格为准，客户端传来的金额只做一致性校验，
// 不参与定价。网关下单失败时交易直接终结成 FAILED，用户重新下单即可
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	p := req.Principal
	if p == nil || !p.IsMember() {
		return nil, ErrMemberOnly
	}
	if !p.Verified {
		return nil, ErrNotVerified
	}
	if !p.ProfileCompleted {
		return nil, ErrProfileIncomplete
	}

	planConfig, err := s.catalog.Resolve(ctx, req.PlanKey)
	if err != nil {
		return nil, err
	}
	if req.Amount != 0 && req.Amount != planConfig.Price {
		return nil, ErrAmountMismatch
	}
	if req.Currency != "" && req.Currency != planConfig.Currency {
		return nil, ErrAmountMismatch
	}

	trans := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		OwnerID:       p.MemberID,
		OwnerVivID:    p.VivID,
		PlanCode:      planConfig.PlanCode,
		PlanName:      planConfig.DisplayName,
		Amount:        planConfig.Price,
		Currency:      planConfig.Currency,
		Status:        model.TxStatusCreated,
		Gateway:       model.GatewayPayPal,
	}
	if err := s.transactionRepo.Create(ctx, nil, trans); err != nil {
		return nil, fmt.Errorf("创建交易失败: %w", err)
	}

	order, err := s.gateway.CreateOrder(ctx, &gateway.CreateOrderInput{
		Amount:      planConfig.Price,
		Currency:    planConfig.Currency,
		CustomID:    fmt.Sprintf("VIV_%s_%s_%d", p.VivID, planConfig.PlanCode, trans.ID),
		Description: fmt.Sprintf("Purchase of %s plan", planConfig.DisplayName),
		ReturnURL:   fmt.Sprintf("%s?transaction_id=%d", s.cfg.PayPal.ReturnURL, trans.ID),
		CancelURL:   fmt.Sprintf("%s?transaction_id=%d", s.cfg.PayPal.CancelURL, trans.ID),
	})
	if err != nil {
		if markErr := s.transactionRepo.MarkFailed(ctx, trans.ID, "网关下单失败"); markErr != nil {
			log.Printf("[OrderService] 标记交易失败出错: transactionID=%d, err=%v", trans.ID, markErr)
		}
		return nil, fmt.Errorf("创建网关订单失败: %w", err)
	}

	if err := s.transactionRepo.SetGatewayOrder(ctx, trans.ID, order.OrderID); err != nil {
		return nil, err
	}

	log.Printf("[OrderService] 下单成功: transactionNo=%s, owner=%s, plan=%s, gatewayOrder=%s",
		trans.TransactionNo, p.VivID, planConfig.PlanCode, order.OrderID)

	return &CreateOrderResponse{
		TransactionID:  trans.ID,
		TransactionNo:  trans.TransactionNo,
		GatewayOrderID: order.OrderID,
		ApprovalURL:    order.ApprovalURL,
		PlanCode:       planConfig.PlanCode,
		Amount:         planConfig.Price,
		Currency:       planConfig.Currency,
	}, nil
}
