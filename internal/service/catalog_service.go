package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"matchpay/internal/model"
	"matchpay/internal/repository"

	"gorm.io/gorm"
)

var ErrPlanNotFound = errors.New("无效的套餐")

// staticPlanCatalog 静态兜底套餐表
// 目录库为空（比如刚上线还没录入数据）时购买流程也要能走通，
// 套餐解析永远先查库、查不到再落到这张表
var staticPlanCatalog = map[string]*model.PlanConfig{
	"starter": {
		PlanCode:    "STARTER",
		DisplayName: "Starter",
		Price:       3000,
		Currency:    "USD",
		CreditCount: 10,
		Validity:    model.ValidityRule{Unit: model.ValidityDays, Days: 60},
		Features:    []string{"10 profile credits", "60 days validity"},
		Source:      "static",
	},
	"standard": {
		PlanCode:    "STANDARD",
		DisplayName: "Standard",
		Price:       6000,
		Currency:    "USD",
		CreditCount: 25,
		Validity:    model.ValidityRule{Unit: model.ValidityDays, Days: 120},
		Features:    []string{"25 profile credits", "120 days validity"},
		Source:      "static",
	},
	"premium": {
		PlanCode:    "PREMIUM",
		DisplayName: "Premium",
		Price:       12000,
		Currency:    "USD",
		CreditCount: 60,
		Validity:    model.ValidityRule{Unit: model.ValidityDays, Days: 180},
		Features:    []string{"60 profile credits", "180 days validity"},
		Source:      "static",
	},
	"family": {
		PlanCode:    "FAMILY",
		DisplayName: "Family",
		Price:       40000,
		Currency:    "USD",
		CreditCount: 300,
		Validity:    model.ValidityRule{Unit: model.ValidityDays, Days: 365},
		Features:    []string{"300 profile credits", "365 days validity"},
		Source:      "static",
	},
	"payasgo": {
		PlanCode:    "PAYASGO",
		DisplayName: "Pay As You Go",
		Price:       0,
		Currency:    "USD",
		CreditCount: 0,
		Validity:    model.ValidityRule{Unit: model.ValidityNone},
		Features:    []string{"No expiry"},
		Source:      "static",
	},
}

// CatalogService 套餐目录服务
// 负责套餐解析（库优先、静态兜底）和管理端的目录维护
type CatalogService struct {
	catalogRepo *repository.CatalogRepository
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{
		catalogRepo: repository.NewCatalogRepository(db),
	}
}

// Resolve 解析套餐配置
// 入参可以是套餐代码或名称，大小写不敏感。数据库记录优先于静态兜底表
func (s *CatalogService) Resolve(ctx context.Context, keyOrCode string) (*model.PlanConfig, error) {
	key := strings.ToLower(strings.TrimSpace(keyOrCode))
	if key == "" {
		return nil, ErrPlanNotFound
	}

	dbPlan, err := s.catalogRepo.FindActive(ctx, keyOrCode)
	if err == nil {
		return dbPlan.Config(), nil
	}
	if !errors.Is(err, repository.ErrCatalogPlanNotFound) {
		return nil, err
	}

	if cfg, ok := staticPlanCatalog[key]; ok {
		clone := *cfg
		clone.Features = append([]string(nil), cfg.Features...)
		return &clone, nil
	}
	return nil, ErrPlanNotFound
}

// ListCatalog 目录列表：库里的启用套餐，库为空时返回静态兜底表
func (s *CatalogService) ListCatalog(ctx context.Context) ([]*model.PlanConfig, error) {
	dbPlans, err := s.catalogRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	if len(dbPlans) > 0 {
		configs := make([]*model.PlanConfig, 0, len(dbPlans))
		for _, p := range dbPlans {
			configs = append(configs, p.Config())
		}
		return configs, nil
	}

	// 兜底表按固定顺序返回，保证展示稳定
	configs := make([]*model.PlanConfig, 0, len(staticPlanCatalog))
	for _, key := range []string{"starter", "standard", "premium", "family", "payasgo"} {
		cfg := staticPlanCatalog[key]
		clone := *cfg
		clone.Features = append([]string(nil), cfg.Features...)
		configs = append(configs, &clone)
	}
	return configs, nil
}

// CreatePlan 管理端新增套餐
func (s *CatalogService) CreatePlan(ctx context.Context, plan *model.CatalogPlan) error {
	if strings.TrimSpace(plan.PlanCode) == "" || plan.Price < 0 || plan.CreditCount < 0 {
		return errors.New("套餐参数不合法")
	}
	return s.catalogRepo.Create(ctx, plan)
}

// UpdatePlan 管理端按套餐代码更新
func (s *CatalogService) UpdatePlan(ctx context.Context, planCode string, updates map[string]interface{}) error {
	err := s.catalogRepo.UpdateByCode(ctx, planCode, updates)
	if errors.Is(err, repository.ErrCatalogPlanNotFound) {
		return ErrPlanNotFound
	}
	return err
}

// ExpiryOf 根据有效期规则计算到期时间，nil 表示永不过期
//
// 自然月运算用 time.AddDate 的归一化规则：1月31日加一个月会顺延到
// 3月2日（或3日），溢出天数滚进下个月。规则确定且可复现即可
func ExpiryOf(rule model.ValidityRule, start time.Time) *time.Time {
	var t time.Time
	switch rule.Unit {
	case model.ValidityMonthly:
		t = start.AddDate(0, 1, 0)
	case model.ValidityQuarterly:
		t = start.AddDate(0, 3, 0)
	case model.ValidityYearly:
		t = start.AddDate(1, 0, 0)
	case model.ValidityDays:
		if rule.Days <= 0 {
			return nil
		}
		t = start.AddDate(0, 0, rule.Days)
	default:
		return nil
	}
	return &t
}
