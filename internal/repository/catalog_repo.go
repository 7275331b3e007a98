package repository

import (
	"context"
	"errors"
	"strings"

	"matchpay/internal/model"

	"gorm.io/gorm"
)

var ErrCatalogPlanNotFound = errors.New("套餐不存在")

type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// FindActive 按套餐代码或名称查找启用中的套餐，大小写不敏感
func (r *CatalogRepository) FindActive(ctx context.Context, keyOrCode string) (*model.CatalogPlan, error) {
	upper := strings.ToUpper(strings.TrimSpace(keyOrCode))

	var plan model.CatalogPlan
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("UPPER(plan_code) = ? OR UPPER(plan_name) = ? OR UPPER(display_name) = ?",
			upper, upper, upper).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCatalogPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *CatalogRepository) ListActive(ctx context.Context) ([]*model.CatalogPlan, error) {
	var plans []*model.CatalogPlan
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("sort_order ASC, created_at DESC").
		Find(&plans).Error
	return plans, err
}

func (r *CatalogRepository) Create(ctx context.Context, plan *model.CatalogPlan) error {
	plan.PlanCode = strings.ToUpper(strings.TrimSpace(plan.PlanCode))
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *CatalogRepository) UpdateByCode(ctx context.Context, planCode string, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.CatalogPlan{}).
		Where("UPPER(plan_code) = ?", strings.ToUpper(strings.TrimSpace(planCode))).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCatalogPlanNotFound
	}
	return nil
}
