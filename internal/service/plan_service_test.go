package service

import (
	"context"
	"testing"
	"time"

	"matchpay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPlanSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := seedMember(t, env.db, "VIV1001", true, true)

	// 没买过套餐
	summary, err := env.plans.GetPlanSummary(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, summary)

	purchase(t, env, m, "standard")

	summary, err = env.plans.GetPlanSummary(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "STANDARD", summary.PlanCode)
	assert.Equal(t, 25, summary.CreditsRemaining)
	assert.True(t, summary.IsActive)
	assert.Equal(t, m.VivID, summary.OwnerVivID)
}

func TestGetPlanSummaryIgnoresUnfundedTransactions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := seedMember(t, env.db, "VIV2001", true, true)

	// 只下单不捕获：没有出资，摘要应该是空
	_, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		Principal: principalOf(m),
		PlanKey:   "starter",
	})
	require.NoError(t, err)

	summary, err := env.plans.GetPlanSummary(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestGetPlanSummaryExpiredPlan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := seedMember(t, env.db, "VIV3001", true, true)

	resp := purchase(t, env, m, "starter")

	yesterday := time.Now().Add(-24 * time.Hour)
	require.NoError(t, env.db.Model(&model.UserPlan{}).
		Where("id = ?", resp.Plan.PlanID).
		Update("expires_at", yesterday).Error)

	// 过期套餐仍然返回，但 is_active 为 false
	summary, err := env.plans.GetPlanSummary(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.False(t, summary.IsActive)
}

func TestListTransactions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := seedMember(t, env.db, "VIV4001", true, true)

	purchase(t, env, m, "starter")
	purchase(t, env, m, "standard")

	page, err := env.plans.ListTransactions(ctx, m.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Transactions, 2)
	// 倒序，最新的在前
	assert.Equal(t, "STANDARD", page.Transactions[0].PlanCode)

	page, err = env.plans.ListTransactions(ctx, m.ID, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Len(t, page.Transactions, 1)
}

func TestListPlans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := seedMember(t, env.db, "VIV4501", true, true)

	purchase(t, env, m, "starter")
	purchase(t, env, m, "standard")

	page, err := env.plans.ListPlans(ctx, m.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Plans, 2)

	// 倒序：新套餐在前且有效，旧套餐已结转清退，不再算有效
	assert.Equal(t, "STANDARD", page.Plans[0].PlanCode)
	assert.True(t, page.Plans[0].IsActive)
	assert.Equal(t, "STARTER", page.Plans[1].PlanCode)
	assert.False(t, page.Plans[1].IsActive)
	assert.Equal(t, 0, page.Plans[1].CreditsRemaining)
}

func TestGetPaymentSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := seedMember(t, env.db, "VIV5001", true, true)

	summary, err := env.plans.GetPaymentSummary(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.TotalPayments)
	assert.Equal(t, int64(0), summary.TotalAmount)
	assert.Nil(t, summary.LastPayment)
	assert.Empty(t, summary.ActivePlans)

	purchase(t, env, m, "starter")  // 3000
	purchase(t, env, m, "standard") // 6000

	summary, err = env.plans.GetPaymentSummary(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TotalPayments)
	assert.Equal(t, int64(9000), summary.TotalAmount)
	assert.Equal(t, "USD", summary.Currency)
	require.NotNil(t, summary.LastPayment)
	assert.Equal(t, "STANDARD", summary.LastPayment.PlanCode)
	// 旧套餐已清退但未过期，两个都算有效（余额只在新套餐上）
	assert.NotEmpty(t, summary.ActivePlans)
}
