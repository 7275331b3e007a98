package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"matchpay/internal/model"
	"matchpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlockSpendsOneCredit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	viewer := seedMember(t, env.db, "VIV1001", true, true)
	target := seedMember(t, env.db, "VIV1002", true, true)

	purchase(t, env, viewer, "starter")

	resp, err := env.unlocks.Unlock(ctx, &UnlockRequest{
		Principal: principalOf(viewer),
		TargetID:  target.ID,
	})
	require.NoError(t, err)
	assert.False(t, resp.AlreadyUnlocked)
	assert.Equal(t, viewer.ID, resp.Unlock.ViewerID)
	assert.Equal(t, target.VivID, resp.Unlock.TargetVivID)
	assert.Equal(t, 1, resp.Unlock.Cost)

	require.NotNil(t, resp.Profile)
	assert.Equal(t, target.VivID, resp.Profile.VivID)

	require.NotNil(t, resp.Plan)
	assert.Equal(t, 9, resp.Plan.CreditsRemaining)
	assert.Equal(t, 1, resp.Plan.CreditsUsed)
}

func TestUnlockReplayDoesNotSpendAgain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	viewer := seedMember(t, env.db, "VIV2001", true, true)
	target := seedMember(t, env.db, "VIV2002", true, true)

	purchase(t, env, viewer, "starter")

	first, err := env.unlocks.Unlock(ctx, &UnlockRequest{
		Principal: principalOf(viewer),
		TargetID:  target.ID,
	})
	require.NoError(t, err)

	second, err := env.unlocks.Unlock(ctx, &UnlockRequest{
		Principal: principalOf(viewer),
		TargetID:  target.ID,
	})
	require.NoError(t, err)
	assert.True(t, second.AlreadyUnlocked)
	assert.Equal(t, first.Unlock.ID, second.Unlock.ID)

	// 余额没再动
	assert.Equal(t, 9, second.Plan.CreditsRemaining)

	var count int64
	env.db.Model(&model.ProfileUnlock{}).
		Where("viewer_id = ? AND target_id = ?", viewer.ID, target.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestUnlockPreconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := seedMember(t, env.db, "VIV3000", true, true)

	unverified := seedMember(t, env.db, "VIV3001", false, true)
	_, err := env.unlocks.Unlock(ctx, &UnlockRequest{
		Principal: principalOf(unverified),
		TargetID:  target.ID,
	})
	assert.ErrorIs(t, err, ErrNotVerified)

	incomplete := seedMember(t, env.db, "VIV3002", true, false)
	_, err = env.unlocks.Unlock(ctx, &UnlockRequest{
		Principal: principalOf(incomplete),
		TargetID:  target.ID,
	})
	assert.ErrorIs(t, err, ErrProfileIncomplete)

	viewer := seedMember(t, env.db, "VIV3003", true, true)
	_, err = env.unlocks.Unlock(ctx, &UnlockRequest{
		Principal: principalOf(viewer),
		TargetID:  viewer.ID,
	})
	assert.ErrorIs(t, err, ErrSelfUnlock)

	_, err = env.unlocks.Unlock(ctx, &UnlockRequest{
		Principal: principalOf(viewer),
		TargetID:  99999,
	})
	assert.ErrorIs(t, err, ErrTargetUnavailable)

	hidden := seedMember(t, env.db, "VIV3004", false, false)
	_, err = env.unlocks.Unlock(ctx, &UnlockRequest{
		Principal: principalOf(viewer),
		TargetID:  hidden.ID,
	})
	assert.ErrorIs(t, err, ErrTargetUnavailable)
}

func TestUnlockWithoutPlan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	viewer := seedMember(t, env.db, "VIV4001", true, true)
	target := seedMember(t, env.db, "VIV4002", true, true)

	_, err := env.unlocks.Unlock(ctx, &UnlockRequest{
		Principal: principalOf(viewer),
		TargetID:  target.ID,
	})
	assert.ErrorIs(t, err, ErrNoActivePlan)
}

func TestUnlockExpiredPlan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	viewer := seedMember(t, env.db, "VIV5001", true, true)
	target := seedMember(t, env.db, "VIV5002", true, true)

	resp := purchase(t, env, viewer, "starter")

	// 把套餐改成昨天过期
	yesterday := time.Now().Add(-24 * time.Hour)
	require.NoError(t, env.db.Model(&model.UserPlan{}).
		Where("id = ?", resp.Plan.PlanID).
		Update("expires_at", yesterday).Error)

	_, err := env.unlocks.Unlock(ctx, &UnlockRequest{
		Principal: principalOf(viewer),
		TargetID:  target.ID,
	})
	assert.ErrorIs(t, err, ErrPlanExpired)
}

func TestUnlockInsufficientCredits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	viewer := seedMember(t, env.db, "VIV6001", true, true)
	target := seedMember(t, env.db, "VIV6002", true, true)

	resp := purchase(t, env, viewer, "starter")

	// 把积分直接耗光
	planRepo := repository.NewUserPlanRepository(env.db)
	for i := 0; i < 10; i++ {
		require.NoError(t, planRepo.SpendCredit(ctx, resp.Plan.PlanID))
	}

	_, err := env.unlocks.Unlock(ctx, &UnlockRequest{
		Principal: principalOf(viewer),
		TargetID:  target.ID,
	})
	assert.ErrorIs(t, err, repository.ErrInsufficientCredits)
}

func TestUnlockLastCreditConcurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	viewer := seedMember(t, env.db, "VIV7001", true, true)
	targetA := seedMember(t, env.db, "VIV7002", true, true)
	targetB := seedMember(t, env.db, "VIV7003", true, true)

	resp := purchase(t, env, viewer, "starter")

	// 只留最后一个积分
	planRepo := repository.NewUserPlanRepository(env.db)
	for i := 0; i < 9; i++ {
		require.NoError(t, planRepo.SpendCredit(ctx, resp.Plan.PlanID))
	}

	// 两个并发请求抢最后一个积分，必须恰好一个成功
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, target := range []*model.Member{targetA, targetB} {
		wg.Add(1)
		go func(idx int, targetID int64) {
			defer wg.Done()
			_, errs[idx] = env.unlocks.Unlock(ctx, &UnlockRequest{
				Principal: principalOf(viewer),
				TargetID:  targetID,
			})
		}(i, target.ID)
	}
	wg.Wait()

	okCount, insufficientCount := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, repository.ErrInsufficientCredits):
			insufficientCount++
		default:
			t.Fatalf("预期之外的错误: %v", err)
		}
	}
	assert.Equal(t, 1, okCount)
	assert.Equal(t, 1, insufficientCount)

	var plan model.UserPlan
	require.NoError(t, env.db.First(&plan, resp.Plan.PlanID).Error)
	assert.Equal(t, 0, plan.CreditsRemaining, "余额不能变成负数")
	assert.Equal(t, 10, plan.CreditsUsed)
}

func TestUnlockDuplicateRaceCompensation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	viewer := seedMember(t, env.db, "VIV8001", true, true)
	target := seedMember(t, env.db, "VIV8002", true, true)

	resp := purchase(t, env, viewer, "starter")

	var plan model.UserPlan
	require.NoError(t, env.db.First(&plan, resp.Plan.PlanID).Error)

	// 模拟并发窗口：回放检查之后、插入之前，另一个请求先写入了记录
	require.NoError(t, env.db.Create(&model.ProfileUnlock{
		ViewerID:    viewer.ID,
		TargetID:    target.ID,
		ViewerVivID: viewer.VivID,
		TargetVivID: target.VivID,
		PlanID:      plan.ID,
		Cost:        1,
	}).Error)

	// 直接走扣积分 + 写记录路径，撞唯一索引后应退回积分
	result, err := env.unlocks.spendAndRecord(ctx, principalOf(viewer), target, &plan)
	require.NoError(t, err)
	assert.True(t, result.AlreadyUnlocked)

	require.NoError(t, env.db.First(&plan, plan.ID).Error)
	assert.Equal(t, 10, plan.CreditsRemaining, "补偿后余额应该和扣之前一样")
	assert.Equal(t, 0, plan.CreditsUsed)
}

func TestUnlockHistoryAndCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	viewer := seedMember(t, env.db, "VIV9001", true, true)
	targetA := seedMember(t, env.db, "VIV9002", true, true)
	targetB := seedMember(t, env.db, "VIV9003", true, true)

	purchase(t, env, viewer, "starter")

	for _, target := range []*model.Member{targetA, targetB} {
		_, err := env.unlocks.Unlock(ctx, &UnlockRequest{
			Principal: principalOf(viewer),
			TargetID:  target.ID,
		})
		require.NoError(t, err)
	}

	history, err := env.unlocks.History(ctx, viewer.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), history.Total)
	assert.Len(t, history.Unlocks, 2)
	assert.Equal(t, 2, history.TotalCost)
	assert.NotNil(t, history.LastUnlockedAt)

	unlock, err := env.unlocks.IsUnlocked(ctx, viewer.ID, targetA.ID)
	require.NoError(t, err)
	assert.NotNil(t, unlock)

	other := seedMember(t, env.db, "VIV9004", true, true)
	unlock, err = env.unlocks.IsUnlocked(ctx, viewer.ID, other.ID)
	require.NoError(t, err)
	assert.Nil(t, unlock)
}
