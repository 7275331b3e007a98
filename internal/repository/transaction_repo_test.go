package repository

import (
	"context"
	"testing"
	"time"

	"matchpay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedTransaction(t *testing.T, db *gorm.DB, transNo, status string) *model.Transaction {
	t.Helper()
	trans := &model.Transaction{
		TransactionNo: transNo,
		OwnerID:       1,
		OwnerVivID:    "VIV-OWNER",
		PlanCode:      "STARTER",
		Amount:        3000,
		Currency:      "USD",
		Status:        status,
		Gateway:       model.GatewayPayPal,
	}
	require.NoError(t, db.Create(trans).Error)
	return trans
}

func TestUpdateStatusFollowsStateMachine(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTransactionRepository(db)

	trans := seedTransaction(t, db, "TXN-SM-1", model.TxStatusCreated)

	// 不合法的流转直接拒绝
	err := repo.UpdateStatus(ctx, nil, trans.ID, model.TxStatusCreated, model.TxStatusCompleted)
	assert.ErrorIs(t, err, ErrStatusConflict)

	require.NoError(t, repo.UpdateStatus(ctx, nil, trans.ID, model.TxStatusCreated, model.TxStatusPending))

	// fromStatus 不匹配库里的当前状态：没有行被更新
	err = repo.UpdateStatus(ctx, nil, trans.ID, model.TxStatusCreated, model.TxStatusPending)
	assert.ErrorIs(t, err, ErrStatusConflict)
}

func TestMarkCompleted(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTransactionRepository(db)

	trans := seedTransaction(t, db, "TXN-MC-1", model.TxStatusPending)

	require.NoError(t, repo.MarkCompleted(ctx, nil, trans.ID, "CAP-1", "payer@example.com", "PAYER1"))

	var got model.Transaction
	require.NoError(t, db.First(&got, trans.ID).Error)
	assert.Equal(t, model.TxStatusCompleted, got.Status)
	assert.Equal(t, "CAP-1", got.GatewayCaptureID)
	assert.NotNil(t, got.CompletedAt)

	// 终态不可改写
	err := repo.MarkCompleted(ctx, nil, trans.ID, "CAP-2", "", "")
	assert.ErrorIs(t, err, ErrStatusConflict)

	require.NoError(t, db.First(&got, trans.ID).Error)
	assert.Equal(t, "CAP-1", got.GatewayCaptureID)
}

func TestMarkFailed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTransactionRepository(db)

	created := seedTransaction(t, db, "TXN-MF-1", model.TxStatusCreated)
	require.NoError(t, repo.MarkFailed(ctx, created.ID, "网关下单失败"))

	var got model.Transaction
	require.NoError(t, db.First(&got, created.ID).Error)
	assert.Equal(t, model.TxStatusFailed, got.Status)
	assert.Equal(t, "网关下单失败", got.FailureReason)

	// 已完成的交易不能改成失败
	completed := seedTransaction(t, db, "TXN-MF-2", model.TxStatusCompleted)
	err := repo.MarkFailed(ctx, completed.ID, "不该发生")
	assert.ErrorIs(t, err, ErrStatusConflict)
}

func TestGetByTransactionNo(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTransactionRepository(db)

	trans := seedTransaction(t, db, "TXN-NO-1", model.TxStatusCreated)

	got, err := repo.GetByTransactionNo(ctx, "TXN-NO-1")
	require.NoError(t, err)
	assert.Equal(t, trans.ID, got.ID)

	_, err = repo.GetByTransactionNo(ctx, "TXN-NO-MISSING")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestGetStaleCreated(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTransactionRepository(db)

	old := seedTransaction(t, db, "TXN-ST-1", model.TxStatusCreated)
	require.NoError(t, db.Model(&model.Transaction{}).Where("id = ?", old.ID).
		Update("created_at", time.Now().Add(-2*time.Hour)).Error)

	seedTransaction(t, db, "TXN-ST-2", model.TxStatusCreated) // 新的，不算
	stalePending := seedTransaction(t, db, "TXN-ST-3", model.TxStatusPending)
	require.NoError(t, db.Model(&model.Transaction{}).Where("id = ?", stalePending.ID).
		Update("created_at", time.Now().Add(-2*time.Hour)).Error)

	stale, err := repo.GetStaleCreated(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestSumCompletedByOwner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTransactionRepository(db)

	seedTransaction(t, db, "TXN-SUM-1", model.TxStatusCompleted)
	seedTransaction(t, db, "TXN-SUM-2", model.TxStatusCompleted)
	seedTransaction(t, db, "TXN-SUM-3", model.TxStatusFailed) // 不算

	count, amount, err := repo.SumCompletedByOwner(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, int64(6000), amount)
}
