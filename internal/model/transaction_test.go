package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	// 允许的流转
	assert.True(t, CanTransitionTo(TxStatusCreated, TxStatusPending))
	assert.True(t, CanTransitionTo(TxStatusCreated, TxStatusFailed))
	assert.True(t, CanTransitionTo(TxStatusCreated, TxStatusCancelled))
	assert.True(t, CanTransitionTo(TxStatusPending, TxStatusCompleted))
	assert.True(t, CanTransitionTo(TxStatusPending, TxStatusFailed))
	assert.True(t, CanTransitionTo(TxStatusPending, TxStatusCancelled))

	// COMPLETED 必须经过 PENDING
	assert.False(t, CanTransitionTo(TxStatusCreated, TxStatusCompleted))

	// 终态不可再流转
	for _, terminal := range []string{TxStatusCompleted, TxStatusFailed, TxStatusCancelled} {
		for _, target := range []string{TxStatusCreated, TxStatusPending, TxStatusCompleted, TxStatusFailed, TxStatusCancelled} {
			assert.False(t, CanTransitionTo(terminal, target), "%s -> %s", terminal, target)
		}
	}

	// 不能回退
	assert.False(t, CanTransitionTo(TxStatusPending, TxStatusCreated))
	assert.False(t, CanTransitionTo("UNKNOWN", TxStatusPending))
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, IsTerminalStatus(TxStatusCompleted))
	assert.True(t, IsTerminalStatus(TxStatusFailed))
	assert.True(t, IsTerminalStatus(TxStatusCancelled))
	assert.False(t, IsTerminalStatus(TxStatusCreated))
	assert.False(t, IsTerminalStatus(TxStatusPending))
}
