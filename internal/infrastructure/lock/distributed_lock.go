package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 同一个用户的两次购买如果并发捕获，结转收集会读到同一份未转出余额，
// 把旧积分算两次。按用户维度加一把 Redis 锁，把同一用户的激活串行化；
// 事务内的条件更新（RowsAffected 校验）是第二道防线。
//
// 加锁：SET key value NX EX timeout —— NX 保证互斥，EX 防止死锁。
// 释放：Lua 脚本先验 value 再删 key，避免误删别人的锁。

var ErrLockFailed = errors.New("获取分布式锁失败")

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 锁持有者标识，释放时验证
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
// Lua 脚本保证"检查 value + 删除"是原子的：锁过期后被别人拿走时，
// 旧持有者的 Unlock 不会删掉新持有者的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewActivationLock 创建套餐激活锁（按用户维度）
// 不同用户可以并发捕获，同一用户的捕获/激活串行执行
func NewActivationLock(client *redis.Client, ownerID int64, transactionNo string) *DistributedLock {
	key := fmt.Sprintf("plan:activate:lock:owner:%d", ownerID)
	// value 用交易号，便于排查是哪笔交易持有锁
	return NewDistributedLock(client, key, transactionNo, 30*time.Second)
}
