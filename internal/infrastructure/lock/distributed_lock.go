package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么确认购买要加锁？】
//
// 场景：用户网络抖动，同一笔订单的 confirm 被重复提交
//
// 不加锁时两个请求都可能打到供应商的 confirm 接口 —— 供应商侧的
// 外部副作用无法回滚，重复 confirm 就是重复发货。
//
// 按用户加锁后，同一用户同一时刻只有一个 confirm 在跑，
// 后到的请求会看到订单已离开 PENDING 状态直接返回。
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本保证"检查+删除"的原子性
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string        // 锁持有者标识
	expiration time.Duration // 锁的过期时间
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
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 先校验 value 再删除：A 的锁过期后 B 拿到锁，A 迟到的 Unlock
// 不能把 B 的锁删掉
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

// NewConfirmLock 创建确认购买锁（按用户维度）
//
// 按用户加锁而不是全局锁：不同用户可以并发确认，
// 同一用户串行 —— 这正是防止重复 confirm 需要的粒度
func NewConfirmLock(client *redis.Client, userID int64, orderNo string) *DistributedLock {
	key := fmt.Sprintf("topup:confirm:lock:user:%d", userID)
	// value 使用订单号，便于追踪是哪笔订单持有锁
	return NewDistributedLock(client, key, orderNo, 30*time.Second)
}
