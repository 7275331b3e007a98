package job

import (
	"context"
	"log"
	"time"

	"matchpay/internal/config"
	"matchpay/internal/infrastructure/mq"
	"matchpay/internal/model"
	"matchpay/internal/repository"

	"gorm.io/gorm"
)

// SendFunc 消息投递函数，默认走 Kafka，测试里替换成假实现
type SendFunc func(topic, key, value string) error

// OutboxSender 发件箱投递任务
// 轮询 PENDING 消息发到 Kafka，超过最大重试次数标记为 FAILED
type OutboxSender struct {
	db         *gorm.DB
	outboxRepo *repository.OutboxRepository
	cfg        *config.Config
	send       SendFunc
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		db:         db,
		outboxRepo: repository.NewOutboxRepository(db),
		cfg:        cfg,
		send:       mq.SendMessage,
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

// SetSendFunc 替换投递函数
func (s *OutboxSender) SetSendFunc(fn SendFunc) {
	s.send = fn
}

func (s *OutboxSender) Start(ctx context.Context) {
	log.Println("[OutboxSender] 通知投递任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.ProcessPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPendingMessages 处理一批待投递消息
func (s *OutboxSender) ProcessPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPending(ctx, s.batchSize)
	if err != nil {
		log.Printf("[OutboxSender] 查询消息失败: %v", err)
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.send(msg.Topic, msg.MessageKey, msg.Payload)

	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			log.Printf("[OutboxSender] 更新消息状态失败: id=%d, err=%v", msg.ID, updateErr)
		} else {
			log.Printf("[OutboxSender] 消息投递成功: id=%d, topic=%s, key=%s", msg.ID, msg.Topic, msg.MessageKey)
		}
		return
	}

	log.Printf("[OutboxSender] 消息投递失败: id=%d, err=%v", msg.ID, err)

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if markErr := s.outboxRepo.MarkFailed(ctx, msg.ID); markErr != nil {
			log.Printf("[OutboxSender] 标记消息失败状态失败: id=%d, err=%v", msg.ID, markErr)
		} else {
			log.Printf("[OutboxSender] 消息超过最大重试次数，标记为失败: id=%d", msg.ID)
		}
		return
	}

	if incrErr := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); incrErr != nil {
		log.Printf("[OutboxSender] 增加重试次数失败: id=%d, err=%v", msg.ID, incrErr)
	}
}
