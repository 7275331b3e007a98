package job

import (
	"context"
	"log"
	"time"

	"matchpay/internal/config"
	"matchpay/internal/model"
	"matchpay/internal/repository"

	"gorm.io/gorm"
)

// TransactionTimeoutJob 超时交易清理任务
//
// 只清理 CREATED 的交易：用户下了单但一直没去网关授权付款，
// 超时直接取消。PENDING 的交易不能在这里碰——捕获可能正在进行
// 或者结果未知，统一交给捕获接口的重试和回放逻辑收敛
type TransactionTimeoutJob struct {
	db              *gorm.DB
	transactionRepo *repository.TransactionRepository
	cfg             *config.Config
	stopCh          chan struct{}
	interval        time.Duration
	batchSize       int
}

func NewTransactionTimeoutJob(db *gorm.DB, cfg *config.Config) *TransactionTimeoutJob {
	return &TransactionTimeoutJob{
		db:              db,
		transactionRepo: repository.NewTransactionRepository(db),
		cfg:             cfg,
		stopCh:          make(chan struct{}),
		interval:        30 * time.Second,
		batchSize:       100,
	}
}

func (j *TransactionTimeoutJob) Start(ctx context.Context) {
	log.Println("[TransactionTimeoutJob] 超时交易清理任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[TransactionTimeoutJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[TransactionTimeoutJob] 任务停止")
			return
		case <-ticker.C:
			j.CancelStaleTransactions(ctx)
		}
	}
}

func (j *TransactionTimeoutJob) Stop() {
	close(j.stopCh)
}

// CancelStaleTransactions 取消一批超时未支付的交易
func (j *TransactionTimeoutJob) CancelStaleTransactions(ctx context.Context) {
	timeout := time.Duration(j.cfg.Business.TransactionTimeoutMinutes) * time.Minute
	before := time.Now().Add(-timeout)

	transactions, err := j.transactionRepo.GetStaleCreated(ctx, before, j.batchSize)
	if err != nil {
		log.Printf("[TransactionTimeoutJob] 查询超时交易失败: %v", err)
		return
	}

	if len(transactions) == 0 {
		return
	}

	cancelled := 0
	for _, trans := range transactions {
		// WHERE 带状态条件，用户恰好此刻去支付了也不会误杀
		err := j.transactionRepo.UpdateStatus(ctx, nil, trans.ID,
			model.TxStatusCreated, model.TxStatusCancelled)
		if err != nil {
			log.Printf("[TransactionTimeoutJob] 取消交易失败: transactionNo=%s, err=%v",
				trans.TransactionNo, err)
			continue
		}
		cancelled++
		log.Printf("[TransactionTimeoutJob] 交易已超时取消: transactionNo=%s, owner=%s",
			trans.TransactionNo, trans.OwnerVivID)
	}

	log.Printf("[TransactionTimeoutJob] 本次取消 %d 笔超时交易", cancelled)
}
