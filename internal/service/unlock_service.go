package service

import (
	"context"
	"errors"
	"log"
	"time"

	"matchpay/internal/model"
	"matchpay/internal/repository"

	"gorm.io/gorm"
)

var (
	ErrNoActivePlan      = errors.New("请先购买套餐再解锁资料")
	ErrPlanExpired       = errors.New("套餐已过期，请购买新套餐")
	ErrSelfUnlock        = errors.New("不能解锁自己的资料")
	ErrTargetUnavailable = errors.New("对方资料不可用")
)

// UnlockService 资料解锁服务
// 扣一个积分换一条解锁记录，同一对 (viewer, target) 只扣一次
type UnlockService struct {
	memberRepo   *repository.MemberRepository
	userPlanRepo *repository.UserPlanRepository
	unlockRepo   *repository.UnlockRepository
}

func NewUnlockService(db *gorm.DB) *UnlockService {
	return &UnlockService{
		memberRepo:   repository.NewMemberRepository(db),
		userPlanRepo: repository.NewUserPlanRepository(db),
		unlockRepo:   repository.NewUnlockRepository(db),
	}
}

type UnlockRequest struct {
	Principal *model.Principal
	TargetID  int64
}

type UnlockResponse struct {
	Unlock          *model.ProfileUnlock `json:"unlock"`
	Profile         *model.Member        `json:"profile"` // 解锁成功后返回对方资料
	Plan            *model.PlanSummary   `json:"plan"`
	AlreadyUnlocked bool                 `json:"already_unlocked"`
}

// Unlock 解锁一份资料
//
// 扣积分和写解锁记录不在同一条语句里，靠两道防线保证不重复扣费：
// 先查已有记录直接回放；并发窗口里撞上唯一索引时把扣掉的积分退回去
func (s *UnlockService) Unlock(ctx context.Context, req *UnlockRequest) (*UnlockResponse, error) {
	p := req.Principal
	if p == nil || !p.IsMember() {
		return nil, ErrMemberOnly
	}
	if !p.Verified {
		return nil, ErrNotVerified
	}
	if !p.ProfileCompleted {
		return nil, ErrProfileIncomplete
	}
	if req.TargetID == p.MemberID {
		return nil, ErrSelfUnlock
	}

	target, err := s.memberRepo.GetByID(ctx, req.TargetID)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return nil, ErrTargetUnavailable
		}
		return nil, err
	}
	if !target.Verified || !target.ProfileCompleted {
		return nil, ErrTargetUnavailable
	}

	// 幂等回放：已经解锁过就原样返回，不扣积分
	existing, err := s.unlockRepo.GetByViewerTarget(ctx, p.MemberID, target.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.respond(ctx, existing, target, true)
	}

	plan, err := s.userPlanRepo.GetLatestFunded(ctx, p.MemberID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrNoActivePlan
	}
	if plan.Expired(time.Now()) {
		return nil, ErrPlanExpired
	}

	return s.spendAndRecord(ctx, p, target, plan)
}

// spendAndRecord 扣积分并写解锁记录
//
// 【关键点】SpendCredit 的余额校验嵌在 UPDATE 里，扣成功才往下走；
// 解锁记录插入撞唯一索引说明并发请求抢先成功了，把刚扣的积分
// 原样退回，按"已解锁"返回——两个并发请求最终也只扣一个积分
func (s *UnlockService) spendAndRecord(ctx context.Context, p *model.Principal,
	target *model.Member, plan *model.UserPlan) (*UnlockResponse, error) {
	if err := s.userPlanRepo.SpendCredit(ctx, plan.ID); err != nil {
		return nil, err
	}

	unlock := &model.ProfileUnlock{
		ViewerID:    p.MemberID,
		TargetID:    target.ID,
		ViewerVivID: p.VivID,
		TargetVivID: target.VivID,
		PlanID:      plan.ID,
		Cost:        1,
	}
	if err := s.unlockRepo.Create(ctx, unlock); err != nil {
		if refundErr := s.userPlanRepo.RefundCredit(ctx, plan.ID); refundErr != nil {
			log.Printf("[UnlockService] 积分补偿失败: planID=%d, err=%v", plan.ID, refundErr)
		}
		if errors.Is(err, repository.ErrDuplicateUnlock) {
			existing, lookupErr := s.unlockRepo.GetByViewerTarget(ctx, p.MemberID, target.ID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing == nil {
				return nil, err
			}
			return s.respond(ctx, existing, target, true)
		}
		return nil, err
	}

	log.Printf("[UnlockService] 解锁成功: viewer=%s, target=%s, planID=%d",
		p.VivID, target.VivID, plan.ID)
	return s.respond(ctx, unlock, target, false)
}

// respond 统一组装返回，套餐摘要按最新余额重读
func (s *UnlockService) respond(ctx context.Context, unlock *model.ProfileUnlock,
	target *model.Member, replayed bool) (*UnlockResponse, error) {
	resp := &UnlockResponse{Unlock: unlock, Profile: target, AlreadyUnlocked: replayed}
	plan, err := s.userPlanRepo.GetByID(ctx, unlock.PlanID)
	if err != nil {
		if errors.Is(err, repository.ErrPlanRecordNotFound) {
			return resp, nil
		}
		return nil, err
	}
	resp.Plan = plan.Summarize(true, time.Now())
	return resp, nil
}

// IsUnlocked 查某份资料是否已解锁
func (s *UnlockService) IsUnlocked(ctx context.Context, viewerID, targetID int64) (*model.ProfileUnlock, error) {
	return s.unlockRepo.GetByViewerTarget(ctx, viewerID, targetID)
}

type UnlockHistory struct {
	Unlocks        []*model.ProfileUnlock `json:"unlocks"`
	Total          int64                  `json:"total"`
	TotalCost      int                    `json:"total_cost"`
	LastUnlockedAt *time.Time             `json:"last_unlocked_at"`
}

// History 解锁历史（分页）带汇总
func (s *UnlockService) History(ctx context.Context, viewerID int64, page, pageSize int) (*UnlockHistory, error) {
	unlocks, total, err := s.unlockRepo.ListByViewer(ctx, viewerID, page, pageSize)
	if err != nil {
		return nil, err
	}
	totalCost, lastAt, err := s.unlockRepo.StatsByViewer(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	return &UnlockHistory{
		Unlocks:        unlocks,
		Total:          total,
		TotalCost:      totalCost,
		LastUnlockedAt: lastAt,
	}, nil
}
