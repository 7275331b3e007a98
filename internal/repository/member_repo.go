package repository

import (
	"context"
	"errors"
	"strings"

	"matchpay/internal/model"

	"gorm.io/gorm"
)

var ErrMemberNotFound = errors.New("会员不存在")

type MemberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

func (r *MemberRepository) Create(ctx context.Context, member *model.Member) error {
	return r.db.WithContext(ctx).Create(member).Error
}

func (r *MemberRepository) GetByID(ctx context.Context, id int64) (*model.Member, error) {
	var member model.Member
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

func (r *MemberRepository) GetByVivID(ctx context.Context, vivID string) (*model.Member, error) {
	var member model.Member
	err := r.db.WithContext(ctx).
		Where("viv_id = ?", strings.ToUpper(vivID)).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}
