package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/types"
)

type UserSessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, session *types.UserSession) (*types.UserSession, error)
	GetByID(ctx context.Context, tx *gorm.DB, sessionID string) (*types.UserSession, error)
	Update(ctx context.Context, tx *gorm.DB, sessionID string, updates map[string]interface{}) error
	Deactivate(ctx context.Context, tx *gorm.DB, sessionID string) error
}

type userSessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserSessionRepo(db *gorm.DB, baseLog *logger.Logger) UserSessionRepo {
	repoLog := baseLog.With("repo", "UserSessionRepo")
	return &userSessionRepo{db: db, log: repoLog}
}

func (r *userSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.UserSession) (*types.UserSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func (r *userSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, sessionID string) (*types.UserSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var session types.UserSession
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *userSessionRepo) Update(ctx context.Context, tx *gorm.DB, sessionID string, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.UserSession{}).
		Where("session_id = ?", sessionID).
		Updates(updates).Error
}

func (r *userSessionRepo) Deactivate(ctx context.Context, tx *gorm.DB, sessionID string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.UserSession{}).
		Where("session_id = ?", sessionID).
		Update("active", false).Error
}
