package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/types"
)

type VideoCacheRepo interface {
	GetByBvid(ctx context.Context, tx *gorm.DB, bvid string) (*types.VideoCache, error)
	Upsert(ctx context.Context, tx *gorm.DB, entry *types.VideoCache) error
	Delete(ctx context.Context, tx *gorm.DB, bvid string) error
	DeleteAll(ctx context.Context, tx *gorm.DB) error
}

type videoCacheRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoCacheRepo(db *gorm.DB, baseLog *logger.Logger) VideoCacheRepo {
	repoLog := baseLog.With("repo", "VideoCacheRepo")
	return &videoCacheRepo{db: db, log: repoLog}
}

func (r *videoCacheRepo) GetByBvid(ctx context.Context, tx *gorm.DB, bvid string) (*types.VideoCache, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var entry types.VideoCache
	if err := transaction.WithContext(ctx).
		Where("bvid = ?", bvid).
		First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *videoCacheRepo) Upsert(ctx context.Context, tx *gorm.DB, entry *types.VideoCache) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bvid"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "author", "cover", "duration", "content", "source", "updated_at"}),
		}).
		Create(entry).Error
}

func (r *videoCacheRepo) Delete(ctx context.Context, tx *gorm.DB, bvid string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("bvid = ?", bvid).
		Delete(&types.VideoCache{}).Error
}

func (r *videoCacheRepo) DeleteAll(ctx context.Context, tx *gorm.DB) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("1 = 1").
		Delete(&types.VideoCache{}).Error
}
