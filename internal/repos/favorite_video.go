package repos

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/types"
)

type FavoriteVideoRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, videos []*types.FavoriteVideo) error
	ListByMediaID(ctx context.Context, tx *gorm.DB, mediaID int64) ([]*types.FavoriteVideo, error)
	DeleteByMediaIDAndBvids(ctx context.Context, tx *gorm.DB, mediaID int64, bvids []string) error
	DeleteByMediaID(ctx context.Context, tx *gorm.DB, mediaID int64) error
	// CountInOtherFolders reports how many folders besides mediaID still
	// contain bvid. Used to decide whether removal may purge vectors.
	CountInOtherFolders(ctx context.Context, tx *gorm.DB, mediaID int64, bvid string) (int64, error)
	DeleteAll(ctx context.Context, tx *gorm.DB) error
}

type favoriteVideoRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFavoriteVideoRepo(db *gorm.DB, baseLog *logger.Logger) FavoriteVideoRepo {
	repoLog := baseLog.With("repo", "FavoriteVideoRepo")
	return &favoriteVideoRepo{db: db, log: repoLog}
}

func (r *favoriteVideoRepo) Upsert(ctx context.Context, tx *gorm.DB, videos []*types.FavoriteVideo) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(videos) == 0 {
		return nil
	}
	const batchSize = 200
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "media_id"}, {Name: "bvid"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "author", "attr", "updated_at"}),
		}).
		CreateInBatches(videos, batchSize).Error
}

func (r *favoriteVideoRepo) ListByMediaID(ctx context.Context, tx *gorm.DB, mediaID int64) ([]*types.FavoriteVideo, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var videos []*types.FavoriteVideo
	if err := transaction.WithContext(ctx).
		Where("media_id = ?", mediaID).
		Order("bvid ASC").
		Find(&videos).Error; err != nil {
		return nil, err
	}
	return videos, nil
}

func (r *favoriteVideoRepo) DeleteByMediaIDAndBvids(ctx context.Context, tx *gorm.DB, mediaID int64, bvids []string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(bvids) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("media_id = ? AND bvid IN ?", mediaID, bvids).
		Delete(&types.FavoriteVideo{}).Error
}

func (r *favoriteVideoRepo) DeleteByMediaID(ctx context.Context, tx *gorm.DB, mediaID int64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("media_id = ?", mediaID).
		Delete(&types.FavoriteVideo{}).Error
}

func (r *favoriteVideoRepo) CountInOtherFolders(ctx context.Context, tx *gorm.DB, mediaID int64, bvid string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.FavoriteVideo{}).
		Where("bvid = ? AND media_id <> ?", bvid, mediaID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *favoriteVideoRepo) DeleteAll(ctx context.Context, tx *gorm.DB) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("1 = 1").
		Delete(&types.FavoriteVideo{}).Error
}
