package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/types"
)

type FavoriteFolderRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, folders []*types.FavoriteFolder) error
	GetByMediaID(ctx context.Context, tx *gorm.DB, mediaID int64) (*types.FavoriteFolder, error)
	ListByMid(ctx context.Context, tx *gorm.DB, mid int64) ([]*types.FavoriteFolder, error)
	ListAll(ctx context.Context, tx *gorm.DB) ([]*types.FavoriteFolder, error)
	TouchLastSync(ctx context.Context, tx *gorm.DB, mediaID int64, at time.Time) error
	Delete(ctx context.Context, tx *gorm.DB, mediaID int64) error
}

type favoriteFolderRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFavoriteFolderRepo(db *gorm.DB, baseLog *logger.Logger) FavoriteFolderRepo {
	repoLog := baseLog.With("repo", "FavoriteFolderRepo")
	return &favoriteFolderRepo{db: db, log: repoLog}
}

func (r *favoriteFolderRepo) Upsert(ctx context.Context, tx *gorm.DB, folders []*types.FavoriteFolder) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(folders) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "media_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"fid", "mid", "title", "media_count", "updated_at"}),
		}).
		Create(folders).Error
}

func (r *favoriteFolderRepo) GetByMediaID(ctx context.Context, tx *gorm.DB, mediaID int64) (*types.FavoriteFolder, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var folder types.FavoriteFolder
	if err := transaction.WithContext(ctx).
		Where("media_id = ?", mediaID).
		First(&folder).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &folder, nil
}

func (r *favoriteFolderRepo) ListByMid(ctx context.Context, tx *gorm.DB, mid int64) ([]*types.FavoriteFolder, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var folders []*types.FavoriteFolder
	if err := transaction.WithContext(ctx).
		Where("mid = ?", mid).
		Order("media_id ASC").
		Find(&folders).Error; err != nil {
		return nil, err
	}
	return folders, nil
}

func (r *favoriteFolderRepo) ListAll(ctx context.Context, tx *gorm.DB) ([]*types.FavoriteFolder, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var folders []*types.FavoriteFolder
	if err := transaction.WithContext(ctx).
		Order("media_id ASC").
		Find(&folders).Error; err != nil {
		return nil, err
	}
	return folders, nil
}

func (r *favoriteFolderRepo) TouchLastSync(ctx context.Context, tx *gorm.DB, mediaID int64, at time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.FavoriteFolder{}).
		Where("media_id = ?", mediaID).
		Update("last_sync_at", at).Error
}

func (r *favoriteFolderRepo) Delete(ctx context.Context, tx *gorm.DB, mediaID int64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("media_id = ?", mediaID).
		Delete(&types.FavoriteFolder{}).Error
}
