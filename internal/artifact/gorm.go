package artifact

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/cipherdrop/cipherdrop/internal/common"
	"github.com/cipherdrop/cipherdrop/pkg/apperr"
	"github.com/cipherdrop/cipherdrop/pkg/types"
)

// GormStore persists artifact records in the relational database.
type GormStore struct {
	db *common.Database
}

// NewGormStore creates a database-backed artifact store.
func NewGormStore(db *common.Database) *GormStore {
	return &GormStore{db: db}
}

func (gs *GormStore) Create(ctx context.Context, rec *types.Artifact) error {
	err := gs.db.WithContext(ctx).Create(rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.New(apperr.KindConflict, "artifact %s already recorded", rec.FileID)
		}
		return apperr.Wrap(apperr.KindResource, err, "failed to record artifact %s", rec.FileID)
	}
	return nil
}

func (gs *GormStore) Get(ctx context.Context, fileID string) (*types.Artifact, error) {
	var rec types.Artifact
	err := gs.db.WithContext(ctx).First(&rec, "file_id = ?", fileID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "artifact %s not found", fileID)
		}
		return nil, apperr.Wrap(apperr.KindResource, err, "failed to load artifact %s", fileID)
	}
	return &rec, nil
}

func (gs *GormStore) Delete(ctx context.Context, fileID string) error {
	err := gs.db.WithContext(ctx).Delete(&types.Artifact{}, "file_id = ?", fileID).Error
	if err != nil {
		return apperr.Wrap(apperr.KindResource, err, "failed to delete artifact %s", fileID)
	}
	return nil
}

func (gs *GormStore) ListExpired(ctx context.Context, now time.Time) ([]*types.Artifact, error) {
	var recs []*types.Artifact
	err := gs.db.WithContext(ctx).Where("expires_at < ?", now).Find(&recs).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindResource, err, "failed to list expired artifacts")
	}
	return recs, nil
}
