package repository

import (
	"context"
	"fmt"

	"Boombot/model"

	"gorm.io/gorm"
)

// HistoryRepository stores and lists handled song requests.
type HistoryRepository interface {
	Record(ctx context.Context, rec *model.RequestRecord) error
	Recent(ctx context.Context, limit int) ([]model.RequestRecord, error)
	ByRequester(ctx context.Context, requester string, limit int) ([]model.RequestRecord, error)
}

// gormHistoryRepository GORM implementation.
type gormHistoryRepository struct {
	db *gorm.DB
}

// NewGormHistoryRepository creates a GORM-backed history repository.
func NewGormHistoryRepository(db *gorm.DB) HistoryRepository {
	return &gormHistoryRepository{db: db}
}

// Record inserts rec.
func (r *gormHistoryRepository) Record(ctx context.Context, rec *model.RequestRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert request record: %w", err)
	}
	return nil
}

// Recent returns the newest records first.
func (r *gormHistoryRepository) Recent(ctx context.Context, limit int) ([]model.RequestRecord, error) {
	var records []model.RequestRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list request records: %w", err)
	}
	return records, nil
}

// ByRequester returns the newest records of one requester.
func (r *gormHistoryRepository) ByRequester(ctx context.Context, requester string, limit int) ([]model.RequestRecord, error) {
	var records []model.RequestRecord
	err := r.db.WithContext(ctx).
		Where("requester = ?", requester).
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list request records for %s: %w", requester, err)
	}
	return records, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 500:
		return 500
	}
	return limit
}
