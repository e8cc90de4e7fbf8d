package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"hub-activity-backend/internal/model"
)

// SampleStore defines the persistence operations over activity samples.
type SampleStore interface {
	// RecordSample inserts the sample and deletes the same tenant's samples
	// older than cutoff in one transaction. It returns the number pruned.
	RecordSample(ctx context.Context, sample *model.ActivitySample, cutoff time.Time) (int64, error)
	SamplesSince(ctx context.Context, username string, cutoff time.Time) ([]model.ActivitySample, error)
	Counts(ctx context.Context) (samples int64, users int64, err error)
	Usernames(ctx context.Context) ([]string, error)
	Rename(ctx context.Context, oldName, newName string) (int64, error)
	DeleteUser(ctx context.Context, username string) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// gormSampleStore implements SampleStore using GORM.
type gormSampleStore struct {
	db *gorm.DB
}

// NewGormSampleStore creates a new GORM-backed sample store.
func NewGormSampleStore(db *gorm.DB) SampleStore {
	return &gormSampleStore{db: db}
}

func (s *gormSampleStore) RecordSample(ctx context.Context, sample *model.ActivitySample, cutoff time.Time) (int64, error) {
	var pruned int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sample).Error; err != nil {
			return fmt.Errorf("failed to insert sample for %s: %w", sample.Username, err)
		}

		res := tx.Where("username = ? AND timestamp < ?", sample.Username, cutoff).Delete(&model.ActivitySample{})
		if res.Error != nil {
			return fmt.Errorf("failed to prune samples for %s: %w", sample.Username, res.Error)
		}
		pruned = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pruned, nil
}

func (s *gormSampleStore) SamplesSince(ctx context.Context, username string, cutoff time.Time) ([]model.ActivitySample, error) {
	var samples []model.ActivitySample
	err := s.db.WithContext(ctx).
		Where("username = ? AND timestamp >= ?", username, cutoff).
		Order("timestamp").
		Find(&samples).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query samples for %s: %w", username, err)
	}
	return samples, nil
}

func (s *gormSampleStore) Counts(ctx context.Context) (int64, int64, error) {
	var row struct {
		Samples int64
		Users   int64
	}
	err := s.db.WithContext(ctx).
		Model(&model.ActivitySample{}).
		Select("COUNT(id) AS samples, COUNT(DISTINCT username) AS users").
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count samples: %w", err)
	}
	return row.Samples, row.Users, nil
}

func (s *gormSampleStore) Usernames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&model.ActivitySample{}).
		Distinct().
		Order("username").
		Pluck("username", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sampled users: %w", err)
	}
	return names, nil
}

func (s *gormSampleStore) Rename(ctx context.Context, oldName, newName string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ActivitySample{}).
			Where("username = ?", oldName).
			Update("username", newName)
		if res.Error != nil {
			return fmt.Errorf("failed to rename samples %s -> %s: %w", oldName, newName, res.Error)
		}
		count = res.RowsAffected
		return nil
	})
	return count, err
}

func (s *gormSampleStore) DeleteUser(ctx context.Context, username string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("username = ?", username).Delete(&model.ActivitySample{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete samples for %s: %w", username, res.Error)
		}
		count = res.RowsAffected
		return nil
	})
	return count, err
}

func (s *gormSampleStore) DeleteAll(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.ActivitySample{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete all samples: %w", res.Error)
		}
		count = res.RowsAffected
		return nil
	})
	return count, err
}

func (s *gormSampleStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("timestamp < ?", cutoff).Delete(&model.ActivitySample{})
		if res.Error != nil {
			return fmt.Errorf("failed to prune samples: %w", res.Error)
		}
		count = res.RowsAffected
		return nil
	})
	return count, err
}
