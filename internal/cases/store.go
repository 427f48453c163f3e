package cases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Store persists case records. Every method is a single atomic row operation.
//
// Save writes record only while the stored version still equals
// record.Version, and advances the stored version by one. A stale record
// yields ErrVersionConflict. UpdateStatus changes the lifecycle status alone
// and leaves the version untouched.
type Store interface {
	Insert(ctx context.Context, record Case) error
	Get(ctx context.Context, caseID string) (Case, error)
	Save(ctx context.Context, record Case) error
	UpdateStatus(ctx context.Context, caseID string, status Status, updatedAt time.Time) error
	UpdateProgress(ctx context.Context, caseID string, progress Progress) (Case, error)
	ListByOwner(ctx context.Context, owner string) ([]Case, error)
	Delete(ctx context.Context, caseID string) error
}

var errMissingStoreDatabase = errors.New("cases: database handle is required")

// GormStore keeps cases in a GORM-managed SQL table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open GORM handle whose schema includes Case.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingStoreDatabase
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Insert(ctx context.Context, record Case) error {
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("insert case %s: %w", record.ID, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, caseID string) (Case, error) {
	var record Case
	err := s.db.WithContext(ctx).Where("case_id = ?", caseID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Case{}, ErrCaseNotFound
	}
	if err != nil {
		return Case{}, fmt.Errorf("select case %s: %w", caseID, err)
	}
	if record.FormData == nil {
		record.FormData = FormData{}
	}
	return record, nil
}

func (s *GormStore) Save(ctx context.Context, record Case) error {
	result := s.db.WithContext(ctx).
		Model(&Case{}).
		Where("case_id = ? AND version = ?", record.ID, record.Version).
		Updates(map[string]any{
			"status":                string(record.Status),
			"form_data":             record.FormData,
			"completion_percentage": record.CompletionPercentage,
			"minor_name":            MinorNameOf(record.FormData),
			"version":               gorm.Expr("version + 1"),
			"updated_at":            record.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update case %s: %w", record.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return s.missingOrConflict(ctx, record.ID)
	}
	return nil
}

func (s *GormStore) UpdateStatus(ctx context.Context, caseID string, status Status, updatedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&Case{}).
		Where("case_id = ?", caseID).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": updatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update status of case %s: %w", caseID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCaseNotFound
	}
	return nil
}

func (s *GormStore) missingOrConflict(ctx context.Context, caseID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Case{}).Where("case_id = ?", caseID).Count(&count).Error; err != nil {
		return fmt.Errorf("count case %s: %w", caseID, err)
	}
	if count == 0 {
		return ErrCaseNotFound
	}
	return fmt.Errorf("case %s: %w", caseID, ErrVersionConflict)
}

func (s *GormStore) UpdateProgress(ctx context.Context, caseID string, progress Progress) (Case, error) {
	var updated Case
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Case{}).
			Where("case_id = ?", caseID).
			Updates(map[string]any{
				"form_data":             progress.FormData,
				"completion_percentage": progress.CompletionPercentage,
				"minor_name":            MinorNameOf(progress.FormData),
				"updated_at":            progress.UpdatedAt,
				"version":               gorm.Expr("version + 1"),
				"status": gorm.Expr("CASE WHEN status = ? AND ? >= 100 THEN ? ELSE status END",
					string(StatusDraft), progress.CompletionPercentage, string(StatusReady)),
			})
		if result.Error != nil {
			return fmt.Errorf("update progress for case %s: %w", caseID, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrCaseNotFound
		}
		if err := tx.Where("case_id = ?", caseID).Take(&updated).Error; err != nil {
			return fmt.Errorf("reload case %s: %w", caseID, err)
		}
		return nil
	})
	if err != nil {
		return Case{}, err
	}
	return updated, nil
}

func (s *GormStore) ListByOwner(ctx context.Context, owner string) ([]Case, error) {
	var records []Case
	if err := s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("updated_at DESC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list cases for %s: %w", owner, err)
	}
	return records, nil
}

func (s *GormStore) Delete(ctx context.Context, caseID string) error {
	result := s.db.WithContext(ctx).Where("case_id = ?", caseID).Delete(&Case{})
	if result.Error != nil {
		return fmt.Errorf("delete case %s: %w", caseID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCaseNotFound
	}
	return nil
}
