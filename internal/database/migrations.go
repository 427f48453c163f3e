package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GautamJagannath/entrada/internal/cases"
)

const (
	migrationBackfillMinorNames = "2025-02-10_backfill_case_minor_names"
	migrationPromoteReadyCases  = "2025-03-04_promote_completed_drafts"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillMinorNames, apply: backfillMinorNames},
		{name: migrationPromoteReadyCases, apply: promoteCompletedDrafts},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillMinorNames mirrors minor_name out of form_data for rows written
// before the column existed.
func backfillMinorNames(db *gorm.DB) error {
	var records []cases.Case
	if err := db.Where("minor_name = ?", "").Find(&records).Error; err != nil {
		return err
	}
	for _, record := range records {
		name := cases.MinorNameOf(record.FormData)
		if name == "" {
			continue
		}
		err := db.Model(&cases.Case{}).
			Where("case_id = ?", record.ID).
			Update("minor_name", name).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func promoteCompletedDrafts(db *gorm.DB) error {
	return db.Model(&cases.Case{}).
		Where("status = ? AND completion_percentage >= ?", cases.StatusDraft, 100).
		Update("status", cases.StatusReady).Error
}
