package database

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GautamJagannath/entrada/internal/cases"
)

func openMigrationDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&cases.Case{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func seedCase(testContext *testing.T, database *gorm.DB, record cases.Case) {
	testContext.Helper()
	now := time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC)
	record.Version = 1
	record.CreatedAt = now
	record.UpdatedAt = now
	if err := database.Create(&record).Error; err != nil {
		testContext.Fatalf("failed to insert case: %v", err)
	}
}

func TestApplyMigrationsBackfillsAndPromotes(testContext *testing.T) {
	database := openMigrationDatabase(testContext)

	seedCase(testContext, database, cases.Case{
		ID:       "case-legacy",
		Owner:    "owner-1",
		Status:   cases.StatusDraft,
		FormData: cases.FormData{"minor_name": cases.StringValue("Maria Lopez")},
	})
	seedCase(testContext, database, cases.Case{
		ID:                   "case-complete",
		Owner:                "owner-1",
		Status:               cases.StatusDraft,
		FormData:             cases.FormData{},
		CompletionPercentage: 100,
		MinorName:            "Carlos Ruiz",
	})

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var legacy cases.Case
	if err := database.Where("case_id = ?", "case-legacy").Take(&legacy).Error; err != nil {
		testContext.Fatalf("failed to reload case: %v", err)
	}
	if legacy.MinorName != "Maria Lopez" || legacy.Status != cases.StatusDraft {
		testContext.Fatalf("unexpected legacy case: %+v", legacy)
	}

	var complete cases.Case
	if err := database.Where("case_id = ?", "case-complete").Take(&complete).Error; err != nil {
		testContext.Fatalf("failed to reload case: %v", err)
	}
	if complete.Status != cases.StatusReady {
		testContext.Fatalf("expected completed draft to be promoted, got %s", complete.Status)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migrations: %v", err)
	}
	if count != 2 {
		testContext.Fatalf("expected 2 migration records, got %d", count)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("re-applying migrations failed: %v", err)
	}
}

func TestOpenSQLiteKeepsProviderQualifiedOwners(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "entrada.db")
	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("OpenSQLite() error = %v", err)
	}
	seedCase(testContext, database, cases.Case{
		ID:       "case-google",
		Owner:    "google:12345",
		Status:   cases.StatusDraft,
		FormData: cases.FormData{},
	})
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("DB() error = %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		testContext.Fatalf("close error = %v", err)
	}

	reopened, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("reopen error = %v", err)
	}
	var stored cases.Case
	if err := reopened.Where("case_id = ?", "case-google").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload case: %v", err)
	}
	if stored.Owner != "google:12345" {
		testContext.Fatalf("expected provider-qualified owner to survive reopen, got %q", stored.Owner)
	}
}
