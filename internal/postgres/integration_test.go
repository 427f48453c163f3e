package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/GautamJagannath/entrada/internal/cases"
	"github.com/GautamJagannath/entrada/internal/completion"
)

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// setupTestDatabase starts one PostgreSQL container per test run and applies migrations.
func setupTestDatabase(t *testing.T) *CaseStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	containerOnce.Do(func() {
		containerDSN, containerErr = startContainerAndMigrate()
	})
	if containerErr != nil {
		t.Fatalf("failed to set up PostgreSQL: %v", containerErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := NewPool(ctx, PoolConfig{DSN: containerDSN, MaxConns: 4})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "TRUNCATE cases"); err != nil {
		t.Fatalf("truncate cases: %v", err)
	}

	store, err := NewCaseStore(pool)
	if err != nil {
		t.Fatalf("NewCaseStore() error = %v", err)
	}
	return store
}

func startContainerAndMigrate() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	request := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "entrada",
			"POSTGRES_PASSWORD": "entrada",
			"POSTGRES_DB":       "entrada",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: request,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", fmt.Errorf("container port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://entrada:entrada@%s:%s/entrada?sslmode=disable", host, port.Port())
	if err := Migrate(ctx, dsn, nil); err != nil {
		return "", err
	}
	return dsn, nil
}

func TestCaseLifecycleAgainstPostgres(t *testing.T) {
	store := setupTestDatabase(t)
	ctx := context.Background()
	service, err := cases.NewService(cases.ServiceConfig{
		Store:      store,
		IDProvider: cases.NewUUIDProvider(),
		Estimator:  completion.NewEstimator(3),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	created, err := service.Create(ctx, "owner@example.com", cases.FormData{"minor_name": cases.StringValue("John Doe")})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err = service.WriteProgress(ctx, created.ID, cases.Progress{
		FormData: cases.FormData{
			"minor_name":    cases.StringValue("John Doe"),
			"minor_dob":     cases.StringValue("2010-05-15"),
			"guardian_name": cases.StringValue("Jane Smith"),
		},
		UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("WriteProgress() error = %v", err)
	}

	stored, err := service.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.CompletionPercentage != 100 || stored.Status != cases.StatusReady || stored.Version != 2 {
		t.Fatalf("stored case = %+v", stored)
	}

	listed, err := service.List(ctx, "owner@example.com")
	if err != nil || len(listed) != 1 {
		t.Fatalf("List() = %d records, error = %v", len(listed), err)
	}

	if err := service.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := service.Get(ctx, created.ID); !errors.Is(err, cases.ErrCaseNotFound) {
		t.Fatalf("Get() after delete error = %v", err)
	}
}

func TestCaseStoreBoundsMinorNameAgainstPostgres(t *testing.T) {
	store := setupTestDatabase(t)
	ctx := context.Background()
	service, err := cases.NewService(cases.ServiceConfig{
		Store:      store,
		IDProvider: cases.NewUUIDProvider(),
		Estimator:  completion.NewEstimator(95),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	longName := strings.Repeat("Ñ", cases.MaxMinorNameLength+80)

	created, err := service.Create(ctx, "owner@example.com", cases.FormData{"minor_name": cases.StringValue(longName)})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := service.WriteProgress(ctx, created.ID, cases.Progress{
		FormData: cases.FormData{"minor_name": cases.StringValue(longName + "x")},
	}); err != nil {
		t.Fatalf("WriteProgress() error = %v", err)
	}
	updated, err := service.Update(ctx, created.ID, cases.Update{
		Fields: cases.FormData{"minor_name": cases.StringValue(longName + "y")},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	stored, err := service.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.MinorName != strings.Repeat("Ñ", cases.MaxMinorNameLength) {
		t.Fatalf("stored minor name has %d characters", len([]rune(stored.MinorName)))
	}
	if stored.Version != 3 || updated.Version != stored.Version {
		t.Fatalf("versions: stored %d, returned %d", stored.Version, updated.Version)
	}
}

func TestCaseStoreSaveConflictsAgainstPostgres(t *testing.T) {
	store := setupTestDatabase(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	record := cases.Case{
		ID: "case-conflict", Owner: "owner@example.com", Status: cases.StatusDraft,
		FormData: cases.FormData{}, Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.Insert(ctx, record); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if _, err := store.UpdateProgress(ctx, record.ID, cases.Progress{
		FormData: cases.FormData{"minor_name": cases.StringValue("Autosaved")}, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	record.FormData = cases.FormData{"minor_name": cases.StringValue("Stale")}
	if err := store.Save(ctx, record); !errors.Is(err, cases.ErrVersionConflict) {
		t.Fatalf("Save() error = %v, want ErrVersionConflict", err)
	}
	stored, err := store.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.MinorName != "Autosaved" || stored.Version != 2 {
		t.Fatalf("stored case = %+v", stored)
	}
}
