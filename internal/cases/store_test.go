package cases

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestGormStoreUpdateProgressPromotesDraftAtFullCompletion(t *testing.T) {
	store, err := NewGormStore(openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	createdAt := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	record := Case{
		ID:        "case-1",
		Owner:     "owner@example.com",
		Status:    StatusDraft,
		FormData:  FormData{},
		Version:   1,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := store.Insert(context.Background(), record); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	partial, err := store.UpdateProgress(context.Background(), "case-1", Progress{
		FormData:             FormData{"minor_name": StringValue("Lucia")},
		CompletionPercentage: 40,
		UpdatedAt:            createdAt.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("partial update failed: %v", err)
	}
	if partial.Status != StatusDraft || partial.Version != 2 || partial.MinorName != "Lucia" {
		t.Fatalf("unexpected partial state: %#v", partial)
	}

	full, err := store.UpdateProgress(context.Background(), "case-1", Progress{
		FormData:             FormData{"minor_name": StringValue("Lucia"), "minor_dob": StringValue("2012-01-01")},
		CompletionPercentage: 100,
		UpdatedAt:            createdAt.Add(2 * time.Minute),
	})
	if err != nil {
		t.Fatalf("full update failed: %v", err)
	}
	if full.Status != StatusReady {
		t.Fatalf("expected ready status, got %s", full.Status)
	}
	if full.Version != 3 {
		t.Fatalf("expected version 3, got %d", full.Version)
	}
	if !full.UpdatedAt.Equal(createdAt.Add(2 * time.Minute)) {
		t.Fatalf("unexpected updated_at: %v", full.UpdatedAt)
	}
	if got := full.FormData.Get("minor_dob").Display(); got != "2012-01-01" {
		t.Fatalf("unexpected stored dob: %q", got)
	}
}

func TestGormStoreUpdateProgressKeepsGeneratedStatus(t *testing.T) {
	store, err := NewGormStore(openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	now := time.Now().UTC()
	if err := store.Insert(context.Background(), Case{
		ID: "case-2", Owner: "owner@example.com", Status: StatusGenerated,
		FormData: FormData{}, Version: 1, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	updated, err := store.UpdateProgress(context.Background(), "case-2", Progress{
		FormData: FormData{"minor_name": StringValue("x")}, CompletionPercentage: 100, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Status != StatusGenerated {
		t.Fatalf("expected generated status to survive, got %s", updated.Status)
	}
}

func TestGormStoreMissingRows(t *testing.T) {
	store, err := NewGormStore(openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrCaseNotFound) {
		t.Fatalf("get: expected not found, got %v", err)
	}
	if err := store.Save(context.Background(), Case{ID: "missing"}); !errors.Is(err, ErrCaseNotFound) {
		t.Fatalf("save: expected not found, got %v", err)
	}
	if err := store.UpdateStatus(context.Background(), "missing", StatusGenerated, time.Now()); !errors.Is(err, ErrCaseNotFound) {
		t.Fatalf("update status: expected not found, got %v", err)
	}
	if _, err := store.UpdateProgress(context.Background(), "missing", Progress{}); !errors.Is(err, ErrCaseNotFound) {
		t.Fatalf("update progress: expected not found, got %v", err)
	}
	if err := store.Delete(context.Background(), "missing"); !errors.Is(err, ErrCaseNotFound) {
		t.Fatalf("delete: expected not found, got %v", err)
	}
}

func TestGormStoreSaveRejectsStaleVersion(t *testing.T) {
	store, err := NewGormStore(openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	original := Case{
		ID: "case-3", Owner: "owner@example.com", Status: StatusDraft,
		FormData: FormData{}, Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.Insert(context.Background(), original); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	first := original
	first.FormData = FormData{"minor_name": StringValue("First")}
	if err := store.Save(context.Background(), first); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	second := original
	second.FormData = FormData{"minor_name": StringValue("Second")}
	if err := store.Save(context.Background(), second); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale save: expected version conflict, got %v", err)
	}

	stored, err := store.Get(context.Background(), "case-3")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Version != 2 || stored.MinorName != "First" {
		t.Fatalf("unexpected stored case: version %d, minor %q", stored.Version, stored.MinorName)
	}
}

func TestGormStoreCutsMinorNameToColumnWidth(t *testing.T) {
	store, err := NewGormStore(openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := store.Insert(context.Background(), Case{
		ID: "case-4", Owner: "owner@example.com", Status: StatusDraft,
		FormData: FormData{}, Version: 1, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	longName := strings.Repeat("José ", 100)

	updated, err := store.UpdateProgress(context.Background(), "case-4", Progress{
		FormData:  FormData{"minor_name": StringValue(longName)},
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if count := utf8.RuneCountInString(updated.MinorName); count > MaxMinorNameLength {
		t.Fatalf("minor name has %d characters, limit %d", count, MaxMinorNameLength)
	}
	if !utf8.ValidString(updated.MinorName) || !strings.HasPrefix(longName, updated.MinorName) {
		t.Fatalf("minor name is not a clean prefix: %q", updated.MinorName)
	}
	if got := updated.FormData.Get("minor_name").Display(); got != longName {
		t.Fatalf("form data must keep the full name, got %d characters", utf8.RuneCountInString(got))
	}
}
