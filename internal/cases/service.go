package cases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("case store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingEstimator  = errors.New("completion estimator is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "cases.service.new"
	opCreate         = "cases.create"
	opGet            = "cases.get"
	opUpdate         = "cases.update"
	opWriteProgress  = "cases.write_progress"
	opList           = "cases.list"
	opDelete         = "cases.delete"
	opMarkGenerated  = "cases.mark_generated"
	reasonNotFound   = "not_found"
	reasonNotOwner   = "not_owner"
	reasonBadCaseID  = "invalid_case_id"
	reasonStoreError = "store_failed"
	reasonConflict   = "version_conflict"

	maxUpdateAttempts = 3
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// CompletionEstimator derives the completion percentage of a form-data record.
type CompletionEstimator interface {
	Estimate(data FormData) int
}

type IDProvider interface {
	NewID() (string, error)
}

type ServiceConfig struct {
	Store      Store
	Clock      func() time.Time
	IDProvider IDProvider
	Estimator  CompletionEstimator
	Logger     *zap.Logger
}

// Service owns the case lifecycle on top of a Store.
type Service struct {
	store      Store
	clock      func() time.Time
	idProvider IDProvider
	estimator  CompletionEstimator
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Estimator == nil {
		return nil, newServiceError(opServiceNew, "missing_estimator", errMissingEstimator)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		estimator:  cfg.Estimator,
		logger:     logger,
	}, nil
}

// Create registers a new draft case for the owner.
func (s *Service) Create(ctx context.Context, owner string, initial FormData) (Case, error) {
	validOwner, err := validateOwner(owner)
	if err != nil {
		return Case{}, newServiceError(opCreate, "invalid_owner", err)
	}
	caseID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("owner", validOwner))
		return Case{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	data := initial.Clone()
	completion := s.estimator.Estimate(data)
	now := s.clock().UTC()
	record := Case{
		ID:                   caseID,
		Owner:                validOwner,
		Status:               NextStatus(StatusDraft, completion),
		FormData:             data,
		CompletionPercentage: completion,
		MinorName:            MinorNameOf(data),
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.Insert(ctx, record); err != nil {
		s.logError(opCreate, reasonStoreError, err, zap.String("case_id", caseID))
		return Case{}, newServiceError(opCreate, reasonStoreError, err)
	}
	return record, nil
}

// Get returns the case or an error wrapping ErrCaseNotFound.
func (s *Service) Get(ctx context.Context, caseID string) (Case, error) {
	return s.get(ctx, opGet, caseID)
}

// GetOwned returns the case only when it belongs to owner; other owners see ErrCaseNotFound.
func (s *Service) GetOwned(ctx context.Context, owner, caseID string) (Case, error) {
	record, err := s.get(ctx, opGet, caseID)
	if err != nil {
		return Case{}, err
	}
	if record.Owner != owner {
		return Case{}, newServiceError(opGet, reasonNotOwner, ErrCaseNotFound)
	}
	return record, nil
}

// Update describes an explicit bulk update. Fields are merged into the stored form data.
type Update struct {
	Fields FormData
	Status *Status
}

// Update applies a bulk update outside the auto-save path. A concurrent write
// between the read and the save makes Update re-read and merge again, up to
// maxUpdateAttempts times.
func (s *Service) Update(ctx context.Context, caseID string, update Update) (Case, error) {
	for attempt := 1; ; attempt++ {
		record, err := s.get(ctx, opUpdate, caseID)
		if err != nil {
			return Case{}, err
		}

		data := record.FormData.Clone()
		data.Merge(update.Fields)
		record.FormData = data
		record.CompletionPercentage = s.estimator.Estimate(data)
		record.MinorName = MinorNameOf(data)
		if update.Status != nil {
			record.Status = *update.Status
		}
		record.Status = NextStatus(record.Status, record.CompletionPercentage)
		record.UpdatedAt = s.clock().UTC()

		err = s.store.Save(ctx, record)
		if err == nil {
			record.Version++
			return record, nil
		}
		if errors.Is(err, ErrVersionConflict) && attempt < maxUpdateAttempts {
			s.loggerOrDefault().Debug("case changed during update; retrying",
				zap.String("case_id", record.ID),
				zap.Int64("read_version", record.Version),
				zap.Int("attempt", attempt))
			continue
		}
		return Case{}, s.storeFailure(opUpdate, caseID, err)
	}
}

// WriteProgress persists an auto-save snapshot as one atomic write.
func (s *Service) WriteProgress(ctx context.Context, caseID string, progress Progress) error {
	validID, err := ValidateCaseID(caseID)
	if err != nil {
		return newServiceError(opWriteProgress, reasonBadCaseID, err)
	}
	progress.FormData = progress.FormData.Clone()
	progress.CompletionPercentage = s.estimator.Estimate(progress.FormData)
	if progress.UpdatedAt.IsZero() {
		progress.UpdatedAt = s.clock()
	}
	progress.UpdatedAt = progress.UpdatedAt.UTC()

	if _, err := s.store.UpdateProgress(ctx, validID, progress); err != nil {
		return s.storeFailure(opWriteProgress, validID, err)
	}
	return nil
}

// List returns the owner's cases, most recently updated first.
func (s *Service) List(ctx context.Context, owner string) ([]Case, error) {
	validOwner, err := validateOwner(owner)
	if err != nil {
		return nil, newServiceError(opList, "invalid_owner", err)
	}
	records, err := s.store.ListByOwner(ctx, validOwner)
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("owner", validOwner))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return records, nil
}

// Delete removes the case permanently.
func (s *Service) Delete(ctx context.Context, caseID string) error {
	validID, err := ValidateCaseID(caseID)
	if err != nil {
		return newServiceError(opDelete, reasonBadCaseID, err)
	}
	if err := s.store.Delete(ctx, validID); err != nil {
		return s.storeFailure(opDelete, validID, err)
	}
	return nil
}

// MarkGenerated records a complete document generation pass. Only the status
// changes; the version keeps identifying the form data that was rendered.
func (s *Service) MarkGenerated(ctx context.Context, caseID string) (Case, error) {
	record, err := s.get(ctx, opMarkGenerated, caseID)
	if err != nil {
		return Case{}, err
	}
	if record.Status == StatusGenerated {
		return record, nil
	}
	now := s.clock().UTC()
	if err := s.store.UpdateStatus(ctx, record.ID, StatusGenerated, now); err != nil {
		return Case{}, s.storeFailure(opMarkGenerated, caseID, err)
	}
	record.Status = StatusGenerated
	record.UpdatedAt = now
	return record, nil
}

func (s *Service) get(ctx context.Context, operation, caseID string) (Case, error) {
	validID, err := ValidateCaseID(caseID)
	if err != nil {
		return Case{}, newServiceError(operation, reasonBadCaseID, err)
	}
	record, err := s.store.Get(ctx, validID)
	if err != nil {
		return Case{}, s.storeFailure(operation, validID, err)
	}
	return record, nil
}

func (s *Service) storeFailure(operation, caseID string, err error) error {
	if errors.Is(err, ErrCaseNotFound) {
		return newServiceError(operation, reasonNotFound, err)
	}
	if errors.Is(err, ErrVersionConflict) {
		s.loggerOrDefault().Warn("case kept changing during update",
			zap.String("operation", operation),
			zap.String("case_id", caseID))
		return newServiceError(operation, reasonConflict, err)
	}
	s.logError(operation, reasonStoreError, err, zap.String("case_id", caseID))
	return newServiceError(operation, reasonStoreError, err)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("cases service error", attrs...)
}
