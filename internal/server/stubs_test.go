package server

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GautamJagannath/entrada/internal/auth"
	"github.com/GautamJagannath/entrada/internal/autosave"
	"github.com/GautamJagannath/entrada/internal/cases"
	"github.com/GautamJagannath/entrada/internal/generate"
	"github.com/GautamJagannath/entrada/internal/render"
)

const testOwner = "owner-1"

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

type stubOwnerResolver struct {
	owner string
	err   error
}

func (s stubOwnerResolver) ResolveOwner(context.Context, auth.SessionClaims) (string, error) {
	return s.owner, s.err
}

type stubCaseService struct {
	mu        sync.Mutex
	records   map[string]cases.Case
	err       error
	updates   []cases.Update
	deleted   []string
	generated []string
}

func newStubCaseService(records ...cases.Case) *stubCaseService {
	service := &stubCaseService{records: make(map[string]cases.Case)}
	for _, record := range records {
		service.records[record.ID] = record
	}
	return service
}

func (s *stubCaseService) Create(_ context.Context, owner string, initial cases.FormData) (cases.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return cases.Case{}, s.err
	}
	record := cases.Case{ID: "case-new", Owner: owner, Status: cases.StatusDraft, FormData: initial.Clone(), Version: 1}
	s.records[record.ID] = record
	return record, nil
}

func (s *stubCaseService) GetOwned(_ context.Context, owner, caseID string) (cases.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return cases.Case{}, s.err
	}
	record, ok := s.records[caseID]
	if !ok || record.Owner != owner {
		return cases.Case{}, cases.ErrCaseNotFound
	}
	return record, nil
}

func (s *stubCaseService) Update(_ context.Context, caseID string, update cases.Update) (cases.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
	record := s.records[caseID]
	record.FormData = record.FormData.Clone()
	record.FormData.Merge(update.Fields)
	if update.Status != nil {
		record.Status = *update.Status
	}
	record.Version++
	s.records[caseID] = record
	return record, nil
}

func (s *stubCaseService) List(_ context.Context, owner string) ([]cases.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var records []cases.Case
	for _, record := range s.records {
		if record.Owner == owner {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *stubCaseService) Delete(_ context.Context, caseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, caseID)
	delete(s.records, caseID)
	return nil
}

func (s *stubCaseService) MarkGenerated(_ context.Context, caseID string) (cases.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generated = append(s.generated, caseID)
	record := s.records[caseID]
	record.Status = cases.StatusGenerated
	s.records[caseID] = record
	return record, nil
}

type stubAutosave struct {
	mu     sync.Mutex
	edits  []cases.FormData
	keys   []autosave.SessionKey
	closed []string
	status autosave.Status
	err    error
}

func (s *stubAutosave) Edit(_ context.Context, _ string, key autosave.SessionKey, fields cases.FormData) (autosave.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.keys = append(s.keys, key)
	s.edits = append(s.edits, fields)
	return autosave.StatePendingSave, nil
}

func (s *stubAutosave) SaveNow(_ context.Context, _ string, key autosave.SessionKey) (autosave.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.keys = append(s.keys, key)
	return s.status, nil
}

func (s *stubAutosave) CloseCase(caseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, caseID)
}

type stubGenerator struct {
	bundle generate.Bundle
	err    error
	calls  int
}

func (s *stubGenerator) Generate(context.Context, cases.Case) (generate.Bundle, error) {
	s.calls++
	return s.bundle, s.err
}

type stubRenderer struct {
	status render.Status
}

func (s stubRenderer) Status() render.Status {
	return s.status
}

type handlerFixture struct {
	cases     *stubCaseService
	autosave  *stubAutosave
	generator *stubGenerator
	renderer  *stubRenderer
	origins   []string
	logger    *zap.Logger
}

func newHandlerFixture(records ...cases.Case) *handlerFixture {
	return &handlerFixture{
		cases:     newStubCaseService(records...),
		autosave:  &stubAutosave{status: autosave.StatusSaved},
		generator: &stubGenerator{},
		renderer:  &stubRenderer{status: render.Status{Configured: true, Message: "ready"}},
		logger:    zap.NewNop(),
	}
}

func (f *handlerFixture) handler(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: stubSessionValidator{claims: auth.SessionClaims{UserID: testOwner}},
		Owners:           stubOwnerResolver{owner: testOwner},
		Cases:            f.cases,
		Autosave:         f.autosave,
		Generator:        f.generator,
		Renderer:         f.renderer,
		AllowedOrigins:   f.origins,
		Logger:           f.logger,
	})
	if err != nil {
		t.Fatalf("NewHTTPHandler() error = %v", err)
	}
	return handler
}
