package generate

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"

	"github.com/GautamJagannath/entrada/internal/cases"
	"github.com/GautamJagannath/entrada/internal/forms"
	"github.com/GautamJagannath/entrada/internal/render"
)

type stubRenderer struct {
	mu      sync.Mutex
	failFor map[forms.DocumentType]error
	calls   map[forms.DocumentType]map[string]string
}

func (s *stubRenderer) Render(_ context.Context, docType forms.DocumentType, values map[string]string) (render.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[forms.DocumentType]map[string]string)
	}
	s.calls[docType] = values
	if err := s.failFor[docType]; err != nil {
		return render.Result{}, err
	}
	return render.Result{Type: docType, Data: []byte("%PDF-" + docType.String()), Strategy: render.StrategySynthesized}, nil
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	puts    int
}

func (m *memoryCache) Get(_ context.Context, key CacheKey) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[key.String()]
	return data, ok, nil
}

func (m *memoryCache) Put(_ context.Context, key CacheKey, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string][]byte)
	}
	m.entries[key.String()] = data
	m.puts++
	return nil
}

func newTestMapper(t *testing.T) *forms.Mapper {
	t.Helper()
	catalog, err := forms.DefaultCatalog()
	require.NoError(t, err)
	mapper, err := forms.NewMapper(forms.MapperConfig{Catalog: catalog})
	require.NoError(t, err)
	return mapper
}

func scenarioCase() cases.Case {
	return cases.Case{
		ID:      "case-123",
		Owner:   "user-1",
		Version: 3,
		FormData: cases.FormData{
			"minor_name":    cases.StringValue("John Doe"),
			"minor_dob":     cases.StringValue("2010-05-15"),
			"guardian_name": cases.StringValue("Jane Smith"),
		},
	}
}

func TestGenerateToleratesPartialFailure(t *testing.T) {
	mapper := newTestMapper(t)
	renderer := &stubRenderer{failFor: map[forms.DocumentType]error{forms.GC220: errors.New("boom")}}
	core, logs := observer.New(zapcore.ErrorLevel)
	orchestrator, err := NewOrchestrator(Config{
		Mapper:   mapper,
		Renderer: renderer,
		Types:    mapper.Catalog().Types(),
		Logger:   zap.New(core),
	})
	require.NoError(t, err)

	bundle, err := orchestrator.Generate(context.Background(), scenarioCase())
	require.NoError(t, err)

	assert.Len(t, bundle.Documents, len(mapper.Catalog().Types())-1)
	assert.NotContains(t, bundle.Documents, forms.GC220)
	require.Len(t, bundle.Failures, 1)
	assert.Equal(t, forms.GC220, bundle.Failures[0].Type)
	assert.False(t, bundle.Complete())
	assert.Equal(t, "GC-210_case-123.pdf", bundle.Documents[forms.GC210].Name)
	assert.Equal(t, 1, logs.FilterMessage("document generation failed").Len())
}

func TestGenerateReturnsEmptyBundleWithoutData(t *testing.T) {
	mapper := newTestMapper(t)
	renderer := &stubRenderer{}
	orchestrator, err := NewOrchestrator(Config{Mapper: mapper, Renderer: renderer, Types: mapper.Catalog().Types()})
	require.NoError(t, err)

	bundle, err := orchestrator.Generate(context.Background(), cases.Case{ID: "case-empty"})
	require.NoError(t, err)

	assert.Empty(t, bundle.Documents)
	assert.Empty(t, bundle.Failures)
	assert.Empty(t, renderer.calls)
}

func TestGenerateDoesNotMutateCase(t *testing.T) {
	mapper := newTestMapper(t)
	orchestrator, err := NewOrchestrator(Config{Mapper: mapper, Renderer: &stubRenderer{}, Types: mapper.Catalog().Types()})
	require.NoError(t, err)
	record := scenarioCase()
	before, err := record.FormData.Serialize()
	require.NoError(t, err)

	_, err = orchestrator.Generate(context.Background(), record)
	require.NoError(t, err)

	after, err := record.FormData.Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	assert.Equal(t, int64(3), record.Version)
}

func TestGenerateServesRepeatedRequestsFromCache(t *testing.T) {
	mapper := newTestMapper(t)
	renderer := &stubRenderer{}
	cache := &memoryCache{}
	orchestrator, err := NewOrchestrator(Config{
		Mapper:   mapper,
		Renderer: renderer,
		Types:    []forms.DocumentType{forms.GC210, forms.GC020},
		Cache:    cache,
	})
	require.NoError(t, err)

	first, err := orchestrator.Generate(context.Background(), scenarioCase())
	require.NoError(t, err)
	renderer.calls = nil
	second, err := orchestrator.Generate(context.Background(), scenarioCase())
	require.NoError(t, err)

	assert.Equal(t, 2, cache.puts)
	assert.Empty(t, renderer.calls)
	assert.True(t, second.Documents[forms.GC210].Cached)
	assert.Equal(t, first.Documents[forms.GC210].Data, second.Documents[forms.GC210].Data)

	marked := scenarioCase()
	marked.Status = cases.StatusGenerated
	_, err = orchestrator.Generate(context.Background(), marked)
	require.NoError(t, err)
	assert.Empty(t, renderer.calls, "a status-only change keeps the cached documents")

	bumped := scenarioCase()
	bumped.Version++
	_, err = orchestrator.Generate(context.Background(), bumped)
	require.NoError(t, err)
	assert.Len(t, renderer.calls, 2)
}

func TestGenerateHonoursCancellation(t *testing.T) {
	mapper := newTestMapper(t)
	orchestrator, err := NewOrchestrator(Config{Mapper: mapper, Renderer: &stubRenderer{}, Types: mapper.Catalog().Types()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = orchestrator.Generate(ctx, scenarioCase())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerateRendersEveryCourtFormForScenario(t *testing.T) {
	mapper := newTestMapper(t)
	renderer, err := render.New(render.Config{Enabled: true, Catalog: mapper.Catalog()})
	require.NoError(t, err)
	orchestrator, err := NewOrchestrator(Config{Mapper: mapper, Renderer: renderer, Types: mapper.Catalog().Types(), Concurrency: 2})
	require.NoError(t, err)

	bundle, err := orchestrator.Generate(context.Background(), scenarioCase())
	require.NoError(t, err)

	assert.True(t, bundle.Complete())
	require.Len(t, bundle.Documents, 5)
	petition := bundle.Documents[forms.GC210]
	assert.True(t, bytes.HasPrefix(petition.Data, []byte("%PDF-")))
	assert.True(t, bytes.Contains(petition.Data, []byte("John Doe")))
}

func TestNewOrchestratorValidatesConfig(t *testing.T) {
	mapper := newTestMapper(t)
	_, err := NewOrchestrator(Config{Renderer: &stubRenderer{}, Types: []forms.DocumentType{forms.GC210}})
	assert.ErrorIs(t, err, errMissingMapper)
	_, err = NewOrchestrator(Config{Mapper: mapper, Types: []forms.DocumentType{forms.GC210}})
	assert.ErrorIs(t, err, errMissingRenderer)
	_, err = NewOrchestrator(Config{Mapper: mapper, Renderer: &stubRenderer{}})
	assert.ErrorIs(t, err, errMissingTypes)
}
