// Package generate renders the full set of court documents for a case.
package generate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GautamJagannath/entrada/internal/cases"
	"github.com/GautamJagannath/entrada/internal/forms"
	"github.com/GautamJagannath/entrada/internal/render"
)

const defaultConcurrency = 4

var (
	errMissingMapper   = errors.New("generate: field mapper is required")
	errMissingRenderer = errors.New("generate: renderer is required")
	errMissingTypes    = errors.New("generate: at least one document type is required")
)

// FieldMapper projects case answers onto one document's field vocabulary.
type FieldMapper interface {
	MapFields(docType forms.DocumentType, data cases.FormData) map[string]string
}

// DocumentRenderer produces a PDF for one document type.
type DocumentRenderer interface {
	Render(ctx context.Context, docType forms.DocumentType, values map[string]string) (render.Result, error)
}

// CacheKey addresses one rendered document of one case version.
type CacheKey struct {
	CaseID  string
	Version int64
	Type    forms.DocumentType
}

func (k CacheKey) String() string {
	return fmt.Sprintf("entrada:document:%s:%d:%s", k.CaseID, k.Version, k.Type)
}

// DocumentCache stores rendered documents between generation requests.
type DocumentCache interface {
	Get(ctx context.Context, key CacheKey) ([]byte, bool, error)
	Put(ctx context.Context, key CacheKey, data []byte) error
}

type Config struct {
	Mapper      FieldMapper
	Renderer    DocumentRenderer
	Types       []forms.DocumentType
	Concurrency int
	Cache       DocumentCache
	Logger      *zap.Logger
}

// Document is one rendered court form.
type Document struct {
	Type     forms.DocumentType
	Name     string
	Data     []byte
	Strategy render.Strategy
	Cached   bool
}

// Failure records a document type that could not be produced.
type Failure struct {
	Type forms.DocumentType
	Err  error
}

// Bundle is the outcome of one generation pass. Partial results are expected.
type Bundle struct {
	Documents map[forms.DocumentType]Document
	Failures  []Failure
}

// Complete reports whether every requested document was produced.
func (b Bundle) Complete() bool {
	return len(b.Documents) > 0 && len(b.Failures) == 0
}

// Orchestrator renders every configured document type for a case.
type Orchestrator struct {
	mapper      FieldMapper
	renderer    DocumentRenderer
	types       []forms.DocumentType
	concurrency int
	cache       DocumentCache
	logger      *zap.Logger
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Mapper == nil {
		return nil, errMissingMapper
	}
	if cfg.Renderer == nil {
		return nil, errMissingRenderer
	}
	if len(cfg.Types) == 0 {
		return nil, errMissingTypes
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		mapper:      cfg.Mapper,
		renderer:    cfg.Renderer,
		types:       append([]forms.DocumentType(nil), cfg.Types...),
		concurrency: concurrency,
		cache:       cfg.Cache,
		logger:      logger,
	}, nil
}

// DocumentName is the download file name of a rendered document.
func DocumentName(docType forms.DocumentType, caseID string) string {
	return fmt.Sprintf("%s_%s.pdf", docType, caseID)
}

// Generate renders all document types concurrently. A case without answers yields an empty bundle.
// The returned error is reserved for context cancellation; per-document failures land in Bundle.Failures.
func (o *Orchestrator) Generate(ctx context.Context, record cases.Case) (Bundle, error) {
	bundle := Bundle{Documents: make(map[forms.DocumentType]Document)}
	if !record.HasData() {
		return bundle, nil
	}
	data := record.FormData.Clone()

	var mu sync.Mutex
	failed := make(map[forms.DocumentType]error)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.concurrency)
	for _, docType := range o.types {
		group.Go(func() error {
			document, err := o.generateOne(groupCtx, record, data, docType)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[docType] = err
				return nil
			}
			bundle.Documents[docType] = document
			return nil
		})
	}
	_ = group.Wait()
	if err := ctx.Err(); err != nil {
		return Bundle{}, err
	}

	for _, docType := range o.types {
		if err, ok := failed[docType]; ok {
			bundle.Failures = append(bundle.Failures, Failure{Type: docType, Err: err})
			o.logger.Error("document generation failed",
				zap.String("case_id", record.ID),
				zap.String("document_type", docType.String()),
				zap.Error(err))
		}
	}
	return bundle, nil
}

func (o *Orchestrator) generateOne(ctx context.Context, record cases.Case, data cases.FormData, docType forms.DocumentType) (Document, error) {
	key := CacheKey{CaseID: record.ID, Version: record.Version, Type: docType}
	if o.cache != nil {
		cached, found, err := o.cache.Get(ctx, key)
		if err != nil {
			o.logger.Warn("document cache read failed", zap.String("key", key.String()), zap.Error(err))
		} else if found {
			return Document{Type: docType, Name: DocumentName(docType, record.ID), Data: cached, Cached: true}, nil
		}
	}

	values := o.mapper.MapFields(docType, data)
	result, err := o.renderer.Render(ctx, docType, values)
	if err != nil {
		return Document{}, err
	}

	if o.cache != nil {
		if err := o.cache.Put(ctx, key, result.Data); err != nil {
			o.logger.Warn("document cache write failed", zap.String("key", key.String()), zap.Error(err))
		}
	}
	return Document{
		Type:     docType,
		Name:     DocumentName(docType, record.ID),
		Data:     result.Data,
		Strategy: result.Strategy,
	}, nil
}
