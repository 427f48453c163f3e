// Package render turns mapped court-form values into PDF documents through an ordered fallback ladder.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GautamJagannath/entrada/internal/forms"
)

// Strategy names one rung of the fallback ladder.
type Strategy string

const (
	StrategyTemplateFill Strategy = "template_fill"
	StrategyOverlay      Strategy = "overlay"
	StrategySynthesized  Strategy = "synthesized"
	StrategyPlaceholder  Strategy = "placeholder"
)

var (
	// ErrNotConfigured is returned when rendering is disabled or its template directory is unusable.
	ErrNotConfigured = errors.New("render: renderer is not configured")
	// ErrUnknownDocument is returned for a document type absent from the catalog.
	ErrUnknownDocument = errors.New("render: unknown document type")
	// ErrAllStrategiesFailed is returned when even the placeholder could not be produced.
	ErrAllStrategiesFailed = errors.New("render: every rendering strategy failed")

	errTemplateMissing   = errors.New("template missing")
	errNoFillableFields  = errors.New("template has no fillable fields")
	errNoMatchingFields  = errors.New("template has no fields matching the field table")
	errStrategyPanicked  = errors.New("strategy panicked")
	errMissingCatalog    = errors.New("render: catalog is required")
	errTemplateDirAbsent = errors.New("template directory not found")
)

// Config describes how documents are rendered.
type Config struct {
	Enabled      bool
	TemplatesDir string
	Catalog      *forms.Catalog
	// Compress deflates synthesized content streams; off keeps text searchable.
	Compress bool
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Attempt records the outcome of one strategy for one document.
type Attempt struct {
	Strategy Strategy
	Err      error
}

// Result is a rendered document and the path taken to produce it.
type Result struct {
	Type     forms.DocumentType
	Data     []byte
	Strategy Strategy
	Attempts []Attempt
}

// Status reports whether the renderer can serve requests.
type Status struct {
	Configured bool
	Templates  int
	Message    string
}

type strategyFunc func(ctx context.Context, request renderRequest) ([]byte, error)

type step struct {
	strategy Strategy
	run      strategyFunc
	verify   bool
}

type renderRequest struct {
	document forms.Document
	fields   []forms.Field
	values   map[string]string
}

// Renderer produces one PDF per document type. It is safe for concurrent use.
type Renderer struct {
	enabled      bool
	templatesDir string
	catalog      *forms.Catalog
	compress     bool
	clock        func() time.Time
	logger       *zap.Logger
	steps        []step
}

func New(cfg Config) (*Renderer, error) {
	if cfg.Catalog == nil {
		return nil, errMissingCatalog
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	disablePDFConfigDir()

	renderer := &Renderer{
		enabled:      cfg.Enabled,
		templatesDir: strings.TrimSpace(cfg.TemplatesDir),
		catalog:      cfg.Catalog,
		compress:     cfg.Compress,
		clock:        clock,
		logger:       logger,
	}
	renderer.steps = []step{
		{strategy: StrategyTemplateFill, run: renderer.fillTemplate, verify: true},
		{strategy: StrategyOverlay, run: renderer.overlayTemplate, verify: true},
		{strategy: StrategySynthesized, run: renderer.synthesize, verify: true},
		{strategy: StrategyPlaceholder, run: renderer.placeholder},
	}
	return renderer, nil
}

// Status reports configuration state and how many court templates are installed.
func (r *Renderer) Status() Status {
	if !r.enabled {
		return Status{Message: "PDF generation is disabled"}
	}
	if r.templatesDir != "" {
		info, err := os.Stat(r.templatesDir)
		if err != nil || !info.IsDir() {
			return Status{Message: fmt.Sprintf("%s: %s", errTemplateDirAbsent, r.templatesDir)}
		}
	}
	installed := 0
	for _, docType := range r.catalog.Types() {
		if _, err := os.Stat(r.templatePath(docType)); err == nil {
			installed++
		}
	}
	total := len(r.catalog.Types())
	message := fmt.Sprintf("PDF generation is ready (%d of %d court templates installed)", installed, total)
	if installed == 0 {
		message = "PDF generation is ready (synthesized layouts, no court templates installed)"
	}
	return Status{Configured: true, Templates: installed, Message: message}
}

// Render walks the fallback ladder for one document type and returns the first valid PDF.
func (r *Renderer) Render(ctx context.Context, docType forms.DocumentType, values map[string]string) (Result, error) {
	if !r.Status().Configured {
		return Result{}, ErrNotConfigured
	}
	document, ok := r.catalog.Document(docType)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownDocument, docType)
	}
	request := renderRequest{
		document: document,
		fields:   r.catalog.Fields(docType),
		values:   values,
	}

	result := Result{Type: docType}
	for _, current := range r.steps {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		data, err := r.attempt(ctx, current, request)
		result.Attempts = append(result.Attempts, Attempt{Strategy: current.strategy, Err: err})
		if err != nil {
			r.logStrategyFailure(docType, current.strategy, err)
			continue
		}
		result.Data = data
		result.Strategy = current.strategy
		return result, nil
	}
	r.logger.Error("document rendering failed",
		zap.String("document_type", docType.String()),
		zap.Int("attempts", len(result.Attempts)))
	return result, fmt.Errorf("%w: %s", ErrAllStrategiesFailed, docType)
}

func (r *Renderer) attempt(ctx context.Context, current step, request renderRequest) (data []byte, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			data = nil
			err = fmt.Errorf("%w: %v", errStrategyPanicked, recovered)
		}
	}()
	data, err = current.run(ctx, request)
	if err != nil {
		return nil, err
	}
	if current.verify {
		if err := verifyPDF(data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (r *Renderer) logStrategyFailure(docType forms.DocumentType, strategy Strategy, err error) {
	level := r.logger.Warn
	if errors.Is(err, errTemplateMissing) || errors.Is(err, errNoFillableFields) || errors.Is(err, errNoMatchingFields) {
		level = r.logger.Debug
	}
	level("rendering strategy skipped",
		zap.String("document_type", docType.String()),
		zap.String("strategy", string(strategy)),
		zap.Error(err))
}

func (r *Renderer) templatePath(docType forms.DocumentType) string {
	return filepath.Join(r.templatesDir, docType.String()+".pdf")
}

func (r *Renderer) loadTemplate(docType forms.DocumentType) ([]byte, error) {
	if r.templatesDir == "" {
		return nil, errTemplateMissing
	}
	data, err := os.ReadFile(r.templatePath(docType))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errTemplateMissing
	}
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", docType, err)
	}
	return data, nil
}
