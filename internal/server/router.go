package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GautamJagannath/entrada/internal/auth"
	"github.com/GautamJagannath/entrada/internal/autosave"
	"github.com/GautamJagannath/entrada/internal/cases"
	"github.com/GautamJagannath/entrada/internal/generate"
	"github.com/GautamJagannath/entrada/internal/render"
)

const ownerContextKey = "entrada_owner_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingOwnerResolver    = errors.New("owner resolver dependency required")
	errMissingCaseService      = errors.New("case service dependency required")
	errMissingAutosave         = errors.New("autosave registry dependency required")
	errMissingGenerator        = errors.New("document generator dependency required")
	errMissingRendererStatus   = errors.New("renderer status dependency required")
)

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type OwnerResolver interface {
	ResolveOwner(ctx context.Context, claims auth.SessionClaims) (string, error)
}

type CaseService interface {
	Create(ctx context.Context, owner string, initial cases.FormData) (cases.Case, error)
	GetOwned(ctx context.Context, owner, caseID string) (cases.Case, error)
	Update(ctx context.Context, caseID string, update cases.Update) (cases.Case, error)
	List(ctx context.Context, owner string) ([]cases.Case, error)
	Delete(ctx context.Context, caseID string) error
	MarkGenerated(ctx context.Context, caseID string) (cases.Case, error)
}

type AutosaveRegistry interface {
	Edit(ctx context.Context, owner string, key autosave.SessionKey, fields cases.FormData) (autosave.State, error)
	SaveNow(ctx context.Context, owner string, key autosave.SessionKey) (autosave.Status, error)
	CloseCase(caseID string)
}

type DocumentGenerator interface {
	Generate(ctx context.Context, record cases.Case) (generate.Bundle, error)
}

type RendererStatus interface {
	Status() render.Status
}

type Dependencies struct {
	SessionValidator SessionValidator
	Owners           OwnerResolver
	Cases            CaseService
	Autosave         AutosaveRegistry
	Generator        DocumentGenerator
	Renderer         RendererStatus
	Realtime         *RealtimeDispatcher
	AllowedOrigins   []string
	Clock            func() time.Time
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Owners == nil {
		return nil, errMissingOwnerResolver
	}
	if deps.Cases == nil {
		return nil, errMissingCaseService
	}
	if deps.Autosave == nil {
		return nil, errMissingAutosave
	}
	if deps.Generator == nil {
		return nil, errMissingGenerator
	}
	if deps.Renderer == nil {
		return nil, errMissingRendererStatus
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if len(deps.AllowedOrigins) > 0 {
		router.Use(corsMiddleware(deps.AllowedOrigins))
	}

	handler := &httpHandler{
		sessions:  deps.SessionValidator,
		owners:    deps.Owners,
		cases:     deps.Cases,
		autosave:  deps.Autosave,
		generator: deps.Generator,
		renderer:  deps.Renderer,
		realtime:  realtime,
		clock:     clock,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/generate-pdf", handler.handleGenerationStatus)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/generate-pdf", handler.handleGenerate)
	protected.POST("/cases", handler.handleCreateCase)
	protected.GET("/cases", handler.handleListCases)
	protected.GET("/cases/:id", handler.handleGetCase)
	protected.PATCH("/cases/:id", handler.handleUpdateCase)
	protected.DELETE("/cases/:id", handler.handleDeleteCase)
	protected.POST("/cases/:id/edits", handler.handleEdits)
	protected.POST("/cases/:id/save", handler.handleSaveNow)
	protected.GET("/cases/:id/events", handler.handleCaseEvents)

	return router, nil
}

// corsMiddleware admits credentialed browser requests from the listed origins
// only. Other cross-origin requests are refused without CORS headers.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-TAuth-Tenant"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions  SessionValidator
	owners    OwnerResolver
	cases     CaseService
	autosave  AutosaveRegistry
	generator DocumentGenerator
	renderer  RendererStatus
	realtime  *RealtimeDispatcher
	clock     func() time.Time
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
			h.logger.Debug("session token missing", zap.String("path", c.FullPath()))
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	owner, err := h.owners.ResolveOwner(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("owner resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(ownerContextKey, owner)
	c.Next()
}

// respondError maps domain errors onto the HTTP error contract.
func (h *httpHandler) respondError(c *gin.Context, message string, err error) {
	payload := gin.H{"error": message}
	var serviceErr *cases.ServiceError
	if errors.As(err, &serviceErr) {
		payload["code"] = serviceErr.Code()
	}

	switch {
	case errors.Is(err, cases.ErrCaseNotFound):
		payload["error"] = "case_not_found"
		c.JSON(http.StatusNotFound, payload)
	case errors.Is(err, cases.ErrVersionConflict):
		payload["error"] = "case_conflict"
		c.JSON(http.StatusConflict, payload)
	case errors.Is(err, cases.ErrInvalidCaseID),
		errors.Is(err, cases.ErrInvalidOwner),
		errors.Is(err, cases.ErrInvalidStatus),
		errors.Is(err, autosave.ErrInvalidSession):
		h.logger.Warn(message, zap.Error(err))
		payload["error"] = "invalid_request"
		c.JSON(http.StatusBadRequest, payload)
	case errors.Is(err, render.ErrNotConfigured):
		payload["error"] = "pdf_service_not_configured"
		c.JSON(http.StatusServiceUnavailable, payload)
	default:
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, payload)
	}
}
