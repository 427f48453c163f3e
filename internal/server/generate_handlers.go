package server

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	generationStatusReady         = "ready"
	generationStatusNotConfigured = "not_configured"
)

type generateRequest struct {
	CaseID string `json:"caseId"`
}

type generatedFormPayload struct {
	Name string `json:"name"`
	Data string `json:"data"`
	Size int    `json:"size"`
}

type failedFormPayload struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type generateResponse struct {
	Success     bool                            `json:"success"`
	CaseID      string                          `json:"caseId"`
	Forms       map[string]generatedFormPayload `json:"forms"`
	Failed      []failedFormPayload             `json:"failed"`
	GeneratedAt time.Time                       `json:"generatedAt"`
	Message     string                          `json:"message"`
}

type generationStatusResponse struct {
	Configured bool   `json:"configured"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	Templates  int    `json:"templates"`
}

func (h *httpHandler) handleGenerationStatus(c *gin.Context) {
	status := h.renderer.Status()
	response := generationStatusResponse{
		Configured: status.Configured,
		Status:     generationStatusNotConfigured,
		Message:    status.Message,
		Templates:  status.Templates,
	}
	if status.Configured {
		response.Status = generationStatusReady
	}
	c.JSON(http.StatusOK, response)
}

// handleGenerate checks input, then configuration, then the case, before rendering.
func (h *httpHandler) handleGenerate(c *gin.Context) {
	var request generateRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.CaseID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Case ID is required"})
		return
	}

	if status := h.renderer.Status(); !status.Configured {
		h.logger.Warn("pdf generation requested while not configured", zap.String("reason", status.Message))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "PDF service not configured",
			"message": status.Message,
		})
		return
	}

	ctx := c.Request.Context()
	record, err := h.cases.GetOwned(ctx, c.GetString(ownerContextKey), request.CaseID)
	if err != nil {
		h.respondError(c, "case lookup failed", err)
		return
	}

	bundle, err := h.generator.Generate(ctx, record)
	if err != nil {
		h.respondError(c, "PDF generation failed", err)
		return
	}
	if len(bundle.Documents) == 0 && len(bundle.Failures) > 0 {
		h.logger.Error("every document failed to render",
			zap.String("case_id", record.ID),
			zap.Int("failures", len(bundle.Failures)))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "PDF generation failed",
			"message": fmt.Sprintf("none of %d documents could be rendered", len(bundle.Failures)),
		})
		return
	}

	response := generateResponse{
		Success:     true,
		CaseID:      record.ID,
		Forms:       make(map[string]generatedFormPayload, len(bundle.Documents)),
		Failed:      make([]failedFormPayload, 0, len(bundle.Failures)),
		GeneratedAt: h.clock().UTC(),
	}
	for docType, document := range bundle.Documents {
		response.Forms[docType.String()] = generatedFormPayload{
			Name: document.Name,
			Data: base64.StdEncoding.EncodeToString(document.Data),
			Size: len(document.Data),
		}
	}
	for _, failure := range bundle.Failures {
		response.Failed = append(response.Failed, failedFormPayload{
			Type:  failure.Type.String(),
			Error: failure.Err.Error(),
		})
	}
	response.Message = fmt.Sprintf("Generated %d PDF forms successfully", len(response.Forms))

	if bundle.Complete() {
		if _, err := h.cases.MarkGenerated(ctx, record.ID); err != nil {
			h.logger.Warn("failed to mark case generated", zap.String("case_id", record.ID), zap.Error(err))
		}
	}

	h.logger.Info("pdf forms generated",
		zap.String("case_id", record.ID),
		zap.Int("generated", len(response.Forms)),
		zap.Int("failed", len(response.Failed)))
	c.JSON(http.StatusOK, response)
}

