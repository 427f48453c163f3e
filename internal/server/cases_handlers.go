package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GautamJagannath/entrada/internal/autosave"
	"github.com/GautamJagannath/entrada/internal/cases"
)

type casePayload struct {
	ID                   string         `json:"id"`
	Status               cases.Status   `json:"status"`
	StatusLabel          string         `json:"status_label"`
	FormData             cases.FormData `json:"form_data"`
	CompletionPercentage int            `json:"completion_percentage"`
	MinorName            string         `json:"minor_name"`
	Version              int64          `json:"version"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

func newCasePayload(record cases.Case) casePayload {
	data := record.FormData
	if data == nil {
		data = cases.FormData{}
	}
	return casePayload{
		ID:                   record.ID,
		Status:               record.Status,
		StatusLabel:          cases.StatusLabel(record),
		FormData:             data,
		CompletionPercentage: record.CompletionPercentage,
		MinorName:            record.MinorName,
		Version:              record.Version,
		CreatedAt:            record.CreatedAt,
		UpdatedAt:            record.UpdatedAt,
	}
}

type createCaseRequest struct {
	FormData cases.FormData `json:"form_data"`
}

type updateCaseRequest struct {
	FormData cases.FormData `json:"form_data"`
	Status   string         `json:"status"`
}

type editRequest struct {
	SessionID string         `json:"session_id"`
	Fields    cases.FormData `json:"fields"`
}

type saveRequest struct {
	SessionID string `json:"session_id"`
}

func (h *httpHandler) handleCreateCase(c *gin.Context) {
	owner := c.GetString(ownerContextKey)
	var request createCaseRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}
	record, err := h.cases.Create(c.Request.Context(), owner, request.FormData)
	if err != nil {
		h.respondError(c, "case creation failed", err)
		return
	}
	c.JSON(http.StatusCreated, newCasePayload(record))
}

func (h *httpHandler) handleListCases(c *gin.Context) {
	owner := c.GetString(ownerContextKey)
	records, err := h.cases.List(c.Request.Context(), owner)
	if err != nil {
		h.respondError(c, "case listing failed", err)
		return
	}
	records = cases.Search(records, c.Query("q"))
	response := make([]casePayload, 0, len(records))
	for _, record := range records {
		response = append(response, newCasePayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"cases": response})
}

func (h *httpHandler) handleGetCase(c *gin.Context) {
	record, err := h.cases.GetOwned(c.Request.Context(), c.GetString(ownerContextKey), c.Param("id"))
	if err != nil {
		h.respondError(c, "case lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, newCasePayload(record))
}

func (h *httpHandler) handleUpdateCase(c *gin.Context) {
	var request updateCaseRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	update := cases.Update{Fields: request.FormData}
	if request.Status != "" {
		status, err := cases.ParseStatus(request.Status)
		if err != nil {
			h.respondError(c, "case update rejected", err)
			return
		}
		update.Status = &status
	}

	record, err := h.cases.GetOwned(c.Request.Context(), c.GetString(ownerContextKey), c.Param("id"))
	if err != nil {
		h.respondError(c, "case lookup failed", err)
		return
	}
	updated, err := h.cases.Update(c.Request.Context(), record.ID, update)
	if err != nil {
		h.respondError(c, "case update failed", err)
		return
	}
	c.JSON(http.StatusOK, newCasePayload(updated))
}

func (h *httpHandler) handleDeleteCase(c *gin.Context) {
	record, err := h.cases.GetOwned(c.Request.Context(), c.GetString(ownerContextKey), c.Param("id"))
	if err != nil {
		h.respondError(c, "case lookup failed", err)
		return
	}
	h.autosave.CloseCase(record.ID)
	if err := h.cases.Delete(c.Request.Context(), record.ID); err != nil {
		h.respondError(c, "case deletion failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleEdits(c *gin.Context) {
	var request editRequest
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	key := autosave.SessionKey{CaseID: c.Param("id"), SessionID: request.SessionID}
	state, err := h.autosave.Edit(c.Request.Context(), c.GetString(ownerContextKey), key, request.Fields)
	if err != nil {
		h.respondError(c, "edit rejected", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"state": state})
}

func (h *httpHandler) handleSaveNow(c *gin.Context) {
	var request saveRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	key := autosave.SessionKey{CaseID: c.Param("id"), SessionID: request.SessionID}
	status, err := h.autosave.SaveNow(c.Request.Context(), c.GetString(ownerContextKey), key)
	if err != nil {
		h.respondError(c, "save failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
