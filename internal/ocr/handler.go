package ocr

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"docverify/internal/documents"
	"docverify/internal/queue"
	"docverify/internal/shared/server/middleware"
	"docverify/internal/shared/server/respond"
	"docverify/internal/shared/telemetry"
)

const defaultPageSize = 20

// Handler exposes extraction attempts to operators and lets them request a
// reprocess.
type Handler struct {
	Repo      Repo
	Documents documents.Repo
	Queue     queue.Client
	Now       func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(repo Repo, docs documents.Repo, q queue.Client) *Handler {
	return &Handler{Repo: repo, Documents: docs, Queue: q, Now: time.Now}
}

// RegisterRoutes attaches OCR routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/proposals/:id/ocr-results", h.listByProposal)
	rg.GET("/drafts/:id/ocr-results", h.listByDraft)
	rg.GET("/documents/:id/ocr-results/latest", h.latestForDocument)
	rg.POST("/documents/:id/ocr", h.reprocess)
}

func (h *Handler) listByProposal(c *gin.Context) {
	limit, offset := pagination(c)
	results, err := h.Repo.ListByProposal(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list ocr results", nil)
		return
	}
	respond.List(c, results, limit, offset)
}

func (h *Handler) listByDraft(c *gin.Context) {
	limit, offset := pagination(c)
	results, err := h.Repo.ListByDraft(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list ocr results", nil)
		return
	}
	respond.List(c, results, limit, offset)
}

func (h *Handler) latestForDocument(c *gin.Context) {
	res, err := h.Repo.LatestForDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "no ocr result for document", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch ocr result", nil)
		}
		return
	}
	respond.OK(c, res)
}

func (h *Handler) reprocess(c *gin.Context) {
	if h.Queue == nil {
		respond.Error(c, http.StatusServiceUnavailable, "queue_unavailable", "job queue not configured", nil)
		return
	}
	file, err := h.Documents.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, documents.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load document", nil)
		}
		return
	}
	if !file.Kind.EligibleForOCR() {
		respond.Error(c, http.StatusUnprocessableEntity, "validation_error", "document kind is not processed by ocr", gin.H{"kind": file.Kind})
		return
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	job := queue.Job{
		ProposalID:     file.ProposalID,
		DraftID:        file.DraftID,
		DocumentFileID: file.ID,
		RequestID:      middleware.RequestIDFromContext(c),
		EnqueuedAt:     now().UTC().Format(time.RFC3339),
		Version:        queue.CurrentVersion,
	}
	if err := h.Queue.Send(c.Request.Context(), job); err != nil {
		respond.Error(c, http.StatusBadGateway, "queue_error", "failed to enqueue ocr job", nil)
		return
	}
	telemetry.Info("ocr.reprocess.enqueued", job.LogFields())

	respond.JSON(c, http.StatusAccepted, gin.H{
		"documentFileId": job.DocumentFileID,
		"requestId":      job.RequestID,
	})
}

func pagination(c *gin.Context) (int, int) {
	limit := defaultPageSize
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = min(parsed, 100)
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}
