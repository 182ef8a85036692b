package translations

import (
	"io"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"translator-backend/internal/shared/server/middleware"
	"translator-backend/internal/shared/server/respond"
)

const maxUploadSize = 100 << 20 // 100MB

// Handler wires HTTP handlers to the translation service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches translation routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/translations", h.create)
	rg.GET("/translations", h.list)
	rg.GET("/translations/:id", h.get)
	rg.GET("/translations/:id/download", h.download)
}

func (h *Handler) create(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	job, err := h.Svc.Create(ctx, CreateInput{
		UserID:         userID,
		FileName:       fileHeader.Filename,
		MimeType:       fileHeader.Header.Get("Content-Type"),
		Data:           data,
		SourceLanguage: c.PostForm("sourceLanguage"),
		TargetLanguage: c.PostForm("targetLanguage"),
		Style:          c.PostForm("style"),
		Mode:           c.PostForm("mode"),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		case errors.Is(err, ErrJobQueueUnavailable):
			respond.Error(c, http.StatusServiceUnavailable, "unavailable", "translation workers are not configured", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start translation", nil)
		}
		return
	}

	c.Set("jobId", job.ID)
	c.Set("statusTransition", "->"+string(job.Status))
	respond.Accepted(c, "/api/v1/translations/"+job.ID, gin.H{
		"jobId":  job.ID,
		"status": job.Status,
		"mode":   job.Mode,
	})
}

func (h *Handler) get(c *gin.Context) {
	jobID := c.Param("id")
	c.Set("jobId", jobID)

	view, err := h.Svc.Get(c.Request.Context(), middleware.UserIDFromContext(c), jobID)
	if err != nil {
		h.jobError(c, err, "failed to fetch translation")
		return
	}
	respond.OK(c, view)
}

func (h *Handler) download(c *gin.Context) {
	jobID := c.Param("id")
	c.Set("jobId", jobID)

	url, expiresAt, err := h.Svc.DownloadURL(c.Request.Context(), middleware.UserIDFromContext(c), jobID)
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			respond.Error(c, http.StatusConflict, "not_ready", "translation has not completed", nil)
			return
		}
		h.jobError(c, err, "failed to create download link")
		return
	}
	respond.OK(c, gin.H{"url": url, "expiresAt": expiresAt})
}

func (h *Handler) list(c *gin.Context) {
	if middleware.IsGuest(c) {
		respond.Error(c, http.StatusUnauthorized, "login_required", "Login required to view history", nil)
		return
	}

	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	limit = min(max(limit, 0), 50)
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	offset = max(offset, 0)

	jobs, err := h.Svc.List(c.Request.Context(), middleware.UserIDFromContext(c), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list translations", nil)
		return
	}

	resp := make([]gin.H, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, gin.H{
			"jobId":          j.ID,
			"status":         j.Status,
			"progress":       j.Progress,
			"sourceFileName": j.SourceFileName,
			"targetLanguage": j.TargetLanguage,
			"createdAt":      j.CreatedAt,
		})
	}
	respond.OK(c, resp)
}

func (h *Handler) jobError(c *gin.Context, err error, message string) {
	var tooSoon *PollTooSoonError
	switch {
	case errors.As(err, &tooSoon):
		retryAfterMs := max(tooSoon.RetryAfter.Milliseconds(), 1)
		c.Header("Retry-After", strconv.FormatInt((retryAfterMs+999)/1000, 10))
		respond.Error(c, http.StatusTooManyRequests, "poll_too_soon", "translation status polled too often", gin.H{
			"retryAfterMs": retryAfterMs,
		})
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "translation not found", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", message, nil)
	}
}
