package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pixelpress/pixelpress/internal/domain"
	"github.com/pixelpress/pixelpress/internal/service"
)

// UploadHandler handles image upload and enqueue.
type UploadHandler struct {
	jobService *service.JobService
}

// NewUploadHandler creates a new upload handler.
// Parameters:
//   - jobService: job service instance.
// Returns:
//   - *UploadHandler: initialized handler.
func NewUploadHandler(jobService *service.JobService) *UploadHandler {
	return &UploadHandler{jobService: jobService}
}

// Upload handles POST /api/v1/jobs. It accepts a multipart form with the
// image under "image" and optional brand/product context fields, and responds
// 202 with the queued job. Processing happens asynchronously.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *UploadHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing image file: " + err.Error(),
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to open uploaded file: " + err.Error(),
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read uploaded file: " + err.Error(),
		})
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	runAI := true
	if v := c.PostForm("run_ai_analysis"); v != "" {
		runAI, _ = strconv.ParseBool(v)
	}
	priority, _ := strconv.Atoi(c.DefaultPostForm("priority", "0"))

	req := &service.UploadRequest{
		FileName:      fileHeader.Filename,
		MimeType:      mimeType,
		Data:          data,
		Brand:         brandFromForm(c),
		Product:       productFromForm(c),
		RunAIAnalysis: runAI,
		Priority:      priority,
	}

	job, err := h.jobService.UploadAndEnqueue(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": job.ID,
		"status": job.Status,
		"job":    job,
	})
}

func brandFromForm(c *gin.Context) *domain.BrandContext {
	b := &domain.BrandContext{
		Name:       c.PostForm("brand_name"),
		Vertical:   c.PostForm("brand_vertical"),
		Tone:       c.PostForm("brand_tone"),
		Background: c.PostForm("brand_background"),
	}
	if b.Name == "" && b.Vertical == "" && b.Tone == "" && b.Background == "" {
		return nil
	}
	return b
}

func productFromForm(c *gin.Context) *domain.ProductContext {
	p := &domain.ProductContext{
		ID:       c.PostForm("product_id"),
		Category: c.PostForm("product_category"),
	}
	if raw := c.PostForm("product_attributes"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				p.Attributes = append(p.Attributes, a)
			}
		}
	}
	if p.ID == "" && p.Category == "" && len(p.Attributes) == 0 {
		return nil
	}
	return p
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case domain.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case domain.CodeOf(err) == domain.CodeInvalidJob:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
