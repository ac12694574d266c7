package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pixelpress/pixelpress/internal/config"
	"github.com/pixelpress/pixelpress/internal/logger"
	"github.com/pixelpress/pixelpress/internal/queue"
	"github.com/pixelpress/pixelpress/internal/repository"
	"github.com/pixelpress/pixelpress/internal/service"
	"github.com/pixelpress/pixelpress/internal/storage"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	q := queue.NewMemoryQueue(10, 3)
	t.Cleanup(func() { q.Close() })

	jobService := service.NewJobService(repository.NewMemoryJobRepository(), store, q, nil, 0)
	cfg := &config.ServerConfig{Mode: "test", CORS: config.CORSConfig{AllowAllOrigins: true}}
	return SetupRouter(jobService, cfg, logger.NewDefault())
}

// multipartUpload builds a multipart body with one PNG under "image".
func multipartUpload(t *testing.T, fileName string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var imgBuf bytes.Buffer
	if err := png.Encode(&imgBuf, image.NewRGBA(image.Rect(0, 0, 10, 10))); err != nil {
		t.Fatal(err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="`+fileName+`"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(imgBuf.Bytes()); err != nil {
		t.Fatal(err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return body, writer.FormDataContentType()
}

func TestUploadEndpointAcceptsAndQueues(t *testing.T) {
	router := newTestRouter(t)

	body, contentType := multipartUpload(t, "shoe.png", map[string]string{
		"brand_name":       "Acme",
		"product_category": "sneakers",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}

	var resp struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.JobID == "" {
		t.Error("job id missing in response")
	}
	if resp.Status != "QUEUED" {
		t.Errorf("status = %s, want QUEUED", resp.Status)
	}

	// The accepted job is immediately queryable.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+resp.JobID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("job query status = %d, want 200", w.Code)
	}
}

func TestUploadEndpointRejectsMissingFile(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/no-such-id", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var stats struct {
		Jobs struct {
			TotalJobs int64 `json:"total_jobs"`
		} `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("bad stats body: %v", err)
	}
}

func TestCancelEndpoint(t *testing.T) {
	router := newTestRouter(t)

	body, contentType := multipartUpload(t, "shoe.png", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d", w.Code)
	}

	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+resp.JobID+"/cancel", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", w.Code, w.Body.String())
	}

	var job struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.Status != "CANCELLED" {
		t.Errorf("status = %s, want CANCELLED", job.Status)
	}
}
