package downloads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/backend/internal/downloader"
	"github.com/clipvault/backend/internal/models"
)

func newTestRouter(t *testing.T, dl downloader.Downloader, store RecordStore) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := NewService(store, dl, t.TempDir(), 0, nil, nil, nil)
	h := NewHandler(svc, nil)

	r := gin.New()
	r.POST("/download", h.Submit)
	r.GET("/downloads-list", h.List)
	r.GET("/download/:id", h.GetByID)
	r.DELETE("/download/:id", h.Delete)
	r.GET("/downloads/:fileName", h.ServeFile)
	return r, svc
}

func doJSON(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerSubmitInvalid(t *testing.T) {
	cases := []struct {
		name string
		body interface{}
	}{
		{"empty body", map[string]string{}},
		{"missing kind", map[string]string{"source_url": "https://example.com/watch?v=abc"}},
		{"missing source_url", map[string]string{"kind": "audio"}},
		{"unknown kind", map[string]string{"source_url": "https://example.com/watch?v=abc", "kind": "flac"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dl := &stubDownloader{}
			r, _ := newTestRouter(t, dl, newMemStore())

			w := doJSON(r, http.MethodPost, "/download", tc.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, 0, dl.callCount())
		})
	}
}

func TestHandlerSubmitSuccess(t *testing.T) {
	dl := &stubDownloader{writeBytes: 1024, meta: &downloader.Metadata{Title: "Test Song"}}
	r, _ := newTestRouter(t, dl, newMemStore())

	w := doJSON(r, http.MethodPost, "/download", map[string]string{
		"source_url": "https://example.com/watch?v=abc",
		"kind":       "audio",
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Message  string `json:"message"`
			FileName string `json:"file_name"`
			Title    string `json:"title"`
			Download struct {
				FileSize int64 `json:"file_size"`
			} `json:"download"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Test Song", resp.Data.Title)
	assert.Regexp(t, `\.mp3$`, resp.Data.FileName)
	assert.Equal(t, int64(1024), resp.Data.Download.FileSize)
	assert.NotContains(t, w.Body.String(), "storage_path")
}

func TestHandlerSubmitDownloaderFailure(t *testing.T) {
	dl := &stubDownloader{fail: fmt.Errorf("ERROR: unsupported URL"), writeBytes: 1}
	r, _ := newTestRouter(t, dl, newMemStore())

	w := doJSON(r, http.MethodPost, "/download", map[string]string{
		"source_url": "https://example.com/watch?v=abc",
		"kind":       "video",
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "download failed")
}

func TestHandlerGetUnknownID(t *testing.T) {
	r, _ := newTestRouter(t, &stubDownloader{}, newMemStore())

	w := doJSON(r, http.MethodGet, "/download/"+uuid.NewString(), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerGetMalformedID(t *testing.T) {
	r, _ := newTestRouter(t, &stubDownloader{}, newMemStore())

	w := doJSON(r, http.MethodGet, "/download/not-a-uuid", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerListEmpty(t *testing.T) {
	r, _ := newTestRouter(t, &stubDownloader{}, newMemStore())

	w := doJSON(r, http.MethodGet, "/downloads-list", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []models.Download `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Data)
	assert.Empty(t, resp.Data)
}

func TestHandlerDeleteIdempotentToNotFound(t *testing.T) {
	dl := &stubDownloader{writeBytes: 10}
	r, svc := newTestRouter(t, dl, newMemStore())

	rec, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: "https://example.com/watch?v=abc",
		Kind:      models.KindAudio,
	})
	require.NoError(t, err)

	first := doJSON(r, http.MethodDelete, "/download/"+rec.ID.String(), nil)
	assert.Equal(t, http.StatusOK, first.Code)

	second := doJSON(r, http.MethodDelete, "/download/"+rec.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, second.Code)
}

func TestHandlerServeFile(t *testing.T) {
	dl := &stubDownloader{writeBytes: 5, meta: &downloader.Metadata{Title: "A Song"}}
	r, svc := newTestRouter(t, dl, newMemStore())

	rec, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: "https://example.com/watch?v=abc",
		Kind:      models.KindAudio,
	})
	require.NoError(t, err)

	w := doJSON(r, http.MethodGet, "/downloads/"+rec.FileName, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.Body.Bytes(), 5)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "A Song")

	missing := doJSON(r, http.MethodGet, "/downloads/nope.mp3", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}
