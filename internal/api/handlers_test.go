package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vodworks/pipeline/internal/auth"
	"github.com/vodworks/pipeline/internal/config"
	"github.com/vodworks/pipeline/internal/vod"
	"github.com/vodworks/pipeline/pkg/models"
)

// --- minimal service fakes ---

type stubStore struct{}

func (stubStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := io.Copy(io.Discard, body)
	return err
}

func (stubStore) Delete(ctx context.Context, key string) error { return nil }

func (stubStore) PresignGet(ctx context.Context, key string, lifetime time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

type stubTranscoder struct{}

func (stubTranscoder) Transcode(ctx context.Context, inputPath, outputPath string) error {
	return os.WriteFile(outputPath, []byte("rendition"), 0o644)
}

type memRepo struct {
	mu   sync.Mutex
	rows []models.VideoAsset
}

func (m *memRepo) Insert(ctx context.Context, asset models.VideoAsset) (*models.VideoAsset, error) {
	asset.UploadedAt = time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, asset)
	stored := asset
	return &stored, nil
}

func (m *memRepo) ListByOwner(ctx context.Context, ownerID string) ([]models.VideoSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.VideoSummary
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].OwnerID == ownerID {
			out = append(out, m.rows[i].Summary())
		}
	}
	return out, nil
}

func (m *memRepo) GetByID(ctx context.Context, id, ownerID string) (*models.VideoAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id && r.OwnerID == ownerID {
			row := r
			return &row, nil
		}
	}
	return nil, models.ErrVideoNotFound
}

func (m *memRepo) UpdateName(ctx context.Context, id, ownerID, name string) (*models.VideoAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id && m.rows[i].OwnerID == ownerID {
			m.rows[i].OriginalName = name
			row := m.rows[i]
			return &row, nil
		}
	}
	return nil, models.ErrVideoNotFound
}

func (m *memRepo) Delete(ctx context.Context, id, ownerID string) (*models.VideoAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id && m.rows[i].OwnerID == ownerID {
			row := m.rows[i]
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return &row, nil
		}
	}
	return nil, models.ErrVideoNotFound
}

type stubQueue struct{}

func (stubQueue) Publish(ctx context.Context, msg models.JobMessage) error { return nil }

// --- harness ---

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()

	svc := vod.New(&vod.Config{
		Store:          stubStore{},
		Transcoder:     stubTranscoder{},
		Repo:           &memRepo{},
		Queue:          stubQueue{},
		Logger:         slog.Default(),
		ScratchDir:     t.TempDir(),
		MaxUploadBytes: 10 * 1024 * 1024,
	})

	jwtService, err := auth.NewJWTService([]byte("test-secret-that-is-long-enough-for-testing"))
	if err != nil {
		t.Fatalf("NewJWTService() error = %v", err)
	}

	return NewHandlers(&HandlersConfig{
		Config: &config.Config{
			Environment: "dev",
			API:         config.APIConfig{Port: "8080"},
			Upload:      config.UploadConfig{MaxUploadMB: 10},
		},
		Logger:     slog.Default(),
		Videos:     svc,
		JWTService: jwtService,
	})
}

// withOwner attaches authenticated claims the way the middleware would.
func withOwner(r *http.Request, owner string) *http.Request {
	ctx := auth.SetClaimsInContext(r.Context(), &auth.Claims{Username: owner})
	return r.WithContext(ctx)
}

func multipartUpload(t *testing.T, field, filename, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="` + field + `"; filename="` + filename + `"`}
	hdr["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("CreatePart() error = %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("part.Write() error = %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart close error = %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func uploadVideo(t *testing.T, h *Handlers, owner string) models.VideoSummary {
	t.Helper()

	body, contentType := multipartUpload(t, "video", "clip.mp4", "video/mp4", bytes.Repeat([]byte("v"), 1024))
	req := httptest.NewRequest("POST", "/api/videos/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	h.UploadHandler(rr, withOwner(req, owner))

	if rr.Code != http.StatusCreated {
		t.Fatalf("UploadHandler returned %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Message string              `json:"message"`
		Video   models.VideoSummary `json:"video"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return resp.Video
}

// --- login ---

func TestLoginHandler(t *testing.T) {
	h := newTestHandlers(t)

	tests := []struct {
		name     string
		username string
		password string
		wantCode int
	}{
		{"valid dev credentials", "admin", "secret", http.StatusOK},
		{"wrong password", "admin", "nope", http.StatusUnauthorized},
		{"unknown user", "someone", "secret", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/login", nil)
			req.SetBasicAuth(tt.username, tt.password)
			rr := httptest.NewRecorder()

			h.LoginHandler(rr, req)

			if rr.Code != tt.wantCode {
				t.Errorf("LoginHandler returned %d, want %d", rr.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK {
				var resp map[string]string
				if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp["token"] == "" {
					t.Errorf("LoginHandler body = %s, want a token", rr.Body.String())
				}
			}
		})
	}
}

func TestLoginHandler_MissingCredentials(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest("POST", "/login", nil)
	rr := httptest.NewRecorder()

	h.LoginHandler(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("LoginHandler returned %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

// --- upload ---

func TestUploadHandler(t *testing.T) {
	h := newTestHandlers(t)

	summary := uploadVideo(t, h, "u1")
	if summary.ID == "" {
		t.Error("upload response missing id")
	}
	if summary.OriginalName != "clip.mp4" {
		t.Errorf("OriginalName = %q, want clip.mp4", summary.OriginalName)
	}
}

func TestUploadHandler_RejectsNonVideo(t *testing.T) {
	h := newTestHandlers(t)

	body, contentType := multipartUpload(t, "video", "notes.txt", "text/plain", []byte("hello"))
	req := httptest.NewRequest("POST", "/api/videos/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	h.UploadHandler(rr, withOwner(req, "u1"))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("UploadHandler returned %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestUploadHandler_MissingFileField(t *testing.T) {
	h := newTestHandlers(t)

	body, contentType := multipartUpload(t, "document", "clip.mp4", "video/mp4", []byte("v"))
	req := httptest.NewRequest("POST", "/api/videos/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	h.UploadHandler(rr, withOwner(req, "u1"))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("UploadHandler returned %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestUploadHandler_Unauthenticated(t *testing.T) {
	h := newTestHandlers(t)

	body, contentType := multipartUpload(t, "video", "clip.mp4", "video/mp4", []byte("v"))
	req := httptest.NewRequest("POST", "/api/videos/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	h.UploadHandler(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("UploadHandler returned %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

// --- list ---

func TestListVideosHandler(t *testing.T) {
	h := newTestHandlers(t)
	uploaded := uploadVideo(t, h, "u1")

	req := httptest.NewRequest("GET", "/api/videos", nil)
	rr := httptest.NewRecorder()

	h.ListVideosHandler(rr, withOwner(req, "u1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("ListVideosHandler returned %d", rr.Code)
	}
	var list []models.VideoSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != uploaded.ID {
		t.Errorf("list = %+v, want one entry with id %s", list, uploaded.ID)
	}
}

func TestListVideosHandler_EmptyIsJSONArray(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest("GET", "/api/videos", nil)
	rr := httptest.NewRecorder()

	h.ListVideosHandler(rr, withOwner(req, "u1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("ListVideosHandler returned %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("empty list body = %q, want []", got)
	}
}

func TestListVideosHandler_OwnerScoped(t *testing.T) {
	h := newTestHandlers(t)
	uploadVideo(t, h, "u1")

	req := httptest.NewRequest("GET", "/api/videos", nil)
	rr := httptest.NewRecorder()

	h.ListVideosHandler(rr, withOwner(req, "u2"))

	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("other owner's list = %q, want []", got)
	}
}

// --- stream ---

func TestStreamVideoHandler(t *testing.T) {
	h := newTestHandlers(t)
	uploaded := uploadVideo(t, h, "u1")

	req := httptest.NewRequest("GET", "/api/videos/"+uploaded.ID+"/stream", nil)
	req.SetPathValue("id", uploaded.ID)
	rr := httptest.NewRecorder()

	h.StreamVideoHandler(rr, withOwner(req, "u1"))

	if rr.Code != http.StatusFound {
		t.Fatalf("StreamVideoHandler returned %d, want %d", rr.Code, http.StatusFound)
	}
	location := rr.Header().Get("Location")
	if !strings.Contains(location, uploaded.ID) {
		t.Errorf("Location = %q, want it to reference video %s", location, uploaded.ID)
	}
}

func TestStreamVideoHandler_NotFound(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest("GET", "/api/videos/missing/stream", nil)
	req.SetPathValue("id", "missing")
	rr := httptest.NewRecorder()

	h.StreamVideoHandler(rr, withOwner(req, "u1"))

	if rr.Code != http.StatusNotFound {
		t.Errorf("StreamVideoHandler returned %d, want %d", rr.Code, http.StatusNotFound)
	}
}

// --- rename ---

func TestRenameVideoHandler(t *testing.T) {
	h := newTestHandlers(t)
	uploaded := uploadVideo(t, h, "u1")

	body := bytes.NewBufferString(`{"originalName":"renamed.mp4"}`)
	req := httptest.NewRequest("PUT", "/api/videos/"+uploaded.ID, body)
	req.SetPathValue("id", uploaded.ID)
	rr := httptest.NewRecorder()

	h.RenameVideoHandler(rr, withOwner(req, "u1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("RenameVideoHandler returned %d: %s", rr.Code, rr.Body.String())
	}
	var summary models.VideoSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode rename response: %v", err)
	}
	if summary.OriginalName != "renamed.mp4" {
		t.Errorf("OriginalName = %q, want renamed.mp4", summary.OriginalName)
	}
}

func TestRenameVideoHandler_BadBody(t *testing.T) {
	h := newTestHandlers(t)
	uploaded := uploadVideo(t, h, "u1")

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{nope"},
		{"blank name", `{"originalName":"  "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("PUT", "/api/videos/"+uploaded.ID, strings.NewReader(tt.body))
			req.SetPathValue("id", uploaded.ID)
			rr := httptest.NewRecorder()

			h.RenameVideoHandler(rr, withOwner(req, "u1"))

			if rr.Code != http.StatusBadRequest {
				t.Errorf("RenameVideoHandler returned %d, want %d", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

// --- delete ---

func TestDeleteVideoHandler(t *testing.T) {
	h := newTestHandlers(t)
	uploaded := uploadVideo(t, h, "u1")

	req := httptest.NewRequest("DELETE", "/api/videos/"+uploaded.ID, nil)
	req.SetPathValue("id", uploaded.ID)
	rr := httptest.NewRecorder()

	h.DeleteVideoHandler(rr, withOwner(req, "u1"))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("DeleteVideoHandler returned %d, want %d", rr.Code, http.StatusNoContent)
	}

	// Gone for subsequent operations.
	req = httptest.NewRequest("DELETE", "/api/videos/"+uploaded.ID, nil)
	req.SetPathValue("id", uploaded.ID)
	rr = httptest.NewRecorder()

	h.DeleteVideoHandler(rr, withOwner(req, "u1"))

	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete returned %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestDeleteVideoHandler_OtherOwner(t *testing.T) {
	h := newTestHandlers(t)
	uploaded := uploadVideo(t, h, "u1")

	req := httptest.NewRequest("DELETE", "/api/videos/"+uploaded.ID, nil)
	req.SetPathValue("id", uploaded.ID)
	rr := httptest.NewRecorder()

	h.DeleteVideoHandler(rr, withOwner(req, "u2"))

	if rr.Code != http.StatusNotFound {
		t.Errorf("DeleteVideoHandler returned %d, want %d", rr.Code, http.StatusNotFound)
	}
}

// --- middleware ---

func TestCORSMiddleware(t *testing.T) {
	allowedOrigins := []string{"https://example.com", "https://test.com"}
	middleware := CORSMiddleware(allowedOrigins)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "https://example.com")
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
			t.Errorf("Access-Control-Allow-Origin = %q, want https://example.com", got)
		}
	})

	t.Run("disallowed origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "https://evil.com")
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/test", nil)
		req.Header.Set("Origin", "https://example.com")
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("preflight returned %d, want %d", rr.Code, http.StatusNoContent)
		}
	})
}

func TestInternalOnlyMiddleware(t *testing.T) {
	handler := internalOnlyMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		wantCode   int
	}{
		{"loopback", "127.0.0.1:43210", "", http.StatusOK},
		{"private 10.x", "10.1.2.3:1234", "", http.StatusOK},
		{"public address", "203.0.113.5:1234", "", http.StatusForbidden},
		{"behind load balancer", "127.0.0.1:1234", "203.0.113.5", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/metrics", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Errorf("returned %d, want %d", rr.Code, tt.wantCode)
			}
		})
	}
}
