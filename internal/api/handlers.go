package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vodworks/pipeline/internal/auth"
	"github.com/vodworks/pipeline/internal/config"
	"github.com/vodworks/pipeline/internal/vod"
	"github.com/vodworks/pipeline/pkg/models"
)

var tracer = otel.Tracer("vod-api")

// MaxJSONBodySize caps JSON request bodies (not uploads).
const MaxJSONBodySize = 1 << 20 // 1 MB

// multipartMemoryLimit is the in-memory threshold for multipart parsing;
// larger parts spill to disk.
const multipartMemoryLimit = 32 << 20 // 32 MB

// Handlers contains all HTTP handlers for the API.
type Handlers struct {
	cfg        *config.Config
	log        *slog.Logger
	videos     *vod.Service
	jwtService *auth.JWTService
}

// HandlersConfig holds dependencies for handlers.
type HandlersConfig struct {
	Config     *config.Config
	Logger     *slog.Logger
	Videos     *vod.Service
	JWTService *auth.JWTService
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *HandlersConfig) *Handlers {
	return &Handlers{
		cfg:        cfg.Config,
		log:        cfg.Logger,
		videos:     cfg.Videos,
		jwtService: cfg.JWTService,
	}
}

// writeJSON writes a JSON response.
func (h *Handlers) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.ErrorContext(ctx, "Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response.
func (h *Handlers) writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	h.writeJSON(ctx, w, status, map[string]string{"error": message})
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Internal
// detail stays in the logs; response bodies are generic.
func (h *Handlers) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid request")
	case errors.Is(err, models.ErrVideoNotFound):
		h.writeError(ctx, w, http.StatusNotFound, "Video not found")
	default:
		h.log.ErrorContext(ctx, "Request failed", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error")
	}
}

// owner returns the authenticated owner id set by the auth middleware.
func (h *Handlers) owner(ctx context.Context, w http.ResponseWriter) (string, bool) {
	claims, ok := auth.GetClaimsFromContext(ctx)
	if !ok || claims.Username == "" {
		h.writeError(ctx, w, http.StatusUnauthorized, "Unauthorized")
		return "", false
	}
	return claims.Username, true
}

// LoginHandler authenticates with basic credentials and returns a JWT.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientIP := auth.GetClientIP(r)

	username, password, ok := r.BasicAuth()
	if !ok {
		h.writeError(ctx, w, http.StatusUnauthorized, "Missing credentials")
		return
	}

	expectedUsername, expectedPassword, err := h.cfg.GetAPICredentials()
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to get API credentials", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Server configuration error")
		return
	}

	if username != expectedUsername || password != expectedPassword {
		h.log.WarnContext(ctx, "Failed login attempt", "username", username, "ip", clientIP)
		h.writeError(ctx, w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.jwtService.GenerateToken(username)
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to generate token", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	h.log.InfoContext(ctx, "Successful login", "username", username, "ip", clientIP)
	h.writeJSON(ctx, w, http.StatusOK, map[string]string{"token": token})
}

// UploadHandler accepts a multipart upload and runs the full pipeline
// before responding. The connection blocks for the duration of the
// transcode.
func (h *Handlers) UploadHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload-handler",
		trace.WithAttributes(attribute.String("handler", "upload")))
	defer span.End()

	ownerID, ok := h.owner(ctx, w)
	if !ok {
		return
	}

	// The multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes()+MaxJSONBodySize)

	file, header, err := r.FormFile("video")
	if err != nil {
		span.RecordError(err)
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		h.writeError(ctx, w, http.StatusBadRequest, "Missing video file field")
		return
	}
	defer file.Close()

	asset, err := h.videos.Ingest(ctx, file, vod.UploadInput{
		Filename:  header.Filename,
		MimeType:  header.Header.Get("Content-Type"),
		SizeBytes: header.Size,
	}, ownerID)
	if err != nil {
		span.RecordError(err)
		h.writeServiceError(ctx, w, err)
		return
	}

	span.SetAttributes(attribute.String("video.id", asset.ID))
	h.writeJSON(ctx, w, http.StatusCreated, map[string]any{
		"message": "Upload complete",
		"video":   asset.Summary(),
	})
}

// ListVideosHandler returns the caller's videos, newest first.
func (h *Handlers) ListVideosHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "list-videos-handler")
	defer span.End()

	ownerID, ok := h.owner(ctx, w)
	if !ok {
		return
	}

	summaries, err := h.videos.List(ctx, ownerID)
	if err != nil {
		span.RecordError(err)
		h.writeServiceError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, summaries)
}

// StreamVideoHandler redirects to a short-lived presigned playback URL.
func (h *Handlers) StreamVideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "stream-video-handler")
	defer span.End()

	ownerID, ok := h.owner(ctx, w)
	if !ok {
		return
	}

	id := r.PathValue("id")
	span.SetAttributes(attribute.String("video.id", id))

	url, err := h.videos.StreamURL(ctx, id, ownerID)
	if err != nil {
		span.RecordError(err)
		h.writeServiceError(ctx, w, err)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// RenameRequest is the payload for renaming a video.
type RenameRequest struct {
	OriginalName string `json:"originalName"`
}

// RenameVideoHandler updates a video's display name.
func (h *Handlers) RenameVideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "rename-video-handler")
	defer span.End()

	ownerID, ok := h.owner(ctx, w)
	if !ok {
		return
	}

	id := r.PathValue("id")
	span.SetAttributes(attribute.String("video.id", id))

	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodySize)

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.RecordError(err)
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.OriginalName) == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "originalName is required")
		return
	}

	updated, err := h.videos.Rename(ctx, id, ownerID, req.OriginalName)
	if err != nil {
		span.RecordError(err)
		h.writeServiceError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, updated.Summary())
}

// DeleteVideoHandler removes a video's object and metadata row.
func (h *Handlers) DeleteVideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "delete-video-handler")
	defer span.End()

	ownerID, ok := h.owner(ctx, w)
	if !ok {
		return
	}

	id := r.PathValue("id")
	span.SetAttributes(attribute.String("video.id", id))

	if err := h.videos.Delete(ctx, id, ownerID); err != nil {
		span.RecordError(err)
		h.writeServiceError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
