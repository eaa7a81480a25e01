// Package vod contains the upload orchestration and listing logic that
// ties the object store, transcoder, metadata store, job queue and list
// cache together.
package vod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vodworks/pipeline/internal/cache"
	"github.com/vodworks/pipeline/internal/metrics"
	"github.com/vodworks/pipeline/pkg/models"
)

var tracer = otel.Tracer("vod-service")

// DefaultStreamURLTTL bounds presigned playback URLs.
const DefaultStreamURLTTL = 15 * time.Minute

// ObjectStore is the blob storage boundary.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, lifetime time.Duration) (string, error)
}

// Transcoder converts a local file into the standard playback profile.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string) error
}

// MetadataStore is the videos-table boundary.
type MetadataStore interface {
	Insert(ctx context.Context, asset models.VideoAsset) (*models.VideoAsset, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.VideoSummary, error)
	GetByID(ctx context.Context, id, ownerID string) (*models.VideoAsset, error)
	UpdateName(ctx context.Context, id, ownerID, name string) (*models.VideoAsset, error)
	Delete(ctx context.Context, id, ownerID string) (*models.VideoAsset, error)
}

// JobQueue is the producer side of the job channel.
type JobQueue interface {
	Publish(ctx context.Context, msg models.JobMessage) error
}

// ListCache is the TTL cache fronting the listing query.
type ListCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Config holds Service dependencies.
type Config struct {
	Store          ObjectStore
	Transcoder     Transcoder
	Repo           MetadataStore
	Queue          JobQueue
	Cache          ListCache
	Logger         *slog.Logger
	ScratchDir     string
	MaxUploadBytes int64
	ListTTL        time.Duration
	CacheEnabled   bool
	StreamURLTTL   time.Duration
}

// Service orchestrates the upload pipeline and the read paths.
type Service struct {
	store        ObjectStore
	transcoder   Transcoder
	repo         MetadataStore
	queue        JobQueue
	cache        ListCache
	log          *slog.Logger
	scratchDir   string
	maxBytes     int64
	listTTL      time.Duration
	cacheEnabled bool
	streamTTL    time.Duration
}

// New creates a Service with the given configuration.
func New(cfg *Config) *Service {
	streamTTL := cfg.StreamURLTTL
	if streamTTL <= 0 {
		streamTTL = DefaultStreamURLTTL
	}
	return &Service{
		store:        cfg.Store,
		transcoder:   cfg.Transcoder,
		repo:         cfg.Repo,
		queue:        cfg.Queue,
		cache:        cfg.Cache,
		log:          cfg.Logger,
		scratchDir:   cfg.ScratchDir,
		maxBytes:     cfg.MaxUploadBytes,
		listTTL:      cfg.ListTTL,
		cacheEnabled: cfg.CacheEnabled && cfg.Cache != nil,
		streamTTL:    streamTTL,
	}
}

// UploadInput is the client-supplied metadata of an incoming upload.
type UploadInput struct {
	Filename  string
	MimeType  string
	SizeBytes int64
}

// RawKey returns the object key for the pre-transcode artifact.
func RawKey(id string) string {
	return fmt.Sprintf("raw/%s.mp4", id)
}

// ProcessedKey returns the object key for the transcoded artifact.
func ProcessedKey(id string) string {
	return fmt.Sprintf("processed/%s.mp4", id)
}

// Ingest runs the upload pipeline: validate, persist raw bytes,
// transcode, persist the rendition, dispatch a job message, record
// metadata. Prior steps are not compensated on failure: a failed
// transcode leaves the raw object behind and a failed metadata write
// leaves both objects behind. Both are accepted, reported divergences.
func (s *Service) Ingest(ctx context.Context, src io.Reader, in UploadInput, ownerID string) (*models.VideoAsset, error) {
	ctx, span := tracer.Start(ctx, "ingest")
	defer span.End()

	start := time.Now()

	asset, err := s.ingest(ctx, src, in, ownerID)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.UploadsTotal.WithLabelValues("success").Inc()
	metrics.StageDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("video.id", asset.ID))

	return asset, nil
}

func (s *Service) ingest(ctx context.Context, src io.Reader, in UploadInput, ownerID string) (*models.VideoAsset, error) {
	if !strings.HasPrefix(in.MimeType, "video/") {
		return nil, fmt.Errorf("%w: unsupported content type %q", models.ErrInvalidInput, in.MimeType)
	}
	if s.maxBytes > 0 && in.SizeBytes > s.maxBytes {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", models.ErrInvalidInput, in.SizeBytes, s.maxBytes)
	}

	// The id is assigned exactly once, before any external write, and is
	// embedded in every downstream key so a partial run can be traced.
	id := uuid.New().String()
	rawKey := RawKey(id)
	processedKey := ProcessedKey(id)

	rawPath, size, err := s.spool(src, id)
	if err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	outPath := filepath.Join(s.scratchDir, id+".mp4")

	// Scratch files are removed regardless of outcome; failures here are
	// swallowed.
	defer s.cleanupScratch(rawPath, outPath)

	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", models.ErrInvalidInput, size, s.maxBytes)
	}

	if err := s.putFile(ctx, rawKey, rawPath, in.MimeType, "raw_put"); err != nil {
		return nil, err
	}

	// Blocking for the tool's full run time; a failure here leaves the
	// raw object in place as an orphan.
	if err := s.transcoder.Transcode(ctx, rawPath, outPath); err != nil {
		return nil, err
	}

	if err := s.putFile(ctx, processedKey, outPath, "video/mp4", "processed_put"); err != nil {
		return nil, err
	}

	// Fire-and-forget: an enqueue failure never fails the upload.
	msg := models.JobMessage{
		VideoID:   id,
		ObjectKey: processedKey,
		OwnerID:   ownerID,
		Operation: models.OperationTranscode,
		Timestamp: time.Now().UTC(),
	}
	if err := s.queue.Publish(ctx, msg); err != nil {
		s.log.ErrorContext(ctx, "Failed to enqueue job", "videoId", id, "error", err)
		metrics.EnqueueFailures.Inc()
	}

	stored, err := s.repo.Insert(ctx, models.VideoAsset{
		ID:           id,
		ObjectKey:    processedKey,
		OriginalName: in.Filename,
		MimeType:     "video/mp4",
		SizeBytes:    size,
		OwnerID:      ownerID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMetadataWrite, err)
	}

	s.log.InfoContext(ctx, "Upload pipeline complete",
		"videoId", id,
		"ownerId", ownerID,
		"objectKey", processedKey,
		"sizeBytes", size,
	)

	return stored, nil
}

// spool writes the upload to a local scratch file for ffmpeg.
func (s *Service) spool(src io.Reader, id string) (string, int64, error) {
	if err := os.MkdirAll(s.scratchDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create scratch dir: %w", err)
	}

	path := filepath.Join(s.scratchDir, id+".src")
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create scratch file: %w", err)
	}

	written, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("write scratch file: %w", err)
	}

	return path, written, nil
}

func (s *Service) putFile(ctx context.Context, key, path, contentType, stage string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", models.ErrStorageUpstream, path, err)
	}
	defer f.Close()

	start := time.Now()
	if err := s.store.Put(ctx, key, f, contentType); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUpstream, err)
	}
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())

	return nil
}

func (s *Service) cleanupScratch(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.log.Warn("Failed to remove scratch file", "path", p, "error", err)
		}
	}
}

// List returns the owner's videos, newest first. The cache is consulted
// first when enabled; on a hit the metadata store is not touched. Cached
// lists are never invalidated by writes and may be stale until TTL
// expiry.
func (s *Service) List(ctx context.Context, ownerID string) ([]models.VideoSummary, error) {
	ctx, span := tracer.Start(ctx, "list-videos")
	defer span.End()

	key := cache.ListKey(ownerID)

	if s.cacheEnabled {
		data, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			var summaries []models.VideoSummary
			if jsonErr := json.Unmarshal(data, &summaries); jsonErr == nil {
				metrics.CacheHits.Inc()
				span.SetAttributes(attribute.Bool("cache.hit", true))
				return summaries, nil
			}
			// Undecodable entry: fall through to the store, the entry
			// will be overwritten below.
			s.log.WarnContext(ctx, "Discarding undecodable cache entry", "key", key)
		case errors.Is(err, cache.ErrMiss):
			// fall through
		default:
			s.log.WarnContext(ctx, "Cache read failed, reading through", "key", key, "error", err)
		}
		metrics.CacheMisses.Inc()
	}

	summaries, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []models.VideoSummary{}
	}

	if s.cacheEnabled {
		if data, err := json.Marshal(summaries); err == nil {
			if err := s.cache.Set(ctx, key, data, s.listTTL); err != nil {
				s.log.WarnContext(ctx, "Cache populate failed", "key", key, "error", err)
			}
		}
	}

	span.SetAttributes(attribute.Bool("cache.hit", false))
	return summaries, nil
}

// StreamURL returns a presigned playback URL for an owned video.
func (s *Service) StreamURL(ctx context.Context, id, ownerID string) (string, error) {
	asset, err := s.repo.GetByID(ctx, id, ownerID)
	if err != nil {
		return "", err
	}

	url, err := s.store.PresignGet(ctx, asset.ObjectKey, s.streamTTL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrStorageUpstream, err)
	}
	return url, nil
}

// Rename updates a video's display name. The cached list is left to
// expire on its own.
func (s *Service) Rename(ctx context.Context, id, ownerID, name string) (*models.VideoAsset, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrInvalidInput)
	}
	return s.repo.UpdateName(ctx, id, ownerID, name)
}

// Delete removes the backing object and then the metadata row. If the
// second step fails the stores diverge; no two-phase commit is
// attempted. Cached lists keep showing the video until TTL expiry.
func (s *Service) Delete(ctx context.Context, id, ownerID string) error {
	ctx, span := tracer.Start(ctx, "delete-video")
	defer span.End()

	asset, err := s.repo.GetByID(ctx, id, ownerID)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, asset.ObjectKey); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUpstream, err)
	}

	if _, err := s.repo.Delete(ctx, id, ownerID); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMetadataWrite, err)
	}

	s.log.InfoContext(ctx, "Video deleted", "videoId", id, "ownerId", ownerID)
	return nil
}
