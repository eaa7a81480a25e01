package models

import "errors"

// Sentinel errors for the upload pipeline and its collaborators.
var (
	// Request-path pipeline errors, mapped to HTTP statuses at the API
	// boundary.
	ErrInvalidInput    = errors.New("invalid upload input")
	ErrStorageUpstream = errors.New("object store operation failed")
	ErrTranscodeFailed = errors.New("failed to transcode video")
	ErrMetadataWrite   = errors.New("failed to write video metadata")

	// Best-effort errors: logged and counted, never surfaced to callers.
	ErrQueueUnavailable = errors.New("failed to enqueue job")

	// Worker-side errors. A malformed message is logged and acknowledged
	// rather than retried, so a bad body cannot loop forever.
	ErrMalformedMessage = errors.New("malformed job message")

	// Job message validation errors
	ErrMissingVideoID   = errors.New("videoId is required")
	ErrMissingObjectKey = errors.New("objectKey is required")
	ErrMissingOperation = errors.New("operation is required")

	// Storage errors
	ErrVideoNotFound = errors.New("video not found")
)
