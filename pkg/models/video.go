package models

import "time"

// VideoAsset is the metadata row for one uploaded video. The id is
// assigned exactly once, before any external write, and is embedded in
// both object store keys so a partial pipeline run can be correlated.
type VideoAsset struct {
	ID           string    `json:"id"`
	ObjectKey    string    `json:"objectKey"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	SizeBytes    int64     `json:"sizeBytes"`
	OwnerID      string    `json:"ownerId"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Summary returns the listing view of the asset.
func (v *VideoAsset) Summary() VideoSummary {
	return VideoSummary{
		ID:           v.ID,
		ObjectKey:    v.ObjectKey,
		OriginalName: v.OriginalName,
		MimeType:     v.MimeType,
		SizeBytes:    v.SizeBytes,
		UploadedAt:   v.UploadedAt,
	}
}

// VideoSummary is what list responses (and the list cache) carry.
type VideoSummary struct {
	ID           string    `json:"id"`
	ObjectKey    string    `json:"objectKey"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	SizeBytes    int64     `json:"sizeBytes"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// OperationTranscode is the only job operation the pipeline dispatches.
const OperationTranscode = "transcode"

// JobMessage is the queue notification produced after a successful
// upload. Delivery is at-least-once; consumers must tolerate duplicates
// and malformed bodies.
type JobMessage struct {
	VideoID   string    `json:"videoId"`
	ObjectKey string    `json:"objectKey"`
	OwnerID   string    `json:"ownerId"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the job message has all required fields.
func (m *JobMessage) Validate() error {
	if m.VideoID == "" {
		return ErrMissingVideoID
	}
	if m.ObjectKey == "" {
		return ErrMissingObjectKey
	}
	if m.Operation == "" {
		return ErrMissingOperation
	}
	return nil
}
