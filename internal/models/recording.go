package models

import "time"

// Archive status values for persisted recordings.
const (
	RecordingStatusStopped  = "stopped"
	RecordingStatusUploaded = "uploaded"
)

// Recording is the durable archive row for a finished recording. The id is
// the manager's recording id (room, user, and start time baked in).
type Recording struct {
	ID        string     `json:"recording_id"`
	RoomID    string     `json:"room_id"`
	UserID    string     `json:"user_id"`
	Filename  string     `json:"filename"`
	Filepath  string     `json:"filepath"`
	S3URL     string     `json:"s3_url,omitempty"`
	S3Key     string     `json:"s3_key,omitempty"`
	FileSize  int64      `json:"file_size"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
