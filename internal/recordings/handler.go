package recordings

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ripplenote/backend/internal/calls"
	"github.com/ripplenote/backend/internal/models"
	"github.com/ripplenote/backend/internal/realtime"
	"github.com/ripplenote/backend/pkg/queue"
	"github.com/ripplenote/backend/pkg/response"
	"github.com/ripplenote/backend/pkg/storage"
)

// RoomDirectory resolves room membership for the start-recording precondition.
type RoomDirectory interface {
	GetRoom(roomID string) (calls.RoomInfo, bool)
}

// Uploader pushes a recording file to durable storage. Optional; nil disables
// upload endpoints.
type Uploader interface {
	UploadRecording(ctx context.Context, localPath, recordingID string) (*storage.UploadResult, error)
	PresignDownload(ctx context.Context, key string) (string, error)
	PresignExpire() time.Duration
}

// Handler handles recording HTTP endpoints and orchestrates upload.
type Handler struct {
	manager    *Manager
	rooms      RoomDirectory
	uploader   Uploader
	repo       *Repository  // optional: durable archive
	jobs       *queue.Queue // optional: async upload
	hub        *realtime.Hub
	autoUpload bool
	logger     *zap.Logger
}

// NewHandler creates a recordings handler. uploader, repo, jobs, and hub are
// all optional.
func NewHandler(manager *Manager, rooms RoomDirectory, uploader Uploader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, rooms: rooms, uploader: uploader, logger: logger}
}

// SetArchive enables the durable archive repository.
func (h *Handler) SetArchive(repo *Repository) { h.repo = repo }

// SetUploadQueue enables async upload jobs; autoUpload enqueues one on stop.
func (h *Handler) SetUploadQueue(jobs *queue.Queue, autoUpload bool) {
	h.jobs = jobs
	h.autoUpload = autoUpload
}

// SetHub enables room event notifications.
func (h *Handler) SetHub(hub *realtime.Hub) { h.hub = hub }

type startRequest struct {
	RoomID string `json:"room_id" binding:"required"`
	UserID string `json:"user_id" binding:"required"`
}

// Start handles POST /api/recording/start. The participant must currently be
// in the room.
func (h *Handler) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "room_id and user_id are required")
		return
	}
	room, ok := h.rooms.GetRoom(req.RoomID)
	if !ok {
		response.NotFound(c, "call room not found")
		return
	}
	if !room.HasParticipant(req.UserID) {
		response.BadRequest(c, "user is not a participant of the call room")
		return
	}

	info, err := h.manager.Start(req.RoomID, req.UserID)
	if err != nil {
		h.logger.Error("start recording failed",
			zap.String("room_id", req.RoomID),
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		response.FromError(c, err)
		return
	}
	h.notify(req.RoomID, "recording_started", gin.H{"recording_id": info.RecordingID, "user_id": req.UserID})
	response.OK(c, info)
}

// Stop handles POST /api/recording/stop/:recording_id.
func (h *Handler) Stop(c *gin.Context) {
	recordingID := c.Param("recording_id")
	info, err := h.manager.Stop(recordingID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	h.archive(c.Request.Context(), info)
	if h.autoUpload && h.jobs != nil {
		if err := h.jobs.EnqueueUpload(c.Request.Context(), queue.UploadPayload{RecordingID: recordingID}); err != nil {
			h.logger.Warn("enqueue upload failed", zap.String("recording_id", recordingID), zap.Error(err))
		}
	}
	h.notify(info.RoomID, "recording_stopped", gin.H{"recording_id": info.RecordingID})
	response.OK(c, info)
}

// Get handles GET /api/recording/:recording_id.
func (h *Handler) Get(c *gin.Context) {
	info, ok := h.manager.Get(c.Param("recording_id"))
	if !ok {
		response.NotFound(c, "recording not found")
		return
	}
	response.OK(c, info)
}

// List handles GET /api/recordings?room_id=.
func (h *Handler) List(c *gin.Context) {
	response.OK(c, h.manager.List(c.Query("room_id")))
}

// Upload handles POST /api/recording/:recording_id/upload. The recording must
// be stopped; re-uploads are allowed as long as the local file still exists.
func (h *Handler) Upload(c *gin.Context) {
	if h.uploader == nil {
		response.ServiceUnavailable(c, "storage not configured")
		return
	}
	recordingID := c.Param("recording_id")
	info, ok := h.manager.Get(recordingID)
	if !ok {
		response.NotFound(c, "recording not found")
		return
	}
	if info.Status != StatusStopped {
		response.BadRequest(c, "recording must be stopped before upload")
		return
	}

	result, err := h.uploader.UploadRecording(c.Request.Context(), info.Filepath, recordingID)
	if err != nil {
		h.logger.Error("upload failed", zap.String("recording_id", recordingID), zap.Error(err))
		response.FromError(c, err)
		return
	}
	if h.repo != nil {
		if err := h.repo.MarkUploaded(c.Request.Context(), recordingID, result.URL, result.Key, result.Size); err != nil {
			h.logger.Warn("archive update failed", zap.String("recording_id", recordingID), zap.Error(err))
		}
	}
	response.OK(c, gin.H{
		"recording_id": recordingID,
		"s3_url":       result.URL,
		"s3_key":       result.Key,
		"file_size":    result.Size,
		"status":       "uploaded",
	})
}

// DownloadURL handles GET /api/recording/:recording_id/download-url using the
// durable archive.
func (h *Handler) DownloadURL(c *gin.Context) {
	if h.uploader == nil || h.repo == nil {
		response.ServiceUnavailable(c, "storage not configured")
		return
	}
	recordingID := c.Param("recording_id")
	rec, err := h.repo.GetByID(c.Request.Context(), recordingID)
	if err != nil {
		h.logger.Error("archive lookup failed", zap.String("recording_id", recordingID), zap.Error(err))
		response.Internal(c, "failed to look up recording")
		return
	}
	if rec == nil {
		response.NotFound(c, "recording not found")
		return
	}
	if rec.S3Key == "" {
		response.BadRequest(c, "recording not uploaded")
		return
	}
	url, err := h.uploader.PresignDownload(c.Request.Context(), rec.S3Key)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{
		"download_url": url,
		"expires_in":   int(h.uploader.PresignExpire().Seconds()),
	})
}

func (h *Handler) archive(ctx context.Context, info Info) {
	if h.repo == nil {
		return
	}
	row := &models.Recording{
		ID:        info.RecordingID,
		RoomID:    info.RoomID,
		UserID:    info.UserID,
		Filename:  info.Filename,
		Filepath:  info.Filepath,
		Status:    models.RecordingStatusStopped,
		StartedAt: info.StartedAt,
		StoppedAt: info.StoppedAt,
	}
	if err := h.repo.Create(ctx, row); err != nil {
		h.logger.Warn("archive insert failed", zap.String("recording_id", info.RecordingID), zap.Error(err))
	}
}

func (h *Handler) notify(roomID, event string, payload interface{}) {
	if h.hub != nil {
		h.hub.Broadcast(roomID, event, payload)
	}
}
