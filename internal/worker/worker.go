package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ripplenote/backend/internal/models"
	"github.com/ripplenote/backend/internal/recordings"
	"github.com/ripplenote/backend/pkg/queue"
	"github.com/ripplenote/backend/pkg/storage"
)

// UploadProcessor drains the upload queue and pushes stopped recordings to S3.
type UploadProcessor struct {
	jobs   *queue.Queue
	repo   *recordings.Repository
	store  *storage.S3
	logger *zap.Logger
}

// NewUploadProcessor creates an upload worker.
func NewUploadProcessor(jobs *queue.Queue, repo *recordings.Repository, store *storage.S3, logger *zap.Logger) *UploadProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadProcessor{jobs: jobs, repo: repo, store: store, logger: logger}
}

// Run consumes jobs until ctx is cancelled. Failed jobs are retried with
// backoff and land in the DLQ after the retry budget is spent.
func (p *UploadProcessor) Run(ctx context.Context) {
	p.logger.Info("upload worker started")
	for {
		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("upload worker stopping")
				return
			}
			p.logger.Error("dequeue failed", zap.Error(err))
			select {
			case <-time.After(queue.RetryBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		if job == nil {
			continue
		}
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed",
				zap.String("job_id", job.ID),
				zap.Int("attempt", job.Attempt),
				zap.Error(err),
			)
			if rerr := p.jobs.Retry(ctx, job); rerr != nil {
				p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(rerr))
			}
			select {
			case <-time.After(queue.RetryBackoff):
			case <-ctx.Done():
				return
			}
		}
	}
}

// Process handles a single job.
func (p *UploadProcessor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeRecordingUpload:
		var payload queue.UploadPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			p.logger.Warn("discarding malformed upload job", zap.String("job_id", job.ID), zap.Error(err))
			return nil
		}
		return p.upload(ctx, payload.RecordingID)
	default:
		p.logger.Warn("discarding unknown job type", zap.String("type", string(job.Type)))
		return nil
	}
}

func (p *UploadProcessor) upload(ctx context.Context, recordingID string) error {
	rec, err := p.repo.GetByID(ctx, recordingID)
	if err != nil {
		return err
	}
	if rec == nil {
		p.logger.Warn("upload job for unknown recording", zap.String("recording_id", recordingID))
		return nil
	}
	if rec.Status == models.RecordingStatusUploaded {
		p.logger.Debug("recording already uploaded", zap.String("recording_id", recordingID))
		return nil
	}

	result, err := p.store.UploadRecording(ctx, rec.Filepath, recordingID)
	if err != nil {
		return err
	}
	if err := p.repo.MarkUploaded(ctx, recordingID, result.URL, result.Key, result.Size); err != nil {
		return err
	}
	p.logger.Info("recording upload complete",
		zap.String("recording_id", recordingID),
		zap.String("s3_key", result.Key),
	)
	return nil
}
