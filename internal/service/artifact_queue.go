package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/makeasinger/orchestrator/internal/client"
	"github.com/makeasinger/orchestrator/internal/logging"
)

const (
	TaskTypeArtifactUpload = "artifact:upload"
	ArtifactQueueName      = "artifacts"
)

// Enqueuer is the part of *asynq.Client the queue needs
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ArtifactUploadPayload is the body of an artifact re-upload task
type ArtifactUploadPayload struct {
	User     string                  `json:"user"`
	Metadata client.ArtifactMetadata `json:"metadata"`
}

// ArtifactQueue schedules background re-uploads for items stored under a
// placeholder address
type ArtifactQueue struct {
	asynqClient Enqueuer
	maxRetry    int
	log         *zerolog.Logger
}

func NewArtifactQueue(asynqClient Enqueuer, logger *zerolog.Logger) *ArtifactQueue {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ArtifactQueue{
		asynqClient: asynqClient,
		maxRetry:    8,
		log:         logging.Component(logger, "artifact-queue"),
	}
}

// EnqueueArtifactUpload queues one re-upload per item. A task already queued for
// the same item is not queued again.
func (q *ArtifactQueue) EnqueueArtifactUpload(ctx context.Context, user string, meta client.ArtifactMetadata) error {
	task, err := NewArtifactUploadTask(user, meta)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := q.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue(ArtifactQueueName),
		asynq.TaskID(artifactTaskID(meta.ItemID)),
		asynq.MaxRetry(q.maxRetry),
		asynq.Timeout(time.Minute),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		q.log.Debug().Str("item_id", meta.ItemID).Msg("artifact upload already queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.log.Info().Str("item_id", meta.ItemID).Str("asynq_id", info.ID).Msg("artifact upload queued")
	return nil
}

// NewArtifactUploadTask builds the asynq task for an item
func NewArtifactUploadTask(user string, meta client.ArtifactMetadata) (*asynq.Task, error) {
	data, err := json.Marshal(ArtifactUploadPayload{User: user, Metadata: meta})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeArtifactUpload, data), nil
}

// ParseArtifactUploadPayload decodes a task produced by NewArtifactUploadTask
func ParseArtifactUploadPayload(t *asynq.Task) (*ArtifactUploadPayload, error) {
	var p ArtifactUploadPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if p.User == "" || p.Metadata.ItemID == "" {
		return nil, fmt.Errorf("artifact task missing user or item id")
	}
	return &p, nil
}

func artifactTaskID(itemID string) string {
	return "artifact:" + itemID
}
