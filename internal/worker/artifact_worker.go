package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/makeasinger/orchestrator/internal/cache"
	"github.com/makeasinger/orchestrator/internal/client"
	"github.com/makeasinger/orchestrator/internal/logging"
	"github.com/makeasinger/orchestrator/internal/metrics"
	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/service"
)

// StrictUploader stores metadata and reports failures instead of degrading
type StrictUploader interface {
	UploadStrict(ctx context.Context, meta client.ArtifactMetadata) (string, error)
}

// ArtifactAttacher records a stored address on an item of a connected account
type ArtifactAttacher interface {
	AttachArtifact(ctx context.Context, user, itemID, address string) error
}

// ArtifactWorker re-uploads items that were stored under a placeholder address
type ArtifactWorker struct {
	artifacts StrictUploader
	sessions  ArtifactAttacher
	cache     *cache.Store
	log       *zerolog.Logger
}

// NewArtifactWorker creates a new artifact worker
func NewArtifactWorker(artifacts StrictUploader, sessions ArtifactAttacher, store *cache.Store, logger *zerolog.Logger) *ArtifactWorker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ArtifactWorker{
		artifacts: artifacts,
		sessions:  sessions,
		cache:     store,
		log:       logging.Component(logger, "artifact-worker"),
	}
}

// ProcessTask handles artifact upload tasks. Upload errors are returned so
// asynq retries with its own backoff.
func (w *ArtifactWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := service.ParseArtifactUploadPayload(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	meta := payload.Metadata
	log := w.log.With().Str("user", payload.User).Str("item_id", meta.ItemID).Logger()

	addr, err := w.artifacts.UploadStrict(ctx, meta)
	if err != nil {
		metrics.IncArtifactUpload("retry_failed")
		log.Warn().Err(err).Msg("artifact retry failed")
		return err
	}
	metrics.IncArtifactUpload("retried")

	err = w.sessions.AttachArtifact(ctx, payload.User, meta.ItemID, addr)
	switch {
	case err == nil:
		log.Info().Str("address", addr).Msg("artifact attached")
		return nil
	case errors.Is(err, model.ErrNotConnected):
		return w.patchCache(ctx, payload.User, meta.ItemID, addr, &log)
	case errors.Is(err, model.ErrTaskNotFound):
		// The item was cleared or pruned while the task waited.
		log.Info().Msg("artifact stored for an item no longer tracked")
		return nil
	default:
		return err
	}
}

func (w *ArtifactWorker) patchCache(ctx context.Context, user, itemID, addr string, log *zerolog.Logger) error {
	if w.cache == nil {
		return nil
	}
	found, err := w.cache.UpdateItem(ctx, user, itemID, func(it *model.GeneratedItem) {
		it.ArtifactAddress = addr
		it.ArtifactDegraded = false
	})
	if err != nil {
		return err
	}
	log.Info().Bool("cached", found).Str("address", addr).Msg("artifact recorded for offline account")
	return nil
}
