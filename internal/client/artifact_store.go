package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/makeasinger/orchestrator/internal/logging"
	"github.com/makeasinger/orchestrator/internal/metrics"
	"github.com/makeasinger/orchestrator/internal/model"
)

const (
	contentAddressPrefix     = "sha256:"
	placeholderAddressPrefix = "local:"
	artifactKeyPrefix        = "artifacts/"
)

// placeholderNamespace seeds deterministic placeholder ids.
var placeholderNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("makeasinger:artifact-placeholder"))

var errStorageNotConfigured = errors.New("artifact storage not configured")

// ArtifactMetadata is the document stored for one generated item.
type ArtifactMetadata struct {
	ItemID          string    `json:"itemId"`
	TaskID          string    `json:"taskId"`
	Version         string    `json:"version"`
	Title           string    `json:"title"`
	MediaURL        string    `json:"mediaUrl"`
	ImageURL        string    `json:"imageUrl,omitempty"`
	DurationSeconds float64   `json:"durationSeconds"`
	Tags            []string  `json:"tags,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// MetadataFor builds the stored document for an item
func MetadataFor(item *model.GeneratedItem) ArtifactMetadata {
	return ArtifactMetadata{
		ItemID:          item.ItemID,
		TaskID:          item.TaskID,
		Version:         item.Version,
		Title:           item.Title,
		MediaURL:        item.MediaURL,
		ImageURL:        item.ImageURL,
		DurationSeconds: item.DurationSeconds,
		Tags:            item.Tags,
		CreatedAt:       item.CreatedAt.UTC(),
	}
}

// UploadResult carries the address an item ends up with. Degraded results hold a
// placeholder address and the cause in Err.
type UploadResult struct {
	Address  string
	Degraded bool
	Err      error
}

// ArtifactUploader is the orchestrator's view of the artifact store.
type ArtifactUploader interface {
	Upload(ctx context.Context, meta ArtifactMetadata) UploadResult
}

// ArtifactRemover deletes stored artifacts by address.
type ArtifactRemover interface {
	Remove(ctx context.Context, address string) error
}

// ArtifactStore writes metadata documents to object storage under their content address
type ArtifactStore struct {
	storage StorageClient
	log     *zerolog.Logger
}

// NewArtifactStore creates an artifact store. A nil storage client keeps every
// upload in degraded mode.
func NewArtifactStore(storage StorageClient, logger *zerolog.Logger) *ArtifactStore {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ArtifactStore{
		storage: storage,
		log:     logging.Component(logger, "artifacts"),
	}
}

// Upload stores meta and returns its content address. It never fails: any error
// yields a placeholder address with Degraded set.
func (s *ArtifactStore) Upload(ctx context.Context, meta ArtifactMetadata) UploadResult {
	addr, err := s.UploadStrict(ctx, meta)
	if err != nil {
		metrics.IncArtifactUpload("degraded")
		return UploadResult{
			Address:  PlaceholderAddress(meta),
			Degraded: true,
			Err:      err,
		}
	}
	metrics.IncArtifactUpload("stored")
	return UploadResult{Address: addr}
}

// UploadStrict is Upload without the placeholder fallback. Errors wrap model.ErrStorageUpload.
func (s *ArtifactStore) UploadStrict(ctx context.Context, meta ArtifactMetadata) (string, error) {
	if s.storage == nil {
		return "", fmt.Errorf("%w: %v", model.ErrStorageUpload, errStorageNotConfigured)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("%w: encode metadata: %v", model.ErrStorageUpload, err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	key := artifactKey(digest)

	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("existence check failed, uploading anyway")
	}
	if !exists {
		if err := s.storage.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
			return "", fmt.Errorf("%w: %v", model.ErrStorageUpload, err)
		}
	}

	s.log.Debug().Str("item_id", meta.ItemID).Str("key", key).Bool("existed", exists).Msg("artifact stored")
	return contentAddressPrefix + digest, nil
}

// Remove deletes the object stored under a content address. Placeholder
// addresses were never stored and are ignored.
func (s *ArtifactStore) Remove(ctx context.Context, address string) error {
	digest, ok := strings.CutPrefix(address, contentAddressPrefix)
	if !ok || digest == "" {
		return nil
	}
	if s.storage == nil {
		return errStorageNotConfigured
	}
	if err := s.storage.Delete(ctx, artifactKey(digest)); err != nil {
		return fmt.Errorf("delete artifact %s: %w", address, err)
	}
	return nil
}

func artifactKey(digest string) string {
	return artifactKeyPrefix + digest + ".json"
}

// ContentAddress returns the address meta would be stored under.
func ContentAddress(meta ArtifactMetadata) (string, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return contentAddressPrefix + hex.EncodeToString(sum[:]), nil
}

// PlaceholderAddress is the deterministic local address used when storage is unreachable.
func PlaceholderAddress(meta ArtifactMetadata) string {
	data, err := json.Marshal(meta)
	if err != nil {
		data = []byte(meta.ItemID)
	}
	return placeholderAddressPrefix + uuid.NewSHA1(placeholderNamespace, data).String()
}

// IsPlaceholderAddress reports whether addr was produced by PlaceholderAddress
func IsPlaceholderAddress(addr string) bool {
	return strings.HasPrefix(addr, placeholderAddressPrefix)
}
