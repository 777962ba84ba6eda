// Package upload pushes extracted audio files to object storage and
// returns presigned GET URLs for the transcription service.
//
// Uploads are skip-existing: a remote object that already exists under the
// item's numbered key is reused rather than re-uploaded, so the stage is
// safe to re-run wholesale after a partial failure.
package upload

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mediascribe/mediascribe/pkg/manifest"
	"github.com/mediascribe/mediascribe/pkg/provider"
	"github.com/mediascribe/mediascribe/pkg/stage"
)

const (
	// DefaultKeyPrefix roots all uploaded audio under one prefix.
	DefaultKeyPrefix = "audio_transcription/"

	// DefaultURLTTL is the presigned GET URL lifetime. It must outlive
	// the longest transcription batch.
	DefaultURLTTL = 24 * time.Hour
)

// Config configures an Uploader.
type Config struct {
	// KeyPrefix is the object key prefix. Default DefaultKeyPrefix.
	KeyPrefix string

	// URLTTL is the presigned URL lifetime. Default DefaultURLTTL.
	URLTTL time.Duration
}

// Uploader uploads audio files through a provider.Store.
type Uploader struct {
	store  provider.Store
	cfg    Config
	logger *zap.Logger
}

// New creates an Uploader. A nil logger is replaced with a no-op logger.
func New(store provider.Store, cfg Config, logger *zap.Logger) *Uploader {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = DefaultURLTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{store: store, cfg: cfg, logger: logger}
}

// Key returns the object key for an item ordinal.
func (u *Uploader) Key(ordinal int) string {
	return fmt.Sprintf("%s%03d.mp3", u.cfg.KeyPrefix, ordinal)
}

// Worker returns the stage worker function for one audio record.
//
// An object already present under the item's key yields a skipped outcome
// with a fresh presigned URL; otherwise the file is uploaded and presigned.
func (u *Uploader) Worker() stage.WorkerFn[manifest.AudioRecord, manifest.UploadRecord] {
	return func(ctx context.Context, idx int, audio manifest.AudioRecord) stage.Outcome[manifest.UploadRecord] {
		return u.uploadOne(ctx, audio)
	}
}

func (u *Uploader) uploadOne(ctx context.Context, audio manifest.AudioRecord) stage.Outcome[manifest.UploadRecord] {
	key := u.Key(audio.Ordinal)

	if _, err := u.store.Head(ctx, key); err == nil {
		url, perr := u.store.PresignGet(ctx, key, u.cfg.URLTTL)
		if perr != nil {
			return stage.Failure[manifest.UploadRecord](fmt.Errorf("presign existing object %s: %w", key, perr))
		}
		u.logger.Debug("Remote object exists, skipping upload", zap.String("key", key))
		return stage.Skipped(manifest.UploadRecord{Ordinal: audio.Ordinal, Key: key, URL: url})
	} else if !provider.IsNotFound(err) {
		return stage.Failure[manifest.UploadRecord](fmt.Errorf("check remote object %s: %w", key, err))
	}

	f, err := os.Open(audio.Path)
	if err != nil {
		return stage.Failure[manifest.UploadRecord](fmt.Errorf("open audio %s: %w", audio.Path, err))
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return stage.Failure[manifest.UploadRecord](fmt.Errorf("stat audio %s: %w", audio.Path, err))
	}

	if err := u.store.Put(ctx, key, f, info.Size()); err != nil {
		return stage.Failure[manifest.UploadRecord](fmt.Errorf("upload %s: %w", key, err))
	}

	url, err := u.store.PresignGet(ctx, key, u.cfg.URLTTL)
	if err != nil {
		return stage.Failure[manifest.UploadRecord](fmt.Errorf("presign %s: %w", key, err))
	}

	u.logger.Debug("Uploaded audio",
		zap.String("key", key),
		zap.Int64("bytes", info.Size()))
	return stage.Success(manifest.UploadRecord{Ordinal: audio.Ordinal, Key: key, URL: url})
}
