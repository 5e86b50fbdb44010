package generate_project

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domainagg "github.com/yungbote/layered-backend/internal/domain/aggregates"
	"github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/platform/logger"
	"github.com/yungbote/layered-backend/internal/platform/objectstore"
)

// uploadOutput re-hosts output index of a prediction. Bytes are written before
// the ledger row, so a crash in between leaves bytes without a row, and the next
// attempt finds them through Stat instead of fetching again.
func (e *Engine) uploadOutput(ctx context.Context, predictionID string, index int, img projects.OutputImage) (string, error) {
	blobID := projects.OutputBlobID(predictionID, index)

	exists, err := e.ledger.BlobExists(ctx, blobID)
	if err != nil {
		return "", ledgerErr(err)
	}
	if exists {
		return blobID, nil
	}

	var size int64
	attrs, err := e.store.Stat(ctx, blobID)
	switch {
	case err == nil:
		size = attrs.Size
	case errors.Is(err, objectstore.ErrNotFound):
		data, err := e.fetcher.Fetch(ctx, img.URL)
		if err != nil {
			return "", fmt.Errorf("fetch output %d: %w", index, err)
		}
		if err := e.store.Put(ctx, blobID, data, img.ContentType); err != nil {
			return "", fmt.Errorf("store output %d: %w", index, err)
		}
		size = int64(len(data))
	default:
		return "", fmt.Errorf("stat output %d: %w", index, err)
	}

	err = e.ledger.InsertOutputBlob(ctx, domainagg.OutputBlobInput{
		PredictionID: predictionID,
		Position:     index,
		Blob: projects.Blob{
			ID:          blobID,
			ContentType: img.ContentType,
			FileName:    img.FileName,
			FileSize:    size,
			Width:       img.Width,
			Height:      img.Height,
		},
	})
	if domainagg.IsCode(err, domainagg.CodeConflict) {
		// A concurrent attempt inserted the same rows.
		return blobID, nil
	}
	if err != nil {
		return "", ledgerErr(err)
	}
	return blobID, nil
}

// caption never fails the job: any error or blank answer yields nil.
func (e *Engine) caption(ctx context.Context, log *logger.Logger, imageURL string) *string {
	if e.captioner == nil {
		return nil
	}
	name, err := e.captioner.Caption(ctx, imageURL)
	if err != nil {
		log.Warn("caption failed; continuing without a name", "error", err)
		return nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return &name
}
