package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"path"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	repoprojects "github.com/yungbote/layered-backend/internal/data/repos/projects"
	"github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/platform/apierr"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
	"github.com/yungbote/layered-backend/internal/platform/logger"
	"github.com/yungbote/layered-backend/internal/platform/objectstore"
)

// MaxUploadBytes caps a single source image upload.
const MaxUploadBytes = 20 << 20

var allowedUploadTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

type UploadInput struct {
	FileName    string
	ContentType string
	Data        []byte
}

type BlobService interface {
	Upload(ctx context.Context, in UploadInput) (*projects.Blob, error)
	// Open returns the row and an open read of its bytes. The caller closes Body.
	Open(ctx context.Context, id string) (*projects.Blob, *objectstore.Object, error)
}

type blobService struct {
	log   *logger.Logger
	blobs repoprojects.BlobRepo
	store objectstore.Store
}

func NewBlobService(baseLog *logger.Logger, blobs repoprojects.BlobRepo, store objectstore.Store) BlobService {
	return &blobService{
		log:   baseLog.With("service", "BlobService"),
		blobs: blobs,
		store: store,
	}
}

func (s *blobService) Upload(ctx context.Context, in UploadInput) (*projects.Blob, error) {
	if len(in.Data) == 0 {
		return nil, apierr.BadRequest("empty_file", errors.New("file is empty"))
	}
	if len(in.Data) > MaxUploadBytes {
		return nil, apierr.New(http.StatusRequestEntityTooLarge, "file_too_large",
			fmt.Errorf("file is %d bytes, limit is %d", len(in.Data), MaxUploadBytes))
	}

	// The declared type is only trusted when it agrees with the bytes.
	sniffed := http.DetectContentType(in.Data[:min(512, len(in.Data))])
	if !allowedUploadTypes[sniffed] {
		return nil, apierr.New(http.StatusUnsupportedMediaType, "unsupported_type",
			fmt.Errorf("content type %q is not an accepted image type", sniffed))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(in.Data))
	if err != nil {
		return nil, apierr.BadRequest("invalid_image", fmt.Errorf("decode image header: %w", err))
	}

	id := uuid.NewString()
	name := strings.TrimSpace(path.Base(in.FileName))
	if name == "" || name == "." || name == "/" {
		name = id
	}
	blob := &projects.Blob{
		ID:          id,
		ContentType: sniffed,
		FileName:    name,
		FileSize:    int64(len(in.Data)),
		Width:       cfg.Width,
		Height:      cfg.Height,
	}

	// Bytes first so a row never points at a missing object.
	if err := s.store.Put(ctx, id, in.Data, sniffed); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if err := s.blobs.Create(dbctx.From(ctx), blob); err != nil {
		return nil, fmt.Errorf("insert blob row: %w", err)
	}
	s.log.Info("Blob uploaded", "blob_id", id, "content_type", sniffed, "bytes", blob.FileSize, "width", cfg.Width, "height", cfg.Height)
	return blob, nil
}

func (s *blobService) Open(ctx context.Context, id string) (*projects.Blob, *objectstore.Object, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil, apierr.BadRequest("invalid_blob_id", errors.New("blob id is required"))
	}
	blob, err := s.blobs.GetByID(dbctx.From(ctx), id)
	if err != nil {
		return nil, nil, err
	}
	if blob == nil {
		return nil, nil, apierr.NotFound("blob_not_found", fmt.Errorf("blob %s not found", id))
	}
	obj, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, nil, apierr.NotFound("blob_not_found", fmt.Errorf("blob %s has no stored bytes", id))
		}
		return nil, nil, err
	}
	return blob, obj, nil
}
