package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"quickchat/internal/content"
	"quickchat/internal/models"
	"quickchat/internal/storage"

	"github.com/google/uuid"
)

const ImagePathPrefix = "/api/images/"

type MetadataStore interface {
	PutImage(meta storage.ImageMetadata) error
	GetImage(id string) (storage.ImageMetadata, error)
}

// Images stores uploaded pictures: the bytes go to the FileStore, the
// metadata to the database.
type Images struct {
	files    FileStore
	meta     MetadataStore
	maxBytes int
	now      func() time.Time
}

func NewImages(files FileStore, meta MetadataStore, maxBytes int) *Images {
	return &Images{
		files:    files,
		meta:     meta,
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// Save decodes a data URL or base64 payload, checks that it is an image and
// stores it. It returns the URL path the image is served from.
func (i *Images) Save(userID, payload string) (string, error) {
	img, err := content.DecodeImage(payload, i.maxBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrInvalidInput, err)
	}

	sum := sha256.Sum256(img.Data)
	hash := hex.EncodeToString(sum[:])
	if err := i.files.Save(bytes.NewReader(img.Data), hash); err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}

	meta := storage.ImageMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		MimeType:  img.MimeType,
		Size:      int64(len(img.Data)),
		CreatedAt: i.now().UnixMilli(),
		UserID:    userID,
	}
	if err := i.meta.PutImage(meta); err != nil {
		return "", fmt.Errorf("failed to store image metadata: %w", err)
	}
	return ImagePathPrefix + meta.ID, nil
}

// Open returns the image content and its metadata. The caller closes the reader.
func (i *Images) Open(id string) (io.ReadCloser, storage.ImageMetadata, error) {
	meta, err := i.meta.GetImage(id)
	if err != nil {
		return nil, storage.ImageMetadata{}, err
	}
	rc, err := i.files.Get(meta.Hash)
	if err != nil {
		return nil, storage.ImageMetadata{}, err
	}
	return rc, meta, nil
}
