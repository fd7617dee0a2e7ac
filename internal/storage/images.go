package storage

import (
	"fmt"

	"quickchat/internal/models"

	"go.etcd.io/bbolt"
)

// put encodes rec and stores it under its own key.
func put(b *bbolt.Bucket, rec Storeable) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %w", rec, err)
	}
	return b.Put(rec.Key(), data)
}

// get decodes the record stored under key into rec.
func get(b *bbolt.Bucket, key []byte, rec Storeable) error {
	data := b.Get(key)
	if data == nil {
		return models.ErrNotFound
	}
	return rec.UnmarshalBinary(data)
}

// PutImage records where an uploaded image lives in the file store.
func (s *BboltStorage) PutImage(meta ImageMetadata) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketImages), &meta)
	})
}

func (s *BboltStorage) GetImage(id string) (ImageMetadata, error) {
	var meta ImageMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx.Bucket(bucketImages), []byte(id), &meta)
	})
	if err != nil {
		return ImageMetadata{}, fmt.Errorf("image %s: %w", id, err)
	}
	return meta, nil
}
