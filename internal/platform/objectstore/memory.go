package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sync"
	"time"
)

type memoryObject struct {
	data  []byte
	attrs ObjectAttrs
}

// MemoryStore keeps objects in process memory. It backs OBJECT_STORAGE_MODE=memory
// and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]memoryObject{}}
}

func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}
	sum := md5.Sum(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{
		data: append([]byte(nil), data...),
		attrs: ObjectAttrs{
			Size:        int64(len(data)),
			ContentType: contentType,
			Updated:     time.Now(),
			ETag:        hex.EncodeToString(sum[:]),
		},
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{Body: io.NopCloser(bytes.NewReader(obj.data)), Attrs: obj.attrs}, nil
}

func (s *MemoryStore) Stat(ctx context.Context, key string) (*ObjectAttrs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	attrs := obj.attrs
	return &attrs, nil
}

// Len reports how many keys are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
