package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"realtime-canvas/internal/model"
)

// ObjectStore 오브젝트 스토리지 (storage.S3Service 가 구현)
type ObjectStore interface {
	PutJSON(ctx context.Context, key string, body []byte) error
	Exists(ctx context.Context, key string) (bool, error)
}

// S3Sink <prefix><id>.json 객체로 저장
type S3Sink struct {
	store  ObjectStore
	prefix string
}

func NewS3Sink(store ObjectStore, prefix string) *S3Sink {
	return &S3Sink{store: store, prefix: prefix}
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) Key(id string) string {
	return s.prefix + path.Base(id) + ".json"
}

func (s *S3Sink) Write(ctx context.Context, a *model.Archive) error {
	key := s.Key(a.ID)
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrExists, key)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	return s.store.PutJSON(ctx, key, data)
}
