package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"realtime-canvas/internal/model"
)

// FileSink <dir>/<id>.json 으로 저장
type FileSink struct {
	dir string
	mu  sync.Mutex
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (f *FileSink) Name() string { return "file" }

func (f *FileSink) path(id string) string {
	return filepath.Join(f.dir, filepath.Base(id)+".json")
}

// Write 임시 파일에 쓴 뒤 교체하므로 부분적으로 쓰인 아카이브는 남지 않는다
func (f *FileSink) Write(ctx context.Context, a *model.Archive) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.path(a.ID)
	if _, err := os.Stat(p); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, a.ID)
	}
	if err := atomic.WriteFile(p, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func (f *FileSink) Read(id string) (*model.Archive, error) {
	data, err := os.ReadFile(f.path(id))
	if err != nil {
		return nil, err
	}
	var a model.Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode archive %s: %w", id, err)
	}
	return &a, nil
}

// List 아카이브 id 목록 (오래된 순)
func (f *FileSink) List() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.ParseInt(ids[i], 10, 64)
		b, errB := strconv.ParseInt(ids[j], 10, 64)
		if errA != nil || errB != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})
	return ids, nil
}

// PruneBefore 세션 시작 시각이 cutoff 이전인 아카이브 삭제
func (f *FileSink) PruneBefore(cutoff time.Time) (int, error) {
	ids, err := f.List()
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for _, id := range ids {
		startMs, err := strconv.ParseInt(id, 10, 64)
		if err != nil || startMs >= cutoff.UnixMilli() {
			continue
		}
		if err := os.Remove(f.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
