package cache

import (
	"context"
	"sync"
	"time"
)

// ArtistCounter 하루 동안 요소 배치를 한 번 이상 보낸 서로 다른 사용자 수
type ArtistCounter interface {
	Add(ctx context.Context, day, userID string) error
	Count(ctx context.Context, day string) (int64, error)
}

// DayKey 달력 날짜 키 (YYYY-MM-DD)
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("2006-01-02")
}

// MemoryArtistCounter Redis 가 없을 때 사용. 최근 이틀치만 유지한다.
type MemoryArtistCounter struct {
	mu   sync.Mutex
	days map[string]map[string]struct{}
	keep []string
}

func NewMemoryArtistCounter() *MemoryArtistCounter {
	return &MemoryArtistCounter{days: make(map[string]map[string]struct{})}
}

func (m *MemoryArtistCounter) Add(_ context.Context, day, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.days[day]
	if !ok {
		set = make(map[string]struct{})
		m.days[day] = set
		m.keep = append(m.keep, day)
		for len(m.keep) > 2 {
			delete(m.days, m.keep[0])
			m.keep = m.keep[1:]
		}
	}
	set[userID] = struct{}{}
	return nil
}

func (m *MemoryArtistCounter) Count(_ context.Context, day string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.days[day])), nil
}
