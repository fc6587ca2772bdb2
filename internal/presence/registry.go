package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"

	"realtime-canvas/internal/model"
)

// Entry 접속자 커서 상태
type Entry struct {
	UserID   string    `json:"userId"`
	SocketID string    `json:"socketId"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Color    string    `json:"color,omitempty"`
	UserName string    `json:"userName,omitempty"`
	LastSeen time.Time `json:"lastSeen"`
}

// Cursor 와이어 형식으로 변환
func (e Entry) Cursor() model.CursorData {
	return model.CursorData{
		UserID:   e.UserID,
		X:        e.X,
		Y:        e.Y,
		Color:    e.Color,
		UserName: e.UserName,
	}
}

// Registry 키별 커서 상태 (서버는 소켓 id, 참여자는 사용자 id 로 키를 잡는다)
type Registry struct {
	clock quartz.Clock

	mu      sync.RWMutex
	entries map[string]Entry
}

func NewRegistry(clock quartz.Clock) *Registry {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Registry{clock: clock, entries: make(map[string]Entry)}
}

// Upsert 첫 이벤트면 생성, 이후엔 갱신. 생성 여부를 돌려준다.
func (r *Registry) Upsert(key, socketID string, c model.CursorData) (Entry, bool) {
	e := Entry{
		UserID:   c.UserID,
		SocketID: socketID,
		X:        c.X,
		Y:        c.Y,
		Color:    c.Color,
		UserName: c.UserName,
		LastSeen: r.clock.Now(),
	}
	r.mu.Lock()
	_, existed := r.entries[key]
	r.entries[key] = e
	r.mu.Unlock()
	return e, !existed
}

// Remove 항목 삭제
func (r *Registry) Remove(key string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	return e, ok
}

func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// List 사용자 id 순으로 정렬된 목록
func (r *Registry) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID == out[j].UserID {
			return out[i].SocketID < out[j].SocketID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// PruneStale maxAge 동안 갱신이 없던 항목을 지우고 반환한다
func (r *Registry) PruneStale(maxAge time.Duration) []Entry {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []Entry
	for k, e := range r.entries {
		if now.Sub(e.LastSeen) >= maxAge {
			removed = append(removed, e)
			delete(r.entries, k)
		}
	}
	return removed
}
