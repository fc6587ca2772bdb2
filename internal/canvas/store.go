package canvas

import (
	"sync"

	"realtime-canvas/internal/model"
)

// Store 현재 세션의 요소 저장소
// 서버 측 사본은 도착 순서대로 덮어쓴다 (버전 비교 없음).
type Store struct {
	mu    sync.RWMutex
	index map[string]int
	items []model.Element
}

func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Upsert 삽입 또는 id 기준 덮어쓰기. 덮어써도 최초 삽입 위치는 유지된다.
func (s *Store) Upsert(el model.Element) {
	s.mu.Lock()
	s.upsertLocked(el)
	s.mu.Unlock()
}

// UpsertBatch 배치 전체를 한 번의 잠금으로 반영
func (s *Store) UpsertBatch(els []model.Element) {
	if len(els) == 0 {
		return
	}
	s.mu.Lock()
	for _, el := range els {
		s.upsertLocked(el)
	}
	s.mu.Unlock()
}

func (s *Store) upsertLocked(el model.Element) {
	if i, ok := s.index[el.ID]; ok {
		s.items[i] = el
		return
	}
	s.index[el.ID] = len(s.items)
	s.items = append(s.items, el)
}

func (s *Store) Get(id string) (model.Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return model.Element{}, false
	}
	return s.items[i], true
}

// All 삽입 순서대로 복사본 반환
func (s *Store) All() []model.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Element, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()
}

// Drain 스냅샷과 비우기를 원자적으로 수행
func (s *Store) Drain() []model.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.items
	s.clearLocked()
	if out == nil {
		out = []model.Element{}
	}
	return out
}

func (s *Store) clearLocked() {
	s.index = make(map[string]int)
	s.items = nil
}
