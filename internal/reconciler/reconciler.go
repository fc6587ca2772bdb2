package reconciler

import (
	"sync"

	"realtime-canvas/internal/model"
)

// Reconciler 클라이언트 측 요소 병합기
// 요소별 마지막으로 알려진 버전보다 큰 버전만 받아들인다.
type Reconciler struct {
	mu       sync.Mutex
	known    map[string]int64
	editors  map[string]string
	scene    map[string]model.Element
	order    []string
	suppress bool
}

func New() *Reconciler {
	return &Reconciler{
		known:   make(map[string]int64),
		editors: make(map[string]string),
		scene:   make(map[string]model.Element),
	}
}

// FullSync 전체 동기화. 버전 맵과 씬을 배치로 통째로 교체한다.
func (r *Reconciler) FullSync(els []model.Element) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.known = make(map[string]int64, len(els))
	r.editors = make(map[string]string)
	r.scene = make(map[string]model.Element, len(els))
	r.order = r.order[:0]
	for _, el := range els {
		r.putLocked(el)
	}
	r.suppress = true
}

// ApplyRemote 원격 배치 병합. 수락된 요소만 반환한다.
// 버전이 알려진 값 이하인 요소는 조용히 버린다.
func (r *Reconciler) ApplyRemote(origin string, els []model.Element) []model.Element {
	r.mu.Lock()
	defer r.mu.Unlock()

	var accepted []model.Element
	for _, el := range els {
		if !el.IsNewerThan(r.known[el.ID]) {
			continue
		}
		r.putLocked(el)
		r.editors[el.ID] = origin
		accepted = append(accepted, el)
	}
	if len(accepted) > 0 {
		r.suppress = true
	}
	return accepted
}

// DetectLocalChanges 렌더 주기마다 현재 씬으로 호출.
// 직전에 원격 병합이 있었다면 이번 한 번은 건너뛰고 가드를 해제한다.
func (r *Reconciler) DetectLocalChanges(els []model.Element) []model.Element {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.suppress {
		r.suppress = false
		return nil
	}
	var changed []model.Element
	for _, el := range els {
		if !el.IsNewerThan(r.known[el.ID]) {
			continue
		}
		r.putLocked(el)
		delete(r.editors, el.ID)
		changed = append(changed, el)
	}
	return changed
}

// CommitLocal 로컬 편집 확정. 다음 버전을 부여한 사본을 돌려준다.
func (r *Reconciler) CommitLocal(el model.Element, nowMs int64) model.Element {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := el.Touch(r.known[el.ID]+1, nowMs)
	r.putLocked(next)
	delete(r.editors, el.ID)
	return next
}

func (r *Reconciler) putLocked(el model.Element) {
	if _, ok := r.scene[el.ID]; !ok {
		r.order = append(r.order, el.ID)
	}
	r.scene[el.ID] = el
	r.known[el.ID] = el.Version
}

// Version 알려진 버전 (없으면 0)
func (r *Reconciler) Version(id string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known[id]
}

func (r *Reconciler) NextVersion(id string) int64 {
	return r.Version(id) + 1
}

// LastEditor 마지막으로 수락된 원격 편집자. 로컬 편집이면 빈 문자열.
func (r *Reconciler) LastEditor(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.editors[id]
}

func (r *Reconciler) Get(id string) (model.Element, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.scene[id]
	return el, ok
}

// Scene 삭제 표시된 요소를 포함한 전체 씬
func (r *Reconciler) Scene() []model.Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Element, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.scene[id])
	}
	return out
}

// Visible 삭제되지 않은 요소만
func (r *Reconciler) Visible() []model.Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Element, 0, len(r.order))
	for _, id := range r.order {
		if el := r.scene[id]; !el.IsDeleted {
			out = append(out, el)
		}
	}
	return out
}

func (r *Reconciler) Suppressed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suppress
}
