package client

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"realtime-canvas/internal/model"
)

// StrokeStyle 획 모양
type StrokeStyle struct {
	Color string
	Width float64
}

// Stroke 진행 중인 자유 곡선. 점은 시작점 기준 상대 좌표로 쌓인다.
type Stroke struct {
	c *Client

	mu       sync.Mutex
	accepted model.Element
	last     model.Point
	ended    bool
}

// BeginStroke (x, y) 에서 새 획을 시작한다. 잉크가 비어 있으면 false.
func (c *Client) BeginStroke(x, y float64, style StrokeStyle) (*Stroke, bool) {
	if !c.ink.Consume(0) {
		return nil, false
	}
	if style.Color == "" {
		style.Color = c.opts.Color
	}
	if style.Width <= 0 {
		style.Width = 2
	}

	el := model.Element{
		ID:          uuid.NewString(),
		Type:        "freedraw",
		X:           x,
		Y:           y,
		Points:      []model.Point{{0, 0}},
		StrokeColor: style.Color,
		StrokeWidth: style.Width,
	}
	committed := c.rec.CommitLocal(el, c.clock.Now().UnixMilli())
	if err := c.publish(committed); err != nil {
		c.logger.Debug("stroke start not sent", zap.String("element", el.ID), zap.Error(err))
	}
	c.recordDraw()

	return &Stroke{
		c:        c,
		accepted: committed,
		last:     model.Point{x, y},
	}, true
}

// ID 요소 id
func (s *Stroke) ID() string {
	return s.accepted.ID
}

// Element 마지막으로 수락된 상태
func (s *Stroke) Element() model.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted.Clone()
}

// Extend 절대 좌표 점들을 덧붙인다. 늘어난 길이만큼 잉크를 먼저 소모하고,
// 거부되면 마지막으로 수락된 상태를 유지한 채 false 를 돌려준다.
func (s *Stroke) Extend(points ...model.Point) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return false
	}
	if len(points) == 0 {
		return true
	}

	delta := model.SegmentLength(s.last, points...)
	if !s.c.ink.Consume(delta) {
		return false
	}

	next := s.accepted.Clone()
	for _, p := range points {
		next.Points = append(next.Points, model.Point{p.X() - next.X, p.Y() - next.Y})
	}
	committed := s.c.rec.CommitLocal(next, s.c.clock.Now().UnixMilli())
	s.accepted = committed
	s.last = points[len(points)-1]

	if err := s.c.publish(committed); err != nil {
		s.c.logger.Debug("stroke update not sent", zap.String("element", committed.ID), zap.Error(err))
	}
	return true
}

// End 획 종료. 이후 Extend 는 거부된다.
func (s *Stroke) End() model.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	return s.accepted.Clone()
}
