package model

import (
	"encoding/json"
	"math"
)

// Point 캔버스 좌표 [x, y]
type Point [2]float64

func (p Point) X() float64 { return p[0] }
func (p Point) Y() float64 { return p[1] }

// Element 캔버스 드로잉 요소 (획/도형)
// 서버는 수신한 원본 JSON을 그대로 보관했다가 릴레이/아카이브 시 다시 내보낸다.
type Element struct {
	ID          string  `json:"id" validate:"required,max=128"`
	Version     int64   `json:"version" validate:"gte=1"`
	IsDeleted   bool    `json:"isDeleted"`
	Type        string  `json:"type,omitempty" validate:"max=32"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Points      []Point `json:"points,omitempty"`
	StrokeColor string  `json:"strokeColor,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	Updated     int64   `json:"updated,omitempty"`

	raw json.RawMessage
}

type elementFields Element

// UnmarshalJSON 알 수 없는 필드까지 보존하기 위해 원본 바이트를 기억한다
func (e *Element) UnmarshalJSON(data []byte) error {
	var f elementFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*e = Element(f)
	e.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON 원본이 있으면 원본 그대로, 없으면 필드 기준으로 직렬화
func (e Element) MarshalJSON() ([]byte, error) {
	if len(e.raw) > 0 {
		return e.raw, nil
	}
	return json.Marshal(elementFields(e))
}

// Touch 로컬 편집 결과 사본 (버전 갱신, 원본 바이트 폐기)
func (e Element) Touch(version int64, nowMs int64) Element {
	e.Version = version
	e.Updated = nowMs
	e.raw = nil
	if e.Points != nil {
		e.Points = append([]Point(nil), e.Points...)
	}
	return e
}

// Clone 포인트 슬라이스까지 복사
func (e Element) Clone() Element {
	if e.Points != nil {
		e.Points = append([]Point(nil), e.Points...)
	}
	if e.raw != nil {
		e.raw = append(json.RawMessage(nil), e.raw...)
	}
	return e
}

func (e Element) IsNewerThan(version int64) bool {
	return e.Version > version
}

// PathLength 폴리라인 전체 길이
func PathLength(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}
	return SegmentLength(points[0], points[1:]...)
}

// SegmentLength from 에서 시작해 pts 를 차례로 잇는 길이
func SegmentLength(from Point, pts ...Point) float64 {
	total := 0.0
	prev := from
	for _, p := range pts {
		total += math.Hypot(p.X()-prev.X(), p.Y()-prev.Y())
		prev = p
	}
	return total
}

// CursorData 커서 이동 이벤트
type CursorData struct {
	UserID   string  `json:"userId" validate:"required,max=128"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Color    string  `json:"color,omitempty" validate:"max=32"`
	UserName string  `json:"userName,omitempty" validate:"max=64"`
}
