package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Archive 종료된 세션의 불변 스냅샷
type Archive struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"`
	StartTime   int64     `json:"startTime"`
	EndTime     int64     `json:"endTime"`
	StrokeCount int       `json:"strokeCount"`
	Elements    []Element `json:"elements"`
}

// NewArchive 세션 시작/종료 시각과 요소 목록으로 아카이브 생성
func NewArchive(id string, start, end time.Time, elements []Element) *Archive {
	if elements == nil {
		elements = []Element{}
	}
	return &Archive{
		ID:          id,
		Date:        end.UTC().Format(time.RFC3339Nano),
		StartTime:   start.UnixMilli(),
		EndTime:     end.UnixMilli(),
		StrokeCount: len(elements),
		Elements:    elements,
	}
}

// ArchiveRecord canvas_archives 테이블 행
type ArchiveRecord struct {
	ID          string    `gorm:"primaryKey;type:varchar(32)" json:"id"`
	Date        string    `gorm:"type:varchar(40);not null" json:"date"`
	StartTime   int64     `gorm:"not null" json:"start_time"`
	EndTime     int64     `gorm:"not null;index" json:"end_time"`
	StrokeCount int       `gorm:"not null" json:"stroke_count"`
	Elements    string    `gorm:"type:jsonb;not null" json:"elements"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ArchiveRecord) TableName() string {
	return "canvas_archives"
}

// NewArchiveRecord 아카이브를 DB 행으로 변환
func NewArchiveRecord(a *Archive) (*ArchiveRecord, error) {
	elements := a.Elements
	if elements == nil {
		elements = []Element{}
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return nil, fmt.Errorf("marshal elements: %w", err)
	}
	return &ArchiveRecord{
		ID:          a.ID,
		Date:        a.Date,
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		StrokeCount: a.StrokeCount,
		Elements:    string(data),
	}, nil
}

// ToArchive DB 행을 아카이브로 복원
func (r *ArchiveRecord) ToArchive() (*Archive, error) {
	var elements []Element
	if err := json.Unmarshal([]byte(r.Elements), &elements); err != nil {
		return nil, fmt.Errorf("unmarshal elements of archive %s: %w", r.ID, err)
	}
	return &Archive{
		ID:          r.ID,
		Date:        r.Date,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		StrokeCount: r.StrokeCount,
		Elements:    elements,
	}, nil
}
