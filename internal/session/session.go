package session

import (
	"strconv"
	"time"
)

// Session 현재 캔버스 세션. id 는 시작 시각(epoch ms)에서 파생된다.
type Session struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"-"`
}

func newSession(start time.Time) Session {
	return Session{
		ID:        strconv.FormatInt(start.UnixMilli(), 10),
		StartTime: start,
	}
}

// StartMs 시작 시각 (epoch ms)
func (s Session) StartMs() int64 {
	return s.StartTime.UnixMilli()
}

// Age now 기준 경과 시간
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.StartTime)
}
