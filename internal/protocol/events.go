package protocol

import (
	"realtime-canvas/internal/model"
)

// EventType 메시지 타입 식별자
type EventType string

// 클라이언트 -> 서버
const (
	TypeSyncRequest    EventType = "sync_request"
	TypeElementsUpdate EventType = "elements_update"
	TypeCursorMove     EventType = "cursor_move"
	TypePing           EventType = "ping"
)

// 서버 -> 클라이언트
const (
	TypeInit            EventType = "init"
	TypeElementsRelay   EventType = "elements_relay"
	TypeCursorUpdate    EventType = "cursor_update"
	TypeCursorRemove    EventType = "cursor_remove"
	TypeConnectionCount EventType = "connection_count"
	TypeReset           EventType = "reset"
	TypePong            EventType = "pong"
)

// ClientEvent 클라이언트가 보내는 이벤트 (닫힌 집합)
type ClientEvent interface {
	ClientType() EventType
}

// ServerEvent 서버가 보내는 이벤트 (닫힌 집합)
type ServerEvent interface {
	ServerType() EventType
}

type SyncRequest struct{}

type ElementsUpdate struct {
	Elements []model.Element
}

type CursorMove struct {
	Cursor model.CursorData
}

type Ping struct{}

func (SyncRequest) ClientType() EventType    { return TypeSyncRequest }
func (ElementsUpdate) ClientType() EventType { return TypeElementsUpdate }
func (CursorMove) ClientType() EventType     { return TypeCursorMove }
func (Ping) ClientType() EventType           { return TypePing }

// Init 전체 동기화 응답
type Init struct {
	Elements    []model.Element `json:"elements"`
	StartTime   int64           `json:"startTime"`
	ArtistCount int64           `json:"artistCount"`
}

// ElementsRelay 다른 연결에서 온 요소 배치
type ElementsRelay struct {
	UserID   string          `json:"userId"`
	Elements []model.Element `json:"elements"`
}

type CursorUpdate struct {
	Cursor model.CursorData
}

type CursorRemove struct {
	UserID string
}

type ConnectionCount struct {
	Count int
}

// Reset 세션 초기화 알림. 수신 측은 sync_request 로 다시 동기화해야 한다.
type Reset struct {
	StartTime int64 `json:"startTime"`
}

type Pong struct{}

func (Init) ServerType() EventType            { return TypeInit }
func (ElementsRelay) ServerType() EventType   { return TypeElementsRelay }
func (CursorUpdate) ServerType() EventType    { return TypeCursorUpdate }
func (CursorRemove) ServerType() EventType    { return TypeCursorRemove }
func (ConnectionCount) ServerType() EventType { return TypeConnectionCount }
func (Reset) ServerType() EventType           { return TypeReset }
func (Pong) ServerType() EventType            { return TypePong }
