package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"realtime-canvas/internal/model"
)

var (
	ErrMalformed      = errors.New("protocol: malformed message")
	ErrUnknownEvent   = errors.New("protocol: unknown event type")
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)

// DefaultMaxBatch 한 메시지에 허용되는 요소 수
const DefaultMaxBatch = 1000

// Envelope 모든 메시지의 공통 틀
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var validate = validator.New()

// Limits 디코딩 제한
type Limits struct {
	MaxBatch int
}

// DecodeClient 클라이언트 메시지 해석. 스키마에 맞지 않으면 에러.
func DecodeClient(data []byte, limits Limits) (ClientEvent, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeSyncRequest:
		return SyncRequest{}, nil
	case TypePing:
		return Ping{}, nil
	case TypeElementsUpdate:
		var els []model.Element
		if err := decodePayload(env, &els); err != nil {
			return nil, err
		}
		limit := limits.MaxBatch
		if limit <= 0 {
			limit = DefaultMaxBatch
		}
		if len(els) > limit {
			return nil, fmt.Errorf("%w: batch of %d exceeds %d", ErrInvalidPayload, len(els), limit)
		}
		for i := range els {
			if err := validateStruct(&els[i]); err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
		}
		return ElementsUpdate{Elements: els}, nil
	case TypeCursorMove:
		var c model.CursorData
		if err := decodePayload(env, &c); err != nil {
			return nil, err
		}
		if err := validateStruct(&c); err != nil {
			return nil, err
		}
		return CursorMove{Cursor: c}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

// EncodeServer 서버 이벤트 직렬화
func EncodeServer(ev ServerEvent) ([]byte, error) {
	var payload any
	switch e := ev.(type) {
	case Init:
		if e.Elements == nil {
			e.Elements = []model.Element{}
		}
		payload = e
	case ElementsRelay:
		payload = e
	case CursorUpdate:
		payload = e.Cursor
	case CursorRemove:
		payload = e.UserID
	case ConnectionCount:
		payload = e.Count
	case Reset:
		payload = e
	case Pong:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	return encode(ev.ServerType(), payload)
}

// EncodeClient 클라이언트 이벤트 직렬화
func EncodeClient(ev ClientEvent) ([]byte, error) {
	var payload any
	switch e := ev.(type) {
	case SyncRequest, Ping:
	case ElementsUpdate:
		els := e.Elements
		if els == nil {
			els = []model.Element{}
		}
		payload = els
	case CursorMove:
		payload = e.Cursor
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	return encode(ev.ClientType(), payload)
}

// DecodeServer 서버 메시지 해석 (참여자 클라이언트용)
func DecodeServer(data []byte) (ServerEvent, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeInit:
		var e Init
		err = decodePayload(env, &e)
		return e, err
	case TypeElementsRelay:
		var e ElementsRelay
		err = decodePayload(env, &e)
		return e, err
	case TypeCursorUpdate:
		var c model.CursorData
		err = decodePayload(env, &c)
		return CursorUpdate{Cursor: c}, err
	case TypeCursorRemove:
		var id string
		err = decodePayload(env, &id)
		return CursorRemove{UserID: id}, err
	case TypeConnectionCount:
		var n int
		err = decodePayload(env, &n)
		return ConnectionCount{Count: n}, err
	case TypeReset:
		var e Reset
		if len(env.Payload) > 0 {
			err = decodePayload(env, &e)
		}
		return e, err
	case TypePong:
		return Pong{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if len(data) == 0 {
		return env, ErrMalformed
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

func decodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return fmt.Errorf("%w: %s requires a payload", ErrInvalidPayload, env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Type, err)
	}
	return nil
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(msgs, ", "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
}

func encode(t EventType, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
