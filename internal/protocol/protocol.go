// Package protocol defines the JSON frames exchanged with browser clients.
//
// Clients send Inbound frames. The relay answers with, and fans out,
// Envelope frames that it stamps with an id, the sender and a timestamp.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type EventType string

// Client-originated events.
const (
	TypeJoinProject  EventType = "join-project"
	TypeLeaveProject EventType = "leave-project"
	TypeTaskMoved    EventType = "task-moved"
	TypeTaskComment  EventType = "task-comment"
	TypeTaskUpdated  EventType = "task-updated"
	TypeChatMessage  EventType = "chat-message"
	TypePing         EventType = "ping"
)

// Server-originated frames.
const (
	TypeConnected    EventType = "connected"
	TypeJoined       EventType = "joined"
	TypeLeft         EventType = "left"
	TypeAck          EventType = "ack"
	TypeError        EventType = "error"
	TypePong         EventType = "pong"
	TypePresence     EventType = "presence"
	TypeNotification EventType = "notification"
	TypeRefresh      EventType = "refresh"
)

type ErrorCode string

const (
	CodeBadRequest  ErrorCode = "bad_request"
	CodeUnknownType ErrorCode = "unknown_type"
	CodeForbidden   ErrorCode = "forbidden"
	CodeNotJoined   ErrorCode = "not_joined"
	CodeRateLimited ErrorCode = "rate_limited"
	CodeInternal    ErrorCode = "internal"
)

var (
	ErrMalformed      = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown event type")
	ErrMissingProject = errors.New("project_id is required")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Relayed reports whether frames of this type are forwarded to the other
// members of a project room.
func (t EventType) Relayed() bool {
	switch t {
	case TypeTaskMoved, TypeTaskComment, TypeTaskUpdated, TypeChatMessage:
		return true
	}
	return false
}

// TaskEvent reports whether the payload of this type names a task.
func (t EventType) TaskEvent() bool {
	switch t {
	case TypeTaskMoved, TypeTaskComment, TypeTaskUpdated:
		return true
	}
	return false
}

func (t EventType) inbound() bool {
	switch t {
	case TypeJoinProject, TypeLeaveProject, TypePing:
		return true
	}
	return t.Relayed()
}

type Inbound struct {
	Type      EventType       `json:"type"`
	ProjectID string          `json:"project_id,omitempty"`
	Ref       string          `json:"ref,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// Project is ProjectID parsed; zero for ping.
	Project uint `json:"-"`
}

type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Type      EventType       `json:"type"`
	ProjectID string          `json:"project_id,omitempty"`
	SenderID  uint            `json:"sender_id,omitempty"`
	ClientID  string          `json:"client_id,omitempty"`
	Ref       string          `json:"ref,omitempty"`
	Code      ErrorCode       `json:"code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SentAt    time.Time       `json:"sent_at"`
}

// Decode parses and validates one client frame.
func Decode(data []byte) (Inbound, error) {
	var in Inbound

	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if in.Type == "" {
		return in, fmt.Errorf("%w: type is required", ErrMalformed)
	}

	if !in.Type.inbound() {
		return in, fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
	}

	if in.Type == TypePing {
		return in, nil
	}

	if in.ProjectID == "" {
		return in, ErrMissingProject
	}

	project, err := strconv.ParseUint(in.ProjectID, 10, 32)
	if err != nil || project == 0 {
		return in, fmt.Errorf("%w: %q", ErrMissingProject, in.ProjectID)
	}
	in.Project = uint(project)

	if in.Type.Relayed() {
		if err := validatePayload(in.Type, in.Payload); err != nil {
			return in, err
		}
	}

	return in, nil
}

type taskRef struct {
	TaskID json.RawMessage `json:"task_id"`
}

type chatBody struct {
	Message string `json:"message"`
}

func validatePayload(t EventType, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: payload must be an object", ErrInvalidPayload)
	}

	switch {
	case t.TaskEvent():
		var ref taskRef
		if err := json.Unmarshal(trimmed, &ref); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if !validTaskID(ref.TaskID) {
			return fmt.Errorf("%w: task_id is required", ErrInvalidPayload)
		}
	case t == TypeChatMessage:
		var body chatBody
		if err := json.Unmarshal(trimmed, &body); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if len(bytes.TrimSpace([]byte(body.Message))) == 0 {
			return fmt.Errorf("%w: message is required", ErrInvalidPayload)
		}
	}

	return nil
}

// validTaskID accepts a non-empty string or a positive number.
func validTaskID(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s != ""
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n > 0
	}

	return false
}

// TaskID returns the task a payload refers to as a database id. Both "7"
// and 7 are accepted.
func TaskID(payload json.RawMessage) (uint, error) {
	var ref taskRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	raw := bytes.TrimSpace(ref.TaskID)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		raw = []byte(s)
	}

	id, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: task_id %s is not a task id", ErrInvalidPayload, ref.TaskID)
	}
	return uint(id), nil
}

// CodeFor maps a decode or dispatch error onto the code sent to clients.
func CodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrUnknownType):
		return CodeUnknownType
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrMissingProject), errors.Is(err, ErrInvalidPayload):
		return CodeBadRequest
	}
	return CodeInternal
}

// NewEnvelope stamps a fresh id and timestamp.
func NewEnvelope(t EventType, projectID uint) Envelope {
	env := Envelope{
		ID:     uuid.NewString(),
		Type:   t,
		SentAt: time.Now().UTC(),
	}
	if projectID != 0 {
		env.ProjectID = strconv.FormatUint(uint64(projectID), 10)
	}
	return env
}

// Reply builds a control frame that answers a client frame.
func Reply(t EventType, in Inbound) Envelope {
	env := Envelope{
		Type:   t,
		Ref:    in.Ref,
		SentAt: time.Now().UTC(),
	}
	if in.Project != 0 {
		env.ProjectID = in.ProjectID
	}
	return env
}

func ErrorReply(in Inbound, code ErrorCode, err error) Envelope {
	env := Reply(TypeError, in)
	env.Code = code
	env.Error = err.Error()
	return env
}

type presencePayload struct {
	Users []uint `json:"users"`
}

// PresencePayload lists the users connected to a room. An empty room
// encodes as an empty array, never null.
func PresencePayload(users []uint) json.RawMessage {
	if users == nil {
		users = []uint{}
	}
	data, _ := json.Marshal(presencePayload{Users: users})
	return data
}

func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
