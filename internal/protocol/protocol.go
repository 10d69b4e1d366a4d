// Package protocol defines the JSON frames exchanged between editing clients
// and the sync server.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"collabtext/internal/textop"
)

// Message is the envelope for every frame on the wire.
type Message struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"documentId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Message types, client to server.
const (
	TypeJoin      = "join"
	TypeOperation = "operation"
	TypeCursor    = "cursor"
	TypeSave      = "save"
	TypeLeave     = "leave"
)

// Message types, server to client.
const (
	TypeInitialized        = "initialized"
	TypeOperationApplied   = "operation-applied"
	TypeAck                = "ack"
	TypeCollaboratorJoined = "collaborator-joined"
	TypeCollaboratorLeft   = "collaborator-left"
	TypeCursorUpdate       = "cursor-update"
	TypeSaved              = "report-saved"
	TypeError              = "error"
)

// Error codes carried by Error frames.
const (
	CodeBadRequest         = "bad_request"
	CodeInvalidOperation   = "invalid_operation"
	CodeStaleSession       = "stale_session"
	CodePersistenceFailure = "persistence_failure"
	CodeInternal           = "internal"
)

// Collaborator is one roster entry.
type Collaborator struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	CursorPosition int    `json:"cursorPosition"`
}

// Operation carries a client edit.
type Operation struct {
	Operation textop.Operation `json:"operation"`
}

// Cursor carries a caret position.
type Cursor struct {
	Position int `json:"position"`
}

// Initialized is the join reply: the authoritative snapshot.
type Initialized struct {
	ParticipantID string         `json:"participantId"`
	Content       string         `json:"content"`
	Version       uint64         `json:"version"`
	Participants  []Collaborator `json:"participants"`
}

// OperationApplied is broadcast to every participant except the originator.
type OperationApplied struct {
	Operation    textop.Operation `json:"operation"`
	Version      uint64           `json:"version"`
	OriginatorID string           `json:"originatorId"`
}

// Ack tells the originator which version its operation produced and what
// the authoritative buffer looks like at that version.
type Ack struct {
	Version uint64 `json:"version"`
	Content string `json:"content"`
}

type CollaboratorJoined struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type CollaboratorLeft struct {
	ID string `json:"id"`
}

type CursorUpdate struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// Saved acknowledges a completed save to every participant.
type Saved struct {
	Version uint64 `json:"version"`
	SavedBy string `json:"savedBy,omitempty"`
}

// Error is sent only to the client whose request failed. Content and Version
// are set for invalid_operation so the client can resync.
type Error struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Content *string `json:"content,omitempty"`
	Version *uint64 `json:"version,omitempty"`
}

var (
	// ErrUnknownType is returned by Decode for frames with an unrecognised type.
	ErrUnknownType = errors.New("unknown message type")

	// ErrMalformedFrame is returned by Decode for frames that are not a JSON envelope.
	ErrMalformedFrame = errors.New("malformed frame")
)

// New builds a message with data marshalled into the envelope.
func New(msgType, documentID string, data any) (*Message, error) {
	m := &Message{Type: msgType, DocumentID: documentID}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", msgType, err)
		}
		m.Data = b
	}
	return m, nil
}

// MustNew is New for payload types that always marshal.
func MustNew(msgType, documentID string, data any) *Message {
	m, err := New(msgType, documentID, data)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseData decodes the payload into target.
func (m *Message) ParseData(target any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: missing data", m.Type)
	}
	if err := json.Unmarshal(m.Data, target); err != nil {
		return fmt.Errorf("%s: %w", m.Type, err)
	}
	return nil
}

// Encode marshals the envelope.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a frame and checks that its type is known.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch m.Type {
	case TypeJoin, TypeOperation, TypeCursor, TypeSave, TypeLeave,
		TypeInitialized, TypeOperationApplied, TypeAck, TypeCollaboratorJoined,
		TypeCollaboratorLeft, TypeCursorUpdate, TypeSaved, TypeError:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return &m, nil
}

// BestEffort reports whether a message may be dropped under back-pressure.
func (m *Message) BestEffort() bool {
	return m.Type == TypeCursorUpdate
}
