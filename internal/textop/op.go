// Package textop holds the single-edit operation model shared by the sync
// server and its clients, plus the prefix diff that derives operations from
// two snapshots of a field.
//
// Positions and lengths count Unicode code points, not bytes.
package textop

import (
	"errors"
	"fmt"
)

// Kind is the operation type.
type Kind string

const (
	Insert Kind = "insert"
	Delete Kind = "delete"
)

// Operation is one atomic edit against a text buffer.
type Operation struct {
	Type     Kind   `json:"type"`             // "insert" or "delete"
	Position int    `json:"position"`         // offset into the buffer before this op
	Text     string `json:"text,omitempty"`   // inserted text, insert only
	Length   int    `json:"length,omitempty"` // removed rune count, delete only
	Origin   string `json:"originatorId"`     // participant that produced it
}

var (
	// ErrOutOfRange is returned when an operation does not fit the buffer.
	ErrOutOfRange = errors.New("position out of range")
	// ErrMalformed is returned for operations with an unknown type or empty payload.
	ErrMalformed = errors.New("malformed operation")
)

// Validate checks the operation independent of any buffer.
func (op Operation) Validate() error {
	switch op.Type {
	case Insert:
		if op.Text == "" {
			return fmt.Errorf("%w: empty insert", ErrMalformed)
		}
	case Delete:
		if op.Length <= 0 {
			return fmt.Errorf("%w: delete length %d", ErrMalformed, op.Length)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, op.Type)
	}
	if op.Position < 0 {
		return fmt.Errorf("%w: negative position %d", ErrOutOfRange, op.Position)
	}
	return nil
}

// Apply returns s with op applied. s is left untouched on error.
func (op Operation) Apply(s string) (string, error) {
	if err := op.Validate(); err != nil {
		return s, err
	}
	r := []rune(s)
	switch op.Type {
	case Insert:
		if op.Position > len(r) {
			return s, fmt.Errorf("%w: insert at %d, length %d", ErrOutOfRange, op.Position, len(r))
		}
		return string(r[:op.Position]) + op.Text + string(r[op.Position:]), nil
	default:
		if op.Position+op.Length > len(r) {
			return s, fmt.Errorf("%w: delete %d at %d, length %d", ErrOutOfRange, op.Length, op.Position, len(r))
		}
		return string(r[:op.Position]) + string(r[op.Position+op.Length:]), nil
	}
}

func (op Operation) String() string {
	if op.Type == Insert {
		return fmt.Sprintf("insert(%d,%q)", op.Position, op.Text)
	}
	return fmt.Sprintf("delete(%d,%d)", op.Position, op.Length)
}
