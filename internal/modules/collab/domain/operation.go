package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var ErrMalformedOperation = errors.New("malformed operation")

type OperationType string

const (
	OpInsert  OperationType = "insert"
	OpDelete  OperationType = "delete"
	OpReplace OperationType = "replace"
)

type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Operation is immutable once built. Content and Length are pointers so a
// missing field can be told apart from an empty one.
type Operation struct {
	ID         string        `json:"id"`
	Type       OperationType `json:"type"`
	Position   Position      `json:"position"`
	Content    *string       `json:"content,omitempty"`
	Length     *int          `json:"length,omitempty"`
	UserID     string        `json:"userId"`
	Timestamp  int64         `json:"timestamp"`
	Version    int           `json:"version"`
	DocumentID string        `json:"documentId,omitempty"`
}

// PartialOperation is what callers describe; the engine fills in identity.
type PartialOperation struct {
	Type     OperationType
	Position Position
	Content  *string
	Length   *int
}

func Insert(line, column int, content string) PartialOperation {
	return PartialOperation{Type: OpInsert, Position: Position{Line: line, Column: column}, Content: &content}
}

func Delete(line, column, length int) PartialOperation {
	return PartialOperation{Type: OpDelete, Position: Position{Line: line, Column: column}, Length: &length}
}

func Replace(line, column, length int, content string) PartialOperation {
	return PartialOperation{Type: OpReplace, Position: Position{Line: line, Column: column}, Content: &content, Length: &length}
}

func (o Operation) Validate() error {
	switch o.Type {
	case OpInsert:
		if o.Content == nil {
			return fmt.Errorf("%w: insert without content", ErrMalformedOperation)
		}
	case OpDelete:
		if o.Length == nil {
			return fmt.Errorf("%w: delete without length", ErrMalformedOperation)
		}
	case OpReplace:
		if o.Content == nil || o.Length == nil {
			return fmt.Errorf("%w: replace needs content and length", ErrMalformedOperation)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedOperation, o.Type)
	}
	if o.Length != nil && *o.Length < 0 {
		return fmt.Errorf("%w: negative length %d", ErrMalformedOperation, *o.Length)
	}
	if o.Position.Line < 0 {
		return fmt.Errorf("%w: negative line %d", ErrMalformedOperation, o.Position.Line)
	}
	return nil
}

// ApplyText applies op to content addressed as "\n"-separated lines. Columns
// count runes and are clamped to the line; a line past the end is malformed.
func ApplyText(content string, op Operation) (string, error) {
	if err := op.Validate(); err != nil {
		return content, err
	}
	lines := strings.Split(content, "\n")
	at := op.Position.Line
	if at >= len(lines) {
		return content, fmt.Errorf("%w: line %d out of range (%d lines)", ErrMalformedOperation, at, len(lines))
	}
	line := []rune(lines[at])
	col := min(max(op.Position.Column, 0), len(line))

	switch op.Type {
	case OpInsert:
		lines = splice(lines, at, line, col, *op.Content)
	case OpDelete:
		lines[at] = string(cut(line, col, *op.Length))
	case OpReplace:
		lines = splice(lines, at, cut(line, col, *op.Length), col, *op.Content)
	}
	return strings.Join(lines, "\n"), nil
}

// cut removes up to length runes at col; col must already be within line.
func cut(line []rune, col, length int) []rune {
	end := col + min(length, len(line)-col)
	out := make([]rune, 0, len(line)-(end-col))
	out = append(out, line[:col]...)
	return append(out, line[end:]...)
}

// splice inserts text at col of lines[at]; embedded line breaks become new lines.
func splice(lines []string, at int, line []rune, col int, text string) []string {
	prefix, suffix := string(line[:col]), string(line[col:])
	parts := strings.Split(text, "\n")
	if len(parts) == 1 {
		lines[at] = prefix + text + suffix
		return lines
	}
	parts[0] = prefix + parts[0]
	parts[len(parts)-1] += suffix
	return slices.Replace(lines, at, at+1, parts...)
}

// Document is the local working copy of a shared document.
type Document struct {
	ID           string        `json:"id"`
	Content      string        `json:"content"`
	Version      int           `json:"version"`
	LastModified time.Time     `json:"lastModified"`
	ActiveUsers  []Participant `json:"activeUsers,omitempty"`
	Operations   []Operation   `json:"operations,omitempty"`
}

// Apply folds op into the document. On error the document is unchanged.
func (d *Document) Apply(op Operation, at time.Time) error {
	next, err := ApplyText(d.Content, op)
	if err != nil {
		return err
	}
	d.Content = next
	d.Version++
	d.LastModified = at
	d.Operations = append(d.Operations, op)
	return nil
}

func (d Document) Clone() Document {
	out := d
	out.ActiveUsers = make([]Participant, 0, len(d.ActiveUsers))
	for _, p := range d.ActiveUsers {
		out.ActiveUsers = append(out.ActiveUsers, p.Clone())
	}
	out.Operations = slices.Clone(d.Operations)
	return out
}

// Upsert replaces the participant with the same id or appends it.
func (d *Document) Upsert(p Participant) {
	if i := slices.IndexFunc(d.ActiveUsers, func(u Participant) bool { return u.ID == p.ID }); i >= 0 {
		d.ActiveUsers[i] = p
		return
	}
	d.ActiveUsers = append(d.ActiveUsers, p)
}

func (d *Document) Participant(userID string) (Participant, bool) {
	i := slices.IndexFunc(d.ActiveUsers, func(u Participant) bool { return u.ID == userID })
	if i < 0 {
		return Participant{}, false
	}
	return d.ActiveUsers[i], true
}

func (d *Document) Remove(userID string) bool {
	before := len(d.ActiveUsers)
	d.ActiveUsers = slices.DeleteFunc(d.ActiveUsers, func(u Participant) bool { return u.ID == userID })
	return len(d.ActiveUsers) != before
}
