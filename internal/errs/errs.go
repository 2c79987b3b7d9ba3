// Package errs defines the sentinel error taxonomy shared by every
// component of the document lifecycle engine, plus typed wrappers that
// carry structured detail while still unwrapping to a sentinel via
// errors.Is.
package errs

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/gao-dev/lifecycle/internal/model"
)

// Sentinel errors for the categories named in the error taxonomy.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicatePath     = errors.New("duplicate path")
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrRelationship      = errors.New("relationship error")
	ErrStorage           = errors.New("storage error")
	ErrConfig            = errors.New("config error")
)

// NotFoundError identifies a missing document or relationship by id or
// path.
type NotFoundError struct {
	Kind string // "document" or "relationship"
	ID   int64
	Path string
}

func (e *NotFoundError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s not found: path=%q", e.Kind, e.Path)
	}
	return fmt.Sprintf("%s not found: id=%d", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DuplicatePathError reports an attempt to register an existing path.
type DuplicatePathError struct {
	Path string
}

func (e *DuplicatePathError) Error() string {
	return fmt.Sprintf("document already registered at path %q", e.Path)
}

func (e *DuplicatePathError) Unwrap() error { return ErrDuplicatePath }

// ValidationError reports a malformed field value.
type ValidationError struct {
	Field string
	Value any
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("validation error: field %q: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("validation error: field %q has invalid value %v", e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidTransitionError reports a rejected state machine move.
type InvalidTransitionError struct {
	DocumentID int64
	From       model.DocumentState
	To         model.DocumentState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for document %d: %s -> %s", e.DocumentID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// RelationshipErrorDetail reports a duplicate or otherwise rejected edge.
type RelationshipErrorDetail struct {
	ParentID int64
	ChildID  int64
	Type     model.RelationshipType
	Msg      string
}

func (e *RelationshipErrorDetail) Error() string {
	return fmt.Sprintf("relationship error %d->%d (%s): %s", e.ParentID, e.ChildID, e.Type, e.Msg)
}

func (e *RelationshipErrorDetail) Unwrap() error { return ErrRelationship }

// StorageErrorDetail wraps an underlying storage failure with the
// attempted operation and, when known, the affected document id.
type StorageErrorDetail struct {
	Op    string
	DocID int64
	Err   error
}

func (e *StorageErrorDetail) Error() string {
	if e.DocID != 0 {
		return fmt.Sprintf("storage error during %s (doc %d): %v", e.Op, e.DocID, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageErrorDetail) Unwrap() error { return ErrStorage }

// ConfigErrorDetail reports a missing or malformed configuration file.
type ConfigErrorDetail struct {
	Path string
	Msg  string
}

func (e *ConfigErrorDetail) Error() string {
	return fmt.Sprintf("config error in %q: %s", e.Path, e.Msg)
}

func (e *ConfigErrorDetail) Unwrap() error { return ErrConfig }

// Wrap converts a raw database error into the taxonomy: sql.ErrNoRows
// becomes a document NotFoundError carrying docID, and everything else
// becomes a StorageErrorDetail annotated with op and docID.
func Wrap(op string, docID int64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Kind: "document", ID: docID}
	}
	return &StorageErrorDetail{Op: op, DocID: docID, Err: err}
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDuplicatePath reports whether err is or wraps ErrDuplicatePath.
func IsDuplicatePath(err error) bool { return errors.Is(err, ErrDuplicatePath) }

// IsValidation reports whether err is or wraps ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsInvalidTransition reports whether err is or wraps ErrInvalidTransition.
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }

// IsRelationship reports whether err is or wraps ErrRelationship.
func IsRelationship(err error) bool { return errors.Is(err, ErrRelationship) }

// IsStorage reports whether err is or wraps ErrStorage.
func IsStorage(err error) bool { return errors.Is(err, ErrStorage) }

// IsConfig reports whether err is or wraps ErrConfig.
func IsConfig(err error) bool { return errors.Is(err, ErrConfig) }
