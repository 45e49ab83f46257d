package petsync

import (
	"errors"
	"fmt"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/hyperengineering/petsync/internal/store"
)

// Common errors returned by petsync.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrNoSource is returned when a sync is requested for a source that is not configured.
	ErrNoSource = errors.New("submission source not configured")

	// ErrPayloadNotFound is returned when a persisted submission payload cannot be read.
	ErrPayloadNotFound = errors.New("submission payload not found")

	// ErrUnknownField is returned when an update names a field that cannot be applied.
	ErrUnknownField = errors.New("unknown or read-only field")

	// ErrInvalidTransition is returned when a task status change is not allowed.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrFolderExists is returned when provisioning a client folder that already exists.
	ErrFolderExists = store.ErrFolderExists

	// ErrNoFolder is returned when a step needs the client's storage folder and there is none.
	ErrNoFolder = errors.New("client has no storage folder yet")
)

// ValidationError is returned when configuration or entity validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// asValidationError reduces an ozzo error map to the first failing field,
// sorted by name so the result is stable.
func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err
	}
	field, msg := firstFieldError(errs)
	return &ValidationError{Field: field, Message: msg}
}

func firstFieldError(errs validation.Errors) (string, string) {
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	first := errs[fields[0]]
	var nested validation.Errors
	if errors.As(first, &nested) && len(nested) > 0 {
		sub, msg := firstFieldError(nested)
		return fields[0] + "." + sub, msg
	}
	return fields[0], first.Error()
}

// ParseError is returned when a remote submission lacks a required field.
// Nothing is written locally and the submission is not marked processed.
type ParseError struct {
	Field   string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %s: %s", e.Field, e.Message)
}

// MatchError is returned when a submission cannot be tied to a local client.
type MatchError struct {
	Reason string
	Err    error
}

func (e *MatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("match: %s: %v", e.Reason, e.Err)
	}
	return "match: " + e.Reason
}

func (e *MatchError) Unwrap() error { return e.Err }

// TransactionError is returned when the atomic write sequence fails and was rolled back.
type TransactionError struct {
	Step string
	Err  error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction: %s: %v", e.Step, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// PostCommitError reports a best-effort step that failed after a successful commit.
type PostCommitError struct {
	Stage string
	Err   error
}

func (e *PostCommitError) Error() string {
	return fmt.Sprintf("post-commit %s: %v", e.Stage, e.Err)
}

func (e *PostCommitError) Unwrap() error { return e.Err }

// MarkerError reports a failure to flag a submission processed.
type MarkerError struct {
	Tracker      string
	SubmissionID string
	Err          error
}

func (e *MarkerError) Error() string {
	return fmt.Sprintf("mark %s processed via %s: %v", e.SubmissionID, e.Tracker, e.Err)
}

func (e *MarkerError) Unwrap() error { return e.Err }

// SyncError is returned when a remote source call fails with details.
// Extractable via errors.As(). Supports Unwrap().
type SyncError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync: %s failed (status %d): %v", e.Operation, e.StatusCode, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Error kinds reported on per-submission results.
const (
	KindParse       = "parse"
	KindMatch       = "match"
	KindTransaction = "transaction"
	KindRemote      = "remote"
	KindInternal    = "internal"
)

// ErrorKind classifies err into one of the Kind constants.
func ErrorKind(err error) string {
	var (
		pe *ParseError
		me *MatchError
		te *TransactionError
		se *SyncError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return KindParse
	case errors.As(err, &me):
		return KindMatch
	case errors.As(err, &te):
		return KindTransaction
	case errors.As(err, &se):
		return KindRemote
	default:
		return KindInternal
	}
}
