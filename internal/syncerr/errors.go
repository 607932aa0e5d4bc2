// ABOUTME: Tagged error taxonomy for sync jobs.
// ABOUTME: Every failed job carries an *Error whose Kind callers can branch on.
package syncerr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harperreed/healthsync/internal/models"
)

// Kind tags the class of a sync failure.
type Kind string

const (
	KindPlatformUnavailable Kind = "platform_unavailable"
	KindMissingPermissions  Kind = "missing_permissions"
	KindCursorInvalidated   Kind = "cursor_invalidated"
	KindTransient           Kind = "transient"
	KindStorageWrite        Kind = "storage_write_failure"
	KindStorageRead         Kind = "storage_read_failure"
	KindUploadRejected      Kind = "upload_rejected"
	KindInvalidRequest      Kind = "invalid_request"
	KindInternal            Kind = "internal"
)

// Sentinels for errors.Is matching against any *Error of the same kind.
var (
	ErrPlatformUnavailable = errors.New("health platform unavailable")
	ErrMissingPermissions  = errors.New("missing permissions")
	ErrCursorInvalidated   = errors.New("cursor invalidated")
	ErrTransient           = errors.New("transient query or upload failure")
	ErrStorageWrite        = errors.New("storage write failure")
	ErrStorageRead         = errors.New("storage read failure")
	ErrUploadRejected      = errors.New("upload rejected")
	ErrInvalidRequest      = errors.New("invalid sync request")
	ErrInternal            = errors.New("internal sync failure")
)

var sentinels = map[Kind]error{
	KindPlatformUnavailable: ErrPlatformUnavailable,
	KindMissingPermissions:  ErrMissingPermissions,
	KindCursorInvalidated:   ErrCursorInvalidated,
	KindTransient:           ErrTransient,
	KindStorageWrite:        ErrStorageWrite,
	KindStorageRead:         ErrStorageRead,
	KindUploadRejected:      ErrUploadRejected,
	KindInvalidRequest:      ErrInvalidRequest,
	KindInternal:            ErrInternal,
}

// Error is a tagged sync failure.
type Error struct {
	Kind    Kind
	Metrics []models.MetricType
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(sentinels[e.Kind].Error())
	if len(e.Metrics) > 0 {
		names := make([]string, len(e.Metrics))
		for i, m := range e.Metrics {
			names[i] = string(m)
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(names, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind.
func New(kind Kind, err error, metrics ...models.MetricType) *Error {
	return &Error{Kind: kind, Metrics: metrics, Err: err}
}

// PlatformUnavailable reports that the host health subsystem is not usable.
func PlatformUnavailable(err error) *Error {
	return New(KindPlatformUnavailable, err)
}

// MissingPermissions reports the metrics lacking an active grant.
func MissingPermissions(missing []models.MetricType) *Error {
	return New(KindMissingPermissions, nil, missing...)
}

// Transient wraps a query or upload failure the caller may retry.
func Transient(metric models.MetricType, err error) *Error {
	return New(KindTransient, err, metric)
}

// StorageWrite wraps a durable storage failure.
func StorageWrite(err error) *Error {
	return New(KindStorageWrite, err)
}

// StorageRead wraps a failure to read sync state.
func StorageRead(err error) *Error {
	return New(KindStorageRead, err)
}

// UploadRejected wraps a response the remote service will keep refusing;
// retrying the same content cannot succeed.
func UploadRejected(metric models.MetricType, err error) *Error {
	return New(KindUploadRejected, err, metric)
}

// KindOf returns the kind tag of err, or "" when err is not tagged.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// Missing returns the metrics named by a MissingPermissions error.
func Missing(err error) []models.MetricType {
	var se *Error
	if errors.As(err, &se) && se.Kind == KindMissingPermissions {
		return se.Metrics
	}
	return nil
}
