package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors, one per failure kind the engine distinguishes
var (
	// ErrTransientNetwork indicates a recoverable network fault
	ErrTransientNetwork = errors.New("transient network error")

	// ErrServerOffline indicates the backend is unreachable
	ErrServerOffline = fmt.Errorf("backend is unreachable: %w", ErrTransientNetwork)

	// ErrMediaDecode indicates the element could not decode the media
	ErrMediaDecode = errors.New("media decode error")

	// ErrAuthorizationRequired indicates a LAN source needs user confirmation
	ErrAuthorizationRequired = errors.New("authorization required")

	// ErrContentGone indicates the item no longer exists on the server
	ErrContentGone = errors.New("content removed")

	// ErrResolutionFailure indicates no playable source was found
	ErrResolutionFailure = errors.New("no playable source")

	// ErrPersistence indicates the local store could not be read or written
	ErrPersistence = errors.New("persistence failure")

	// ErrStreamFailed indicates automatic recovery was exhausted
	ErrStreamFailed = errors.New("stream connection abnormal")

	// ErrAuthFailed indicates the backend rejected the access token
	ErrAuthFailed = errors.New("access token is invalid")

	// ErrNoSession indicates an operation needs an active item
	ErrNoSession = errors.New("no active item")

	// ErrIndexOutOfRange indicates a selection outside the feed
	ErrIndexOutOfRange = errors.New("index out of range")
)

// ErrorKind is the taxonomy used to decide how a failure is surfaced
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindTransient     ErrorKind = "transient-network"
	KindMediaDecode   ErrorKind = "media-decode"
	KindAuthorization ErrorKind = "authorization-required"
	KindContentGone   ErrorKind = "content-gone"
	KindResolution    ErrorKind = "resolution-failure"
	KindPersistence   ErrorKind = "persistence-failure"
	KindStreamFailed  ErrorKind = "stream-failed"
	KindUnknown       ErrorKind = "unknown"
)

// Classify maps an error onto the taxonomy
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrContentGone):
		return KindContentGone
	case errors.Is(err, ErrAuthorizationRequired):
		return KindAuthorization
	case errors.Is(err, ErrResolutionFailure):
		return KindResolution
	case errors.Is(err, ErrMediaDecode):
		return KindMediaDecode
	case errors.Is(err, ErrStreamFailed):
		return KindStreamFailed
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrTransientNetwork),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindUnknown
	}
}

// IsUserVisible reports whether a failure of this kind is shown to the viewer
func (k ErrorKind) IsUserVisible() bool {
	switch k {
	case KindResolution, KindStreamFailed, KindAuthorization, KindUnknown:
		return true
	default:
		return false
	}
}
