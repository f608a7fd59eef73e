// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fault defines the playback error taxonomy surfaced on snapshots.
package fault

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/xplay/internal/playback/media"
)

// Kind is the coarse origin of a playback failure.
type Kind string

const (
	KindRenderer Kind = "renderer"
	KindSource   Kind = "source"
	KindRuntime  Kind = "runtime"
	KindStuck    Kind = "stuck_buffering"
)

// Code is a stable numeric error code grouped by origin.
type Code int

const (
	CodeUnspecified        Code = 1000
	CodeRemote             Code = 1001
	CodeBehindLiveWindow   Code = 1002
	CodeTimeout            Code = 1003
	CodeFailedRuntimeCheck Code = 1004

	CodeIOUnspecified      Code = 2000
	CodeIONetwork          Code = 2001
	CodeIOFileNotFound     Code = 2005
	CodeParsingMalformed   Code = 3001
	CodeParsingUnsupported Code = 3003

	CodeDecoderInit     Code = 4001
	CodeDecodingFailed  Code = 4003
	CodeFormatExceeded  Code = 4004
	CodeAudioTrackWrite Code = 5002

	CodeDRMUnspecified  Code = 6000
	CodeDRMLicenseFetch Code = 6004
)

// Sentinels that sources and renderers wrap so that the engine can classify
// their failures.
var (
	ErrBehindLiveWindow = errors.New("behind live window")
	ErrMalformed        = errors.New("malformed media")
	ErrUnsupported      = errors.New("unsupported media")
	ErrDRM              = errors.New("drm session failure")
	ErrIO               = errors.New("i/o failure")
	ErrNetwork          = errors.New("network failure")
	ErrNotFound         = errors.New("resource not found")
	ErrDecoder          = errors.New("decoder failure")
	ErrStuckBuffering   = errors.New("playback stuck buffering and not loading")
)

// ClassifySource maps a source failure to its code.
func ClassifySource(err error) Code {
	switch {
	case errors.Is(err, ErrBehindLiveWindow):
		return CodeBehindLiveWindow
	case errors.Is(err, ErrMalformed):
		return CodeParsingMalformed
	case errors.Is(err, ErrUnsupported):
		return CodeParsingUnsupported
	case errors.Is(err, ErrDRM):
		return CodeDRMUnspecified
	case errors.Is(err, ErrNetwork):
		return CodeIONetwork
	case errors.Is(err, ErrNotFound):
		return CodeIOFileNotFound
	default:
		return CodeIOUnspecified
	}
}

// Error is a classified playback failure.
type Error struct {
	Kind        Kind
	Code        Code
	Recoverable bool

	// Renderer details, set for KindRenderer.
	RendererIndex int
	RendererName  string
	TrackType     media.TrackType

	// PeriodID is the media span that failed, if known.
	PeriodID *media.PeriodID

	Err        error
	Suppressed []error
}

// NewRenderer classifies a renderer failure.
func NewRenderer(err error, index int, name string, trackType media.TrackType, recoverable bool) *Error {
	code := CodeDecodingFailed
	var fe *Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, ErrDecoder):
		code = CodeDecoderInit
	case errors.Is(err, ErrIO), errors.Is(err, ErrNetwork), errors.Is(err, ErrMalformed):
		code = ClassifySource(err)
	}
	return &Error{
		Kind:          KindRenderer,
		Code:          code,
		Recoverable:   recoverable,
		RendererIndex: index,
		RendererName:  name,
		TrackType:     trackType,
		Err:           err,
	}
}

// NewSource classifies a source or I/O failure.
func NewSource(err error) *Error {
	return &Error{Kind: KindSource, Code: ClassifySource(err), RendererIndex: media.IndexUnset, Err: err}
}

// NewRuntime wraps an unexpected failure or invariant violation.
func NewRuntime(err error) *Error {
	return &Error{Kind: KindRuntime, Code: CodeUnspecified, RendererIndex: media.IndexUnset, Err: err}
}

// NewStuck returns the stuck-buffering failure.
func NewStuck() *Error {
	return &Error{Kind: KindStuck, Code: CodeFailedRuntimeCheck, RendererIndex: media.IndexUnset, Err: ErrStuckBuffering}
}

// From returns err as an *Error, wrapping unknown errors as runtime faults.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return NewRuntime(err)
}

// WithPeriodID returns a copy tagged with the failing media span.
func (e *Error) WithPeriodID(id media.PeriodID) *Error {
	out := *e
	out.PeriodID = &id
	out.Suppressed = append([]error(nil), e.Suppressed...)
	return &out
}

// AddSuppressed attaches a later failure that occurred while e was pending.
func (e *Error) AddSuppressed(err error) {
	e.Suppressed = append(e.Suppressed, err)
}

// IsFatal reports whether the failure stops playback.
func (e *Error) IsFatal() bool { return !e.Recoverable }

// SameFailure reports whether two errors describe the same failing component,
// ignoring the causes.
func (e *Error) SameFailure(o *Error) bool {
	if e == nil || o == nil {
		return e == o
	}
	samePeriod := (e.PeriodID == nil) == (o.PeriodID == nil) && (e.PeriodID == nil || *e.PeriodID == *o.PeriodID)
	return e.Kind == o.Kind && e.Code == o.Code && e.RendererIndex == o.RendererIndex && samePeriod
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error %d", e.Kind, e.Code)
	if e.Kind == KindRenderer {
		fmt.Fprintf(&b, " (renderer %d %s/%s)", e.RendererIndex, e.RendererName, e.TrackType)
	}
	if e.PeriodID != nil {
		fmt.Fprintf(&b, " at %s", e.PeriodID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if n := len(e.Suppressed); n > 0 {
		fmt.Fprintf(&b, " (+%d suppressed)", n)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }
