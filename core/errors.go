package core

import (
	"errors"
	"fmt"
	"io/fs"
)

// Code is the numeric engine error code carried by a ResourceError.
type Code int

const (
	CodeNone              Code = 0
	CodeIO                Code = -36
	CodeBadPath           Code = -37
	CodeFileNotFound      Code = -43
	CodeFileExists        Code = -48
	CodePermission        Code = -54
	CodeInvalidMovie      Code = -2010
	CodeInvalidTrack      Code = -2009
	CodeInvalidMedia      Code = -2008
	CodeBadDescription    Code = -2020
	CodeNoFrame           Code = -2021
	CodeUnresolvedDataRef Code = -2000
)

var (
	ErrAlreadyLoaded   = errors.New("movie has already been loaded")
	ErrNotLoaded       = errors.New("movie has not been loaded")
	ErrStale           = errors.New("stale resource")
	ErrNotEntered      = errors.New("engine not entered")
	ErrReentrant       = errors.New("edit already in progress on this movie")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnsupported     = errors.New("not supported")
	ErrExists          = fs.ErrExist
)

// UsageError is returned when the caller violates a precondition it controls.
type UsageError struct {
	Op      string
	Subject string // path or identifier, may be empty
	Err     error
}

func (e *UsageError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UsageError) Unwrap() error { return e.Err }

// ResourceError is a container or file-system level failure.
type ResourceError struct {
	Op   string
	Path string
	Code Code
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("error %d occurred during %s at %s: %v", e.Code, e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// UnsupportedError names an input shape the engine recognizes but does not implement.
type UnsupportedError struct {
	Op      string
	Feature string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: %s is not supported", e.Op, e.Feature)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

func resourceErr(op, path string, err error) *ResourceError {
	return &ResourceError{Op: op, Path: path, Code: codeFor(err), Err: err}
}

func codeFor(err error) Code {
	var re *ResourceError
	switch {
	case err == nil:
		return CodeNone
	case errors.As(err, &re):
		return re.Code
	case errors.Is(err, fs.ErrNotExist):
		return CodeFileNotFound
	case errors.Is(err, fs.ErrExist):
		return CodeFileExists
	case errors.Is(err, fs.ErrPermission):
		return CodePermission
	default:
		return CodeIO
	}
}
