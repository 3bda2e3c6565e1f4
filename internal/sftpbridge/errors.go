package sftpbridge

import (
	"errors"
	"os"

	"github.com/pkg/sftp"
)

// Stable error codes surfaced to clients in place of raw library errors.
const (
	CodeConnectFailed    = "CONNECT_FAILED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeNotFound         = "NOT_FOUND"
	CodePathInvalid      = "PATH_INVALID"
	CodeIOError          = "IO_ERROR"
)

// ErrConflict is returned by Upload when the destination exists and
// overwrite was not requested. Handlers map it to HTTP 409.
var ErrConflict = errors.New("destination file already exists")

// Error carries a stable code alongside the underlying cause.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// CodeFromError maps an SFTP operation error to a stable code.
func CodeFromError(err error) string {
	if err == nil {
		return CodeIOError
	}

	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr.Code
	}

	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.FxCode() {
		case sftp.ErrSSHFxPermissionDenied:
			return CodePermissionDenied
		case sftp.ErrSSHFxNoSuchFile:
			return CodeNotFound
		}
		return CodeIOError
	}
	if errors.Is(err, os.ErrNotExist) {
		return CodeNotFound
	}
	if errors.Is(err, os.ErrPermission) {
		return CodePermissionDenied
	}
	return CodeIOError
}

// MessageOf returns the fixed user-facing message for a code.
func MessageOf(code string) string {
	switch code {
	case CodeConnectFailed:
		return "Could not connect to the server: check network and account permissions"
	case CodePermissionDenied:
		return "Permission denied for this directory or file"
	case CodeNotFound:
		return "Directory or file does not exist"
	case CodePathInvalid:
		return "Invalid path"
	default:
		return "File operation failed"
	}
}
