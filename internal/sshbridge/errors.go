package sshbridge

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Stable error codes surfaced to clients in place of raw library errors.
const (
	CodeAuthFailed      = "AUTH_FAILED"
	CodeKeyInvalid      = "KEY_INVALID"
	CodeHostUnreachable = "HOST_UNREACHABLE"
	CodeConnectFailed   = "CONNECT_FAILED"
	CodeInternalError   = "INTERNAL_ERROR"
)

// CodeFromError maps an error from the connect/auth path to a stable code.
// Clients key precise UI messages off these; the raw error text stays in the
// server log only.
func CodeFromError(err error) string {
	if err == nil {
		return CodeInternalError
	}

	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr.Code
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeHostUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeHostUnreachable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"),
		strings.Contains(msg, "auth fail"),
		strings.Contains(msg, "permission denied"):
		return CodeAuthFailed
	case strings.Contains(msg, "no such host"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "i/o timeout"):
		return CodeHostUnreachable
	case strings.Contains(msg, "ssh:"):
		return CodeConnectFailed
	}
	return CodeInternalError
}

// MessageOf returns the fixed user-facing message for a code. Unknown codes
// fall back to a generic message rather than leaking anything.
func MessageOf(code string) string {
	switch code {
	case CodeAuthFailed:
		return "Authentication failed: check the username, password or key passphrase"
	case CodeKeyInvalid:
		return "Invalid private key: provide a complete PEM-formatted key"
	case CodeHostUnreachable:
		return "Connection failed: target host unreachable or port closed"
	case CodeConnectFailed:
		return "Connection failed: could not establish an SSH session"
	default:
		return "Connection failed: internal server error"
	}
}

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
