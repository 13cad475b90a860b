package jsonrpc

import "net/http"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

// Standard JSON-RPC 2.0 error codes.
const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
)

// Application error codes in the reserved -32000..-32099 range. These carry
// gateway-specific failure categories that clients can branch on.
const (
	// ErrorCodeUnsupportedProtocol is returned when version negotiation fails.
	// Non-retryable without a client upgrade.
	ErrorCodeUnsupportedProtocol ErrorCode = -32000
	// ErrorCodeUnauthenticated is returned when no recognized credential was
	// presented. The client should acquire a credential and retry.
	ErrorCodeUnauthenticated ErrorCode = -32001
	// ErrorCodeInvalidCredential is returned when a credential was recognized
	// but failed validation (expired, revoked, bad signature). The client
	// should re-authenticate rather than retry as-is.
	ErrorCodeInvalidCredential ErrorCode = -32002
	// ErrorCodeRateLimited is returned when a rate limit window is exhausted.
	// Retryable after the window indicated in the error data.
	ErrorCodeRateLimited ErrorCode = -32003
	// ErrorCodeForbidden is returned when the caller authenticated but lacks
	// a role the resolved tool requires.
	ErrorCodeForbidden ErrorCode = -32004
	// ErrorCodeToolExecution is returned when a tool's own logic failed.
	// Internal details are sanitized before reaching the client.
	ErrorCodeToolExecution ErrorCode = -32005
)

// HTTPStatus maps an error code to the HTTP status that mirrors its category
// for clients that inspect status rather than body.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrorCodeParseError, ErrorCodeInvalidRequest, ErrorCodeInvalidParams, ErrorCodeUnsupportedProtocol:
		return http.StatusBadRequest
	case ErrorCodeUnauthenticated, ErrorCodeInvalidCredential:
		return http.StatusUnauthorized
	case ErrorCodeForbidden:
		return http.StatusForbidden
	case ErrorCodeMethodNotFound:
		return http.StatusNotFound
	case ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
