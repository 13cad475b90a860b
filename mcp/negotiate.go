package mcp

import (
	"errors"
	"fmt"
	"slices"
)

// SupportedProtocolVersions lists the protocol revisions the gateway speaks,
// newest first. Versions are opaque date-stamped identifiers; there is no
// range matching.
var SupportedProtocolVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// LatestProtocolVersion is the newest supported protocol revision.
var LatestProtocolVersion = SupportedProtocolVersions[0]

// ErrUnsupportedProtocolVersion is returned when a client declares a protocol
// version the gateway does not speak. Not retryable without a client upgrade.
var ErrUnsupportedProtocolVersion = errors.New("unsupported protocol version")

// NegotiateProtocolVersion selects the protocol version for a session. The
// client-declared version must match a supported version exactly; the chosen
// version is pinned for the session's lifetime and never renegotiated.
func NegotiateProtocolVersion(requested string) (string, error) {
	if requested == "" {
		return "", fmt.Errorf("%w: no version requested", ErrUnsupportedProtocolVersion)
	}
	if !slices.Contains(SupportedProtocolVersions, requested) {
		return "", fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedProtocolVersion, requested, SupportedProtocolVersions)
	}
	return requested, nil
}
