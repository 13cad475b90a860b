package mcp

import (
	"errors"
	"testing"
)

func TestNegotiateProtocolVersion(t *testing.T) {
	for _, v := range SupportedProtocolVersions {
		got, err := NegotiateProtocolVersion(v)
		if err != nil {
			t.Fatalf("NegotiateProtocolVersion(%q): %v", v, err)
		}
		if got != v {
			t.Fatalf("NegotiateProtocolVersion(%q) = %q, want exact echo", v, got)
		}
	}
}

func TestNegotiateProtocolVersionUnsupported(t *testing.T) {
	cases := []string{
		"2023-01-01",
		"2025-06-18 ", // versions are opaque strings, no trimming
		"latest",
		"",
	}
	for _, v := range cases {
		if _, err := NegotiateProtocolVersion(v); !errors.Is(err, ErrUnsupportedProtocolVersion) {
			t.Fatalf("NegotiateProtocolVersion(%q) err = %v, want ErrUnsupportedProtocolVersion", v, err)
		}
	}
}

func TestLatestProtocolVersionIsFirst(t *testing.T) {
	if LatestProtocolVersion != SupportedProtocolVersions[0] {
		t.Fatalf("latest version %q is not the first supported entry", LatestProtocolVersion)
	}
}
