// Package mcp defines the wire-level types of the Model Context Protocol
// surface exposed by the gateway: the fixed method set, the initialize
// handshake shapes, tool/resource/prompt descriptors, and protocol version
// negotiation.
//
// The package is transport-agnostic. JSON-RPC framing lives in
// internal/jsonrpc; HTTP concerns live in streaminghttp.
package mcp
