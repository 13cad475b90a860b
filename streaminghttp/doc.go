// Package streaminghttp exposes the gateway over the MCP streamable HTTP
// transport. A single endpoint accepts JSON-RPC POSTs and serves server-push
// SSE streams on GET; sessions travel in the Mcp-Session-Id header so any
// instance behind a load balancer can serve any request.
//
// Response mode on POST is chosen per message: notifications are acknowledged
// with an empty 202, plain requests get an application/json body, and
// streaming tool invocations upgrade the response to text/event-stream with
// the terminal JSON-RPC response as the final event.
package streaminghttp
