package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"runtime/debug"

	"github.com/cgk-platform/mcp-gateway/auth"
	"github.com/cgk-platform/mcp-gateway/internal/jsonrpc"
	"github.com/cgk-platform/mcp-gateway/mcp"
	"github.com/cgk-platform/mcp-gateway/registry"
)

// executeUnary runs a non-streaming tool handler to completion. Handler
// panics and errors are converted to a tool-execution error response; raw
// error details never reach the client.
func (e *Engine) executeUnary(ctx context.Context, ac *auth.Context, tool registry.ToolDefinition, args json.RawMessage, id *jsonrpc.RequestID) *jsonrpc.Response {
	result, err := e.invokeHandler(ctx, ac, tool, args)
	if err != nil {
		e.log.ErrorContext(ctx, "tool.call.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeToolExecution, "tool execution failed", nil)
	}
	e.log.InfoContext(ctx, "tool.call.ok")
	return mustResult(id, result)
}

func (e *Engine) invokeHandler(ctx context.Context, ac *auth.Context, tool registry.ToolDefinition, args json.RawMessage) (result *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "tool.call.panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			result = nil
			err = errors.New("tool handler panicked")
		}
	}()
	return tool.Handler(ctx, ac, args)
}

// executeStreaming runs a streaming tool, pulling chunks one at a time and
// forwarding each as a notifications/tools/chunk message through the sink.
// The sink's blocking WriteChunk is the backpressure gate: the next pull from
// the iterator does not happen until the transport has accepted the previous
// chunk. A nil return means the client disconnected mid-stream and no
// terminal response can be delivered.
func (e *Engine) executeStreaming(ctx context.Context, ac *auth.Context, tool registry.ToolDefinition, args json.RawMessage, id *jsonrpc.RequestID, sink ChunkSink) *jsonrpc.Response {
	iter, err := e.startStream(ctx, ac, tool, args)
	if err != nil {
		e.log.ErrorContext(ctx, "tool.stream.start.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeToolExecution, "tool execution failed", nil)
	}

	seq := 0
	for {
		// The executor owns disconnect detection: once the request context is
		// canceled it must stop pulling even from an iterator that never
		// checks ctx itself.
		if ctx.Err() != nil {
			e.log.InfoContext(ctx, "tool.stream.abandoned", slog.Int("chunks", seq))
			return nil
		}
		block, err := e.pullChunk(ctx, iter)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				// Client gone; stop pulling, nothing to deliver.
				e.log.InfoContext(ctx, "tool.stream.abandoned", slog.Int("chunks", seq))
				return nil
			}
			e.log.ErrorContext(ctx, "tool.stream.fail",
				slog.Int("chunks", seq),
				slog.String("err", err.Error()))
			// Already-delivered chunks remain valid; the error response is the
			// terminal event for this invocation.
			return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeToolExecution, "tool execution failed", nil)
		}

		payload, err := marshalChunkNotification(id, seq, block)
		if err != nil {
			e.log.ErrorContext(ctx, "tool.stream.encode.fail", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "failed to encode stream chunk", nil)
		}
		if err := sink.WriteChunk(ctx, payload); err != nil {
			e.log.InfoContext(ctx, "tool.stream.abandoned",
				slog.Int("chunks", seq),
				slog.String("err", err.Error()))
			return nil
		}
		seq++
	}

	e.log.InfoContext(ctx, "tool.stream.ok", slog.Int("chunks", seq))
	return mustResult(id, &mcp.CallToolResult{
		Content: []mcp.ContentBlock{},
		Meta:    map[string]any{"chunkCount": seq},
	})
}

func (e *Engine) startStream(ctx context.Context, ac *auth.Context, tool registry.ToolDefinition, args json.RawMessage) (iter registry.ChunkIterator, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "tool.stream.panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			iter = nil
			err = errors.New("tool handler panicked")
		}
	}()
	return tool.StreamHandler(ctx, ac, args)
}

func (e *Engine) pullChunk(ctx context.Context, iter registry.ChunkIterator) (block mcp.ContentBlock, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "tool.stream.panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = errors.New("tool iterator panicked")
		}
	}()
	return iter.Next(ctx)
}

// marshalChunkNotification encodes one stream chunk as a JSON-RPC
// notification carrying the originating request ID and a per-invocation
// sequence number.
func marshalChunkNotification(id *jsonrpc.RequestID, seq int, block mcp.ContentBlock) ([]byte, error) {
	params, err := json.Marshal(mcp.ToolChunk{
		RequestID: id.String(),
		Seq:       seq,
		Content:   block,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.ToolChunkNotificationMethod),
		Params:         params,
	})
}
