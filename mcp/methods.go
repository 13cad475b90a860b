package mcp

// Method is an MCP method identifier used in JSON-RPC messages.
type Method string

// The fixed method set served by the gateway.
const (
	// Initialization
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"

	// Tools
	ToolsListMethod Method = "tools/list"
	ToolsCallMethod Method = "tools/call"

	// Resources
	ResourcesListMethod Method = "resources/list"
	ResourcesReadMethod Method = "resources/read"

	// Prompts
	PromptsListMethod Method = "prompts/list"
	PromptsGetMethod  Method = "prompts/get"

	// General
	PingMethod Method = "ping"

	// Streaming
	ToolChunkNotificationMethod Method = "notifications/tools/chunk"
)

// IsReadOnly reports whether the method bypasses rate limiting. Methods not
// listed here consume rate-limit budget.
func (m Method) IsReadOnly() bool {
	switch m {
	case ToolsListMethod, ResourcesListMethod, ResourcesReadMethod,
		PromptsListMethod, PromptsGetMethod, PingMethod:
		return true
	default:
		return false
	}
}
