package streaminghttp

import (
	"encoding/json"
	"net/http"

	"github.com/cgk-platform/mcp-gateway/mcp"
)

// manifestDoc is the public discovery document. It carries no tenant-scoped
// data; the tool catalog itself is only visible through an authenticated
// tools/list.
type manifestDoc struct {
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	ProtocolVersions []string          `json:"protocolVersions"`
	Endpoints        manifestEndpoints `json:"endpoints"`
	Categories       []string          `json:"categories"`
	AuthMethods      []string          `json:"authMethods"`
}

type manifestEndpoints struct {
	MCP            string `json:"mcp"`
	OAuthAuthorize string `json:"oauthAuthorize"`
	OAuthToken     string `json:"oauthToken"`
}

// handleGetManifest serves GET /mcp/manifest, the unauthenticated discovery
// document.
func (h *Handler) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	info := h.eng.ServerInfo()
	cats := h.reg.Categories()
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, string(c))
	}
	doc := manifestDoc{
		Name:             info.Name,
		Version:          info.Version,
		ProtocolVersions: mcp.SupportedProtocolVersions,
		Endpoints: manifestEndpoints{
			MCP:            "/mcp",
			OAuthAuthorize: "/mcp/oauth/authorize",
			OAuthToken:     "/mcp/oauth/token",
		},
		Categories:  names,
		AuthMethods: []string{"bearer", "api_key", "cookie"},
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.Header().Set("Cache-Control", "max-age=300")
	_ = json.NewEncoder(w).Encode(doc)
}
