package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/ratecard/pkg/ratecard"
)

// Config holds the connection settings for the rate card API.
type Config struct {
	APIURL   string // Base URL, e.g. "http://localhost:8080"
	TenantID string // Tenant identifier sent as X-Tenant-ID
}

// NewMCPServer creates a configured MCP server with all rate card tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("ratecard", "1.0.0")
	client := ratecard.NewClient(cfg.APIURL, cfg.TenantID)
	h := NewHandlers(client)

	s.AddTool(ToolValidateConfiguration, h.HandleValidateConfiguration)
	s.AddTool(ToolPreviewCharge, h.HandlePreviewCharge)
	s.AddTool(ToolListPlans, h.HandleListPlans)
	s.AddTool(ToolGetPlanPricing, h.HandleGetPlanPricing)
	s.AddTool(ToolListServices, h.HandleListServices)
	s.AddTool(ToolRecordUsage, h.HandleRecordUsage)

	return s
}
