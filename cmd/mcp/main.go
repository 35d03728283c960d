// Ratecard MCP Server - Exposes rate card capabilities as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/ratecard/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:   envOrDefault("RATECARD_API_URL", "http://localhost:8080"),
		TenantID: os.Getenv("RATECARD_TENANT_ID"),
	}

	if cfg.TenantID == "" {
		fmt.Fprintln(os.Stderr, "RATECARD_TENANT_ID is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
