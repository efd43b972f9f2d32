package service

import (
	"context"

	"github.com/phrazzld/relay-api/internal/outbound"
)

// StaticToolCatalog serves a fixed tool list configured at startup. The
// worker resolves tool-call tasks against it by id or name.
type StaticToolCatalog struct {
	tools []outbound.Tool
}

// NewStaticToolCatalog creates a catalog from the given tools.
func NewStaticToolCatalog(tools []outbound.Tool) *StaticToolCatalog {
	return &StaticToolCatalog{tools: append([]outbound.Tool(nil), tools...)}
}

// GetAvailableTools returns a copy of the configured tool list.
func (c *StaticToolCatalog) GetAvailableTools(_ context.Context) ([]outbound.Tool, error) {
	return append([]outbound.Tool(nil), c.tools...), nil
}
