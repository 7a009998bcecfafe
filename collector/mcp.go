package collector

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/emosketch/kit"
)

// RegisterMCP registers the collector tools on an MCP server.
func (c *Collector) RegisterMCP(srv *mcp.Server) {
	c.registerStatsTool(srv)
	c.registerRecentTool(srv)
	c.registerPrepareTool(srv)
	c.registerEventsTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (c *Collector) register(srv *mcp.Server, tool *mcp.Tool, ep kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	ep = kit.Chain(kit.Logging(c.logger, tool.Name))(ep)
	kit.RegisterMCPTool(srv, tool, ep, decode)
}

// --- stats ---

type statsRequest struct{}

func (c *Collector) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sketch_stats",
		Description: "Count stored drawings per emotion partition.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	c.register(srv, tool, func(ctx context.Context, _ any) (any, error) {
		return c.store.Stats(ctx)
	}, kit.DecodeJSON[statsRequest]())
}

// --- recent ---

type recentRequest struct {
	Partition string `json:"partition,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (c *Collector) registerRecentTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sketch_recent",
		Description: "List the most recent drawings, newest first.",
		InputSchema: inputSchema(map[string]any{
			"partition": map[string]any{"type": "string", "enum": toAny(c.cats.All()), "description": "Only this partition"},
			"limit":     map[string]any{"type": "integer", "description": "Max results (default 50)"},
		}, nil),
	}
	c.register(srv, tool, func(ctx context.Context, req any) (any, error) {
		r := req.(*recentRequest)
		list, err := c.store.Recent(ctx, r.Partition, r.Limit)
		if list == nil {
			list = []Drawing{}
		}
		return list, err
	}, kit.DecodeJSON[recentRequest]())
}

// --- prepare ---

type prepareRequest struct{}

func (c *Collector) registerPrepareTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sketch_prepare",
		Description: "Rebuild X.npy and y.npy from the labeled drawings.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	c.register(srv, tool, func(ctx context.Context, _ any) (any, error) {
		return c.Prepare(ctx)
	}, kit.DecodeJSON[prepareRequest]())
}

// --- events ---

type eventsRequest struct {
	Type  string `json:"type,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (c *Collector) registerEventsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sketch_events",
		Description: "List recent collector events (saves, rejections, dataset builds).",
		InputSchema: inputSchema(map[string]any{
			"type":  map[string]any{"type": "string", "description": "Event type filter, e.g. drawing_saved"},
			"limit": map[string]any{"type": "integer", "description": "Max results (default 50)"},
		}, nil),
	}
	c.register(srv, tool, func(ctx context.Context, req any) (any, error) {
		r := req.(*eventsRequest)
		return c.events.Recent(ctx, r.Type, r.Limit)
	}, kit.DecodeJSON[eventsRequest]())
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
