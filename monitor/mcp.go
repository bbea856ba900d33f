package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the monitor tools on an MCP server.
func (m *Monitor) RegisterMCP(srv *mcp.Server) {
	m.registerStatusTool(srv)
	m.registerStopTool(srv)
	m.registerAlertsTool(srv)
}

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

// addTool wraps a typed handler: arguments are decoded into a fresh Req, the
// response is returned as JSON text, and errors become tool errors.
func addTool[Req any](srv *mcp.Server, tool *mcp.Tool, handle func(ctx context.Context, req *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req Req
		if len(call.Params.Arguments) > 0 {
			if err := json.Unmarshal(call.Params.Arguments, &req); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		resp, err := handle(ctx, &req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- feedwatch_status ---

type statusReq struct{}

func (m *Monitor) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feedwatch_status",
		Description: "Report the monitor status: run state, account, poll counters, baseline post and supervisor health.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(_ context.Context, _ *statusReq) (any, error) {
		return m.Status(), nil
	})
}

// --- feedwatch_stop ---

type stopReq struct{}

func (m *Monitor) registerStopTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feedwatch_stop",
		Description: "Stop the running monitor. The browser session is released.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(_ context.Context, _ *stopReq) (any, error) {
		if !m.Running() {
			return nil, errors.New("monitor is not running")
		}
		m.Stop()
		return map[string]string{"status": "stopping"}, nil
	})
}

// --- feedwatch_alerts ---

type alertsReq struct {
	Limit int `json:"limit"`
}

func (m *Monitor) registerAlertsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feedwatch_alerts",
		Description: "List recent emergency alerts raised by the health supervisor, newest first.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum alerts to return (default 20)"},
		}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, req *alertsReq) (any, error) {
		if m.journal == nil {
			return nil, errors.New("journal disabled")
		}
		alerts, err := m.journal.RecentAlerts(ctx, req.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"alerts": alerts, "count": len(alerts)}, nil
	})
}
