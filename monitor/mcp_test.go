package monitor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/feedwatch/browser"
	"github.com/hazyhaar/feedwatch/observability"
)

var testMCPImpl = &mcp.Implementation{Name: "feedwatch-test", Version: "0.1.0"}

func mcpSession(t *testing.T, m *Monitor) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	m.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return result
}

func mcpText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool error: %s", contentText(t, result))
	}
	return contentText(t, result)
}

// mcpToolError asserts the call failed as a tool error and returns its text.
func mcpToolError(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if !result.IsError {
		t.Fatalf("expected tool error, got %s", contentText(t, result))
	}
	return contentText(t, result)
}

func contentText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return tc.Text
}

// --- feedwatch_status ---

func TestMCP_Status(t *testing.T) {
	session := mcpSession(t, newMonitor(browser.NewFake(), Options{}))

	text := mcpText(t, mcpCall(t, session, "feedwatch_status", map[string]any{}))
	var st Status
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.Status != "standby" || st.Running {
		t.Fatalf("status: %+v", st)
	}
}

// --- feedwatch_stop ---

func TestMCP_StopWhenIdle(t *testing.T) {
	session := mcpSession(t, newMonitor(browser.NewFake(), Options{}))

	msg := mcpToolError(t, mcpCall(t, session, "feedwatch_stop", map[string]any{}))
	if !strings.Contains(msg, "not running") {
		t.Fatalf("error text: %q", msg)
	}
}

// --- feedwatch_alerts ---

func TestMCP_Alerts(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	for _, msg := range []string{"first", "second", "third"} {
		j.RecordAlert(ctx, observability.Alert{Account: "someone", Message: msg, Status: "fatal"})
	}
	session := mcpSession(t, newMonitor(browser.NewFake(), Options{}, WithJournal(j)))

	text := mcpText(t, mcpCall(t, session, "feedwatch_alerts", map[string]any{"limit": 2}))
	var resp struct {
		Alerts []observability.Alert `json:"alerts"`
		Count  int                   `json:"count"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 || len(resp.Alerts) != 2 {
		t.Fatalf("alerts: %+v", resp)
	}
}

func TestMCP_AlertsWithoutJournal(t *testing.T) {
	session := mcpSession(t, newMonitor(browser.NewFake(), Options{}))
	msg := mcpToolError(t, mcpCall(t, session, "feedwatch_alerts", map[string]any{}))
	if !strings.Contains(msg, "journal disabled") {
		t.Fatalf("error text: %q", msg)
	}
}
