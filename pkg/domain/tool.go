package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ToolDescriptor describes one callable tool exposed by a provider.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ToolCall is a single gated invocation at the agent loop's tool boundary.
type ToolCall struct {
	CallID     string          `json:"call_id"`
	AgentID    string          `json:"agent_id"`
	ThreadID   string          `json:"thread_id"`
	UserID     string          `json:"user_id"`
	ProviderID string          `json:"provider_id"`
	ToolName   string          `json:"tool_name"`
	Arguments  json.RawMessage `json:"arguments"`
}

type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// PrefixToolName namespaces a tool with its provider so agents addressing
// several providers never collide on tool names.
func PrefixToolName(providerName, toolName string) string {
	return fmt.Sprintf("%s_%s", providerName, toolName)
}

// StripToolPrefix undoes PrefixToolName for a known provider. ok is false
// when the name does not carry that provider's prefix.
func StripToolPrefix(providerName, prefixed string) (toolName string, ok bool) {
	toolName, ok = strings.CutPrefix(prefixed, providerName+"_")
	if !ok || toolName == "" {
		return "", false
	}
	return toolName, true
}

// ToolSession is one initialized connection to a provider.
type ToolSession interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (ToolResult, error)
	Close() error
}

// ToolConnector dials providers. The bearer token is empty for providers
// with AuthType none.
type ToolConnector interface {
	Connect(ctx context.Context, serverURL, bearerToken string) (ToolSession, error)
}

// ToolExecutor is the agent-loop-facing gate: every tool call passes through
// policy evaluation and, when required, the approval interrupt before the
// provider is ever contacted.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, call ToolCall) (ToolResult, error)
	ListTools(ctx context.Context, providerID, userID string) ([]ToolDescriptor, error)
}
