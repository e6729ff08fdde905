package mcpconn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"
)

const protocolVersion = "2024-11-05"

// Connector dials MCP providers over streamable HTTP.
type Connector struct{}

func NewConnector() *Connector {
	return &Connector{}
}

func (c *Connector) Connect(ctx context.Context, serverURL, bearerToken string) (domain.ToolSession, error) {
	var opts []transport.StreamableHTTPCOption
	if bearerToken != "" {
		opts = append(opts, transport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + bearerToken,
		}))
	}

	mcpClient, err := client.NewStreamableHttpClient(serverURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP transport: %w", err)
	}

	initReq := mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "auxilia",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}

	result, err := mcpClient.Initialize(ctx, initReq)
	if err != nil {
		mcpClient.Close()

		if isAuthRequired(err) {
			return nil, domain.ErrNeedsAuthorization
		}
		return nil, fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	log.Debug().
		Str("server", result.ServerInfo.Name).
		Str("version", result.ServerInfo.Version).
		Msg("Connected to MCP provider")

	return &session{client: mcpClient}, nil
}

type session struct {
	client *client.Client
}

func (s *session) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		if isAuthRequired(err) {
			return nil, domain.ErrNeedsAuthorization
		}
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]domain.ToolDescriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		tools = append(tools, domain.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
		})
	}
	return tools, nil
}

func (s *session) CallTool(ctx context.Context, name string, args map[string]any) (domain.ToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := s.client.CallTool(ctx, req)
	if err != nil {
		if isAuthRequired(err) {
			return domain.ToolResult{}, domain.ErrNeedsAuthorization
		}
		return domain.ToolResult{}, err
	}

	var parts []string
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, textContent.Text)
		}
	}

	return domain.ToolResult{
		Content: strings.Join(parts, "\n"),
		IsError: result.IsError,
	}, nil
}

func (s *session) Close() error {
	return s.client.Close()
}

// isAuthRequired detects a 401 from the provider so the caller can restart
// the authorization flow instead of reporting a transport failure. The
// transport only surfaces the status through the error, so besides the typed
// OAuth error this anchors on the exact "status 401" fragment the transport
// formats, not a bare "401" that could appear in a provider message.
func isAuthRequired(err error) bool {
	if err == nil {
		return false
	}

	var oauthErr *transport.OAuthAuthorizationRequiredError
	if errors.As(err, &oauthErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, fmt.Sprintf("status %d", http.StatusUnauthorized)) ||
		strings.Contains(msg, fmt.Sprintf("status code: %d", http.StatusUnauthorized)) ||
		strings.Contains(msg, "unauthorized")
}
