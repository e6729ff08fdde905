package managers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

type ToolExecutionManagerDependencies struct {
	Providers domain.ProviderRepository
	Policies  domain.ToolPolicyService
	Approvals domain.ApprovalCoordinator
	Tokens    domain.TokenManager
	Vault     domain.SecretVault
	Connector domain.ToolConnector
}

// toolExecutionManager is the gate the agent execution loop calls through at
// every tool boundary: policy first, then the approval interrupt when
// required, and only then the provider.
type toolExecutionManager struct {
	providers domain.ProviderRepository
	policies  domain.ToolPolicyService
	approvals domain.ApprovalCoordinator
	tokens    domain.TokenManager
	vault     domain.SecretVault
	connector domain.ToolConnector
}

func NewToolExecutionManager(deps ToolExecutionManagerDependencies) domain.ToolExecutor {
	return &toolExecutionManager{
		providers: deps.Providers,
		policies:  deps.Policies,
		approvals: deps.Approvals,
		tokens:    deps.Tokens,
		vault:     deps.Vault,
		connector: deps.Connector,
	}
}

// NewCallID mints an id for a gated tool call.
func NewCallID() string {
	return xid.New().String()
}

func (m *toolExecutionManager) ExecuteTool(ctx context.Context, call domain.ToolCall) (domain.ToolResult, error) {
	status, err := m.policies.Evaluate(ctx, call.AgentID, call.ProviderID, call.ToolName)
	if err != nil {
		return domain.ToolResult{}, err
	}

	switch status {
	case domain.ToolStatusDisabled:
		return domain.ToolResult{}, domain.ErrToolDisabled

	case domain.ToolStatusNeedsApproval:
		if err := m.awaitApproval(ctx, call); err != nil {
			return domain.ToolResult{}, err
		}

	case domain.ToolStatusAlwaysAllow:
		// Proceed straight to execution.
	}

	provider, err := m.providers.GetProvider(ctx, call.ProviderID)
	if err != nil {
		return domain.ToolResult{}, err
	}

	session, err := m.connect(ctx, provider, call.UserID)
	if err != nil {
		return domain.ToolResult{}, err
	}
	defer session.Close()

	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return domain.ToolResult{}, fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	// Agents address tools by their provider-prefixed name; the provider
	// itself only knows the bare name.
	toolName := call.ToolName
	if bare, ok := domain.StripToolPrefix(provider.Name, call.ToolName); ok {
		toolName = bare
	}

	result, err := session.CallTool(ctx, toolName, args)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("tool call %s failed: %w", call.ToolName, err)
	}

	return result, nil
}

// awaitApproval suspends the call at the tool boundary. Everything needed to
// resume is in the persisted approval record, so the decision may arrive in
// another process entirely.
func (m *toolExecutionManager) awaitApproval(ctx context.Context, call domain.ToolCall) error {
	decision, err := m.approvals.RequestApproval(ctx, domain.ApprovalRequest{
		CallID:    call.CallID,
		AgentID:   call.AgentID,
		ThreadID:  call.ThreadID,
		ToolName:  call.ToolName,
		Arguments: call.Arguments,
	})
	if err != nil {
		return err
	}

	if decision.Approved {
		return nil
	}

	if decision.Reason == domain.ApprovalReasonTimeout {
		return domain.ErrApprovalTimeout
	}
	return domain.ErrApprovalRejected
}

func (m *toolExecutionManager) ListTools(ctx context.Context, providerID, userID string) ([]domain.ToolDescriptor, error) {
	provider, err := m.providers.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	session, err := m.connect(ctx, provider, userID)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	tools, err := session.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	for i := range tools {
		tools[i].Name = domain.PrefixToolName(provider.Name, tools[i].Name)
	}
	return tools, nil
}

func (m *toolExecutionManager) connect(ctx context.Context, provider domain.ProviderConnection, userID string) (domain.ToolSession, error) {
	bearer := ""
	switch provider.AuthType {
	case domain.AuthTypeAPIKey:
		apiKey, err := m.vault.Get(ctx, provider.APIKeyRef)
		if err != nil {
			return nil, err
		}
		bearer = string(apiKey)

	case domain.AuthTypeOAuth2:
		token, err := m.tokens.GetValidToken(ctx, provider.ID, userID)
		if err != nil {
			return nil, err
		}
		bearer = token
	}

	session, err := m.connector.Connect(ctx, provider.URL, bearer)
	if err != nil {
		if errors.Is(err, domain.ErrNeedsAuthorization) {
			return nil, err
		}
		log.Warn().Err(err).Str("provider_id", provider.ID).Msg("Failed to connect to provider")
		return nil, fmt.Errorf("failed to connect to provider %s: %w", provider.Name, err)
	}

	return session, nil
}
