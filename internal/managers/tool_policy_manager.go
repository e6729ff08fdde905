package managers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type ToolPolicyManagerDependencies struct {
	Policies domain.ToolPolicyRepository
}

type toolPolicyManager struct {
	policies domain.ToolPolicyRepository
}

func NewToolPolicyManager(deps ToolPolicyManagerDependencies) domain.ToolPolicyService {
	return &toolPolicyManager{policies: deps.Policies}
}

func (m *toolPolicyManager) GetPolicy(ctx context.Context, agentID, providerID string) (domain.ToolPolicy, error) {
	policy, err := m.policies.GetPolicy(ctx, agentID, providerID)
	if err != nil {
		if errors.Is(err, domain.ErrPolicyNotFound) {
			// A brand-new binding behaves as wildcard: every tool defaults
			// to allowed until someone restricts one.
			return newWildcardPolicy(agentID, providerID), nil
		}
		return domain.ToolPolicy{}, err
	}
	return policy, nil
}

func (m *toolPolicyManager) Evaluate(ctx context.Context, agentID, providerID, toolName string) (domain.ToolStatus, error) {
	policy, err := m.GetPolicy(ctx, agentID, providerID)
	if err != nil {
		return "", err
	}
	return policy.Evaluate(toolName), nil
}

// SetToolStatus is the single mutation entry point for tool policies. The
// wildcard/explicit conversion rules live here and nowhere else; naive
// per-entry toggling drifts the two representations apart.
func (m *toolPolicyManager) SetToolStatus(ctx context.Context, agentID, providerID, toolName string, status domain.ToolStatus, allToolNames []string) (domain.ToolPolicy, error) {
	if !status.Valid() {
		return domain.ToolPolicy{}, fmt.Errorf("invalid tool status %q", status)
	}
	if toolName == domain.WildcardTool {
		return domain.ToolPolicy{}, fmt.Errorf("the wildcard sentinel cannot be mutated directly")
	}

	policy, err := m.GetPolicy(ctx, agentID, providerID)
	if err != nil {
		return domain.ToolPolicy{}, err
	}

	switch policy.Mode {
	case domain.PolicyModeWildcard:
		if status == domain.ToolStatusAlwaysAllow {
			// Already the wildcard meaning; the representation stays put.
			return policy, nil
		}

		// Restricting one tool forces the policy out of wildcard mode:
		// every currently known tool keeps its allowed status explicitly,
		// except the one being restricted.
		policy.Mode = domain.PolicyModeExplicit
		policy.Tools = make(map[string]domain.ToolStatus, len(allToolNames))
		for _, name := range allToolNames {
			policy.Tools[name] = domain.ToolStatusAlwaysAllow
		}
		policy.Tools[toolName] = status

	case domain.PolicyModeExplicit:
		if policy.Tools == nil {
			policy.Tools = make(map[string]domain.ToolStatus)
		}
		policy.Tools[toolName] = status

		// Collapse back to wildcard when the explicit map is
		// indistinguishable from one: every known tool allowed, nothing
		// restricted. Toggling a tool away and back then round-trips to the
		// representation a fresh binding would have.
		if status == domain.ToolStatusAlwaysAllow && collapsible(policy.Tools, allToolNames) {
			policy.Mode = domain.PolicyModeWildcard
			policy.Tools = nil
		}

	default:
		return domain.ToolPolicy{}, fmt.Errorf("unknown policy mode %q", policy.Mode)
	}

	policy.UpdatedAt = time.Now()
	if err := m.policies.SavePolicy(ctx, policy); err != nil {
		return domain.ToolPolicy{}, err
	}

	log.Info().
		Str("agent_id", agentID).
		Str("provider_id", providerID).
		Str("tool", toolName).
		Str("status", string(status)).
		Str("mode", string(policy.Mode)).
		Msg("Updated tool policy")

	return policy, nil
}

func collapsible(tools map[string]domain.ToolStatus, allToolNames []string) bool {
	if len(allToolNames) == 0 {
		return false
	}
	for _, name := range allToolNames {
		if tools[name] != domain.ToolStatusAlwaysAllow {
			return false
		}
	}
	for _, status := range tools {
		if status != domain.ToolStatusAlwaysAllow {
			return false
		}
	}
	return true
}

func newWildcardPolicy(agentID, providerID string) domain.ToolPolicy {
	now := time.Now()
	return domain.ToolPolicy{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		ProviderID: providerID,
		Mode:       domain.PolicyModeWildcard,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
