package domain

import (
	"context"
	"time"
)

type ToolStatus string

const (
	ToolStatusAlwaysAllow   ToolStatus = "always_allow"
	ToolStatusNeedsApproval ToolStatus = "needs_approval"
	ToolStatusDisabled      ToolStatus = "disabled"
)

func (s ToolStatus) Valid() bool {
	switch s {
	case ToolStatusAlwaysAllow, ToolStatusNeedsApproval, ToolStatusDisabled:
		return true
	}
	return false
}

type PolicyMode string

const (
	PolicyModeWildcard PolicyMode = "wildcard"
	PolicyModeExplicit PolicyMode = "explicit"
)

// WildcardTool is the reserved sentinel used when serializing a wildcard
// policy as a tool map. It may only appear as the sole entry, never mixed
// with named tools.
const WildcardTool = "*"

// ToolPolicy is a tagged variant: either wildcard ("every tool, including
// ones not yet known, defaults to allowed") or an explicit map. Tools is nil
// in wildcard mode.
type ToolPolicy struct {
	ID         string                `json:"id" bson:"_id"`
	AgentID    string                `json:"agent_id" bson:"agent_id"`
	ProviderID string                `json:"provider_id" bson:"provider_id"`
	Mode       PolicyMode            `json:"mode" bson:"mode"`
	Tools      map[string]ToolStatus `json:"tools,omitempty" bson:"tools,omitempty"`
	CreatedAt  time.Time             `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at" bson:"updated_at"`
}

// Evaluate returns the status for a tool under this policy. Explicit mode
// fails closed: a tool absent from the map is disabled, so a newly
// discovered tool is never silently allowed.
func (p ToolPolicy) Evaluate(toolName string) ToolStatus {
	if p.Mode == PolicyModeWildcard {
		return ToolStatusAlwaysAllow
	}
	if status, ok := p.Tools[toolName]; ok {
		return status
	}
	return ToolStatusDisabled
}

// SerializeTools renders the policy as the persisted-state tool map shape:
// wildcard policies become {"*": "always_allow"}.
func (p ToolPolicy) SerializeTools() map[string]ToolStatus {
	if p.Mode == PolicyModeWildcard {
		return map[string]ToolStatus{WildcardTool: ToolStatusAlwaysAllow}
	}
	out := make(map[string]ToolStatus, len(p.Tools))
	for name, status := range p.Tools {
		out[name] = status
	}
	return out
}

type ToolPolicyRepository interface {
	GetPolicy(ctx context.Context, agentID, providerID string) (ToolPolicy, error)
	SavePolicy(ctx context.Context, policy ToolPolicy) error
}

type ToolPolicyService interface {
	// Evaluate resolves the effective status for one tool. A missing policy
	// behaves as a brand-new wildcard binding.
	Evaluate(ctx context.Context, agentID, providerID, toolName string) (ToolStatus, error)

	// SetToolStatus applies one mutation, expanding out of wildcard mode or
	// collapsing back into it as needed. allToolNames is the provider's full
	// current tool list.
	SetToolStatus(ctx context.Context, agentID, providerID, toolName string, status ToolStatus, allToolNames []string) (ToolPolicy, error)

	GetPolicy(ctx context.Context, agentID, providerID string) (ToolPolicy, error)
}
