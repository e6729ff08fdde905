package controllers

import (
	"encoding/json"
	"errors"

	"github.com/auxilia-ai/auxilia/internal/managers"
	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// AgentController exposes the per-agent side of tool providers: which tools
// an agent may use, and the gated execution of a single tool call.
type AgentController struct {
	policies domain.ToolPolicyService
	executor domain.ToolExecutor
}

type AgentControllerDependencies struct {
	Policies domain.ToolPolicyService
	Executor domain.ToolExecutor
}

func NewAgentController(deps AgentControllerDependencies) *AgentController {
	return &AgentController{
		policies: deps.Policies,
		executor: deps.Executor,
	}
}

type UpdateToolPolicyRequest struct {
	Tools map[string]domain.ToolStatus `json:"tools"`
}

// UpdateToolPolicy applies per-tool status changes for an agent/provider
// binding. A body of {"*": "always_allow"} resets the binding to allow
// everything, including tools the provider adds later.
func (c *AgentController) UpdateToolPolicy(ctx fiber.Ctx) error {
	agentID := ctx.Params("agentID")
	providerID := ctx.Params("providerID")

	userID := requestUserID(ctx)
	if userID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing user identity")
	}

	var req UpdateToolPolicyRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if len(req.Tools) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "tools must contain at least one entry")
	}

	for name, status := range req.Tools {
		if name == domain.WildcardTool {
			if len(req.Tools) > 1 {
				return fiber.NewError(fiber.StatusBadRequest, "The wildcard entry cannot be mixed with named tools")
			}
			if status != domain.ToolStatusAlwaysAllow {
				return fiber.NewError(fiber.StatusBadRequest, "The wildcard entry only accepts always_allow")
			}
			continue
		}

		if !status.Valid() {
			return fiber.NewError(fiber.StatusBadRequest, "Unknown tool status")
		}
	}

	descriptors, err := c.executor.ListTools(ctx.RequestCtx(), providerID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNeedsAuthorization) {
			return fiber.NewError(fiber.StatusUnauthorized, "Provider authorization required before editing tool policies")
		}

		if errors.Is(err, domain.ErrProviderNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Provider not found")
		}

		log.Error().Err(err).Str("provider_id", providerID).Msg("Failed to list provider tools")
		return fiber.NewError(fiber.StatusBadGateway, "Failed to list provider tools")
	}

	allToolNames := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		allToolNames = append(allToolNames, descriptor.Name)
	}

	var policy domain.ToolPolicy

	if _, isWildcardReset := req.Tools[domain.WildcardTool]; isWildcardReset {
		for _, name := range allToolNames {
			policy, err = c.policies.SetToolStatus(ctx.RequestCtx(), agentID, providerID, name, domain.ToolStatusAlwaysAllow, allToolNames)
			if err != nil {
				log.Error().Err(err).Str("tool", name).Msg("Failed to update tool policy")
				return fiber.NewError(fiber.StatusInternalServerError, "Failed to update tool policy")
			}
		}

		if len(allToolNames) == 0 {
			policy, err = c.policies.GetPolicy(ctx.RequestCtx(), agentID, providerID)
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, "Failed to load tool policy")
			}
		}
	} else {
		for name, status := range req.Tools {
			policy, err = c.policies.SetToolStatus(ctx.RequestCtx(), agentID, providerID, name, status, allToolNames)
			if err != nil {
				log.Error().Err(err).Str("tool", name).Msg("Failed to update tool policy")
				return fiber.NewError(fiber.StatusInternalServerError, "Failed to update tool policy")
			}
		}
	}

	return ctx.JSON(fiber.Map{
		"mode":  policy.Mode,
		"tools": policy.SerializeTools(),
	})
}

// GetToolPolicy returns the effective policy for an agent/provider binding.
// Bindings that have never been edited come back as the wildcard default.
func (c *AgentController) GetToolPolicy(ctx fiber.Ctx) error {
	agentID := ctx.Params("agentID")
	providerID := ctx.Params("providerID")

	policy, err := c.policies.GetPolicy(ctx.RequestCtx(), agentID, providerID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load tool policy")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to load tool policy")
	}

	return ctx.JSON(fiber.Map{
		"mode":  policy.Mode,
		"tools": policy.SerializeTools(),
	})
}

// ExecuteTool runs one tool call through the full gate: policy check,
// approval interrupt when required, then the provider invocation.
func (c *AgentController) ExecuteTool(ctx fiber.Ctx) error {
	agentID := ctx.Params("agentID")
	providerID := ctx.Params("providerID")

	userID := requestUserID(ctx)
	if userID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing user identity")
	}

	var req struct {
		CallID    string         `json:"call_id"`
		ThreadID  string         `json:"thread_id"`
		ToolName  string         `json:"tool_name"`
		Arguments map[string]any `json:"arguments"`
	}

	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if req.ToolName == "" {
		return fiber.NewError(fiber.StatusBadRequest, "tool_name is required")
	}

	arguments, err := json.Marshal(req.Arguments)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid tool arguments")
	}

	callID := req.CallID
	if callID == "" {
		callID = managers.NewCallID()
	}

	call := domain.ToolCall{
		CallID:     callID,
		AgentID:    agentID,
		ThreadID:   req.ThreadID,
		UserID:     userID,
		ProviderID: providerID,
		ToolName:   req.ToolName,
		Arguments:  arguments,
	}

	result, err := c.executor.ExecuteTool(ctx.RequestCtx(), call)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrToolDisabled):
			return fiber.NewError(fiber.StatusForbidden, "Tool is disabled for this agent")
		case errors.Is(err, domain.ErrApprovalRejected):
			return fiber.NewError(fiber.StatusForbidden, "Tool call was rejected")
		case errors.Is(err, domain.ErrApprovalTimeout):
			return fiber.NewError(fiber.StatusRequestTimeout, "Tool call approval timed out")
		case errors.Is(err, domain.ErrNeedsAuthorization):
			return fiber.NewError(fiber.StatusUnauthorized, "Provider authorization required")
		case errors.Is(err, domain.ErrProviderNotFound):
			return fiber.NewError(fiber.StatusNotFound, "Provider not found")
		}

		log.Error().Err(err).Str("tool", req.ToolName).Msg("Tool execution failed")
		return fiber.NewError(fiber.StatusBadGateway, "Tool execution failed")
	}

	return ctx.JSON(fiber.Map{
		"call_id": call.CallID,
		"result":  result,
	})
}
