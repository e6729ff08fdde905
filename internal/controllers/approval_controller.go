package controllers

import (
	"errors"

	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// ApprovalController is the UI surface for tool-call approvals: listing
// what is waiting on a thread and resolving individual calls.
type ApprovalController struct {
	approvals domain.ApprovalCoordinator
}

type ApprovalControllerDependencies struct {
	Approvals domain.ApprovalCoordinator
}

func NewApprovalController(deps ApprovalControllerDependencies) *ApprovalController {
	return &ApprovalController{
		approvals: deps.Approvals,
	}
}

// ListPending returns the approvals still waiting on a decision for one
// conversation thread.
func (c *ApprovalController) ListPending(ctx fiber.Ctx) error {
	threadID := ctx.Query("thread_id")
	if threadID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "thread_id is required")
	}

	pending, err := c.approvals.ListPending(ctx.RequestCtx(), threadID)
	if err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("Failed to list pending approvals")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to list pending approvals")
	}

	return ctx.JSON(fiber.Map{"approvals": pending})
}

type ResolveApprovalRequest struct {
	Approved bool `json:"approved"`
}

// Resolve approves or rejects one suspended tool call. Resolving a call
// that already reached a decision returns the original outcome unchanged.
func (c *ApprovalController) Resolve(ctx fiber.Ctx) error {
	callID := ctx.Params("callID")

	var req ResolveApprovalRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	approval, err := c.approvals.Resolve(ctx.RequestCtx(), callID, req.Approved)
	if err != nil {
		if errors.Is(err, domain.ErrApprovalNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Approval not found")
		}

		log.Error().Err(err).Str("call_id", callID).Msg("Failed to resolve approval")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to resolve approval")
	}

	return ctx.JSON(approval)
}
