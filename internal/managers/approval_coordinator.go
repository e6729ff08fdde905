package managers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/rs/zerolog/log"
)

const DefaultApprovalTimeout = 60 * time.Second

type ApprovalCoordinatorDependencies struct {
	Approvals domain.PendingApprovalRepository
	Channel   domain.CorrelationChannel

	// Timeout bounds how long a gated call stays suspended. It is a policy
	// parameter, not a structural constant.
	Timeout time.Duration
}

type approvalCoordinator struct {
	approvals domain.PendingApprovalRepository
	channel   domain.CorrelationChannel
	timeout   time.Duration
}

func NewApprovalCoordinator(deps ApprovalCoordinatorDependencies) domain.ApprovalCoordinator {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}

	return &approvalCoordinator{
		approvals: deps.Approvals,
		channel:   deps.Channel,
		timeout:   timeout,
	}
}

func (c *approvalCoordinator) RequestApproval(ctx context.Context, req domain.ApprovalRequest) (domain.Decision, error) {
	// Subscribe before touching the record so a decision arriving between
	// persistence and the wait below cannot be missed.
	messages, cancel, err := c.channel.Subscribe(ctx, req.CallID)
	if err != nil {
		return domain.Decision{}, err
	}
	defer cancel()

	existing, err := c.approvals.GetApproval(ctx, req.CallID)
	switch {
	case err == nil && existing.Terminal():
		// Replay of an already-decided call: hand back the recorded outcome.
		return decisionFrom(existing), nil

	case err == nil:
		// A previous waiter was cancelled; re-attach to the pending record.

	case errors.Is(err, domain.ErrApprovalNotFound):
		approval := domain.PendingApproval{
			CallID:      req.CallID,
			AgentID:     req.AgentID,
			ThreadID:    req.ThreadID,
			ToolName:    req.ToolName,
			Arguments:   req.Arguments,
			RequestedAt: time.Now(),
			Resolution:  domain.ApprovalPending,
		}
		if err := c.approvals.CreateApproval(ctx, approval); err != nil {
			return domain.Decision{}, err
		}

		log.Info().
			Str("call_id", req.CallID).
			Str("agent_id", req.AgentID).
			Str("tool", req.ToolName).
			Msg("Tool call suspended pending approval")

	default:
		return domain.Decision{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-messages:
		if !ok {
			return domain.Decision{}, fmt.Errorf("approval channel closed for call %s", req.CallID)
		}

		var decision domain.Decision
		if err := json.Unmarshal(msg.Payload, &decision); err != nil {
			return domain.Decision{}, fmt.Errorf("failed to unmarshal approval decision: %w", err)
		}
		return decision, nil

	case <-timer.C:
		return c.timeoutApproval(ctx, req.CallID)

	case <-ctx.Done():
		// Cancellation leaves the record pending so a different waiter (a
		// reconnecting poll, another process) can still complete it.
		return domain.Decision{}, ctx.Err()
	}
}

// timeoutApproval converts an expired wait into a terminal rejection. The
// agent loop always receives a decision; it is never left suspended.
func (c *approvalCoordinator) timeoutApproval(ctx context.Context, callID string) (domain.Decision, error) {
	resolved, won, err := c.approvals.ResolveApproval(ctx, callID, false, domain.ApprovalReasonTimeout, time.Now())
	if err != nil {
		return domain.Decision{}, err
	}

	if won {
		// Logged distinctly from human rejections for operability.
		log.Warn().
			Str("call_id", callID).
			Msg("Approval timed out, treating tool call as rejected")

		c.publishDecision(ctx, decisionFrom(resolved))
	}

	return decisionFrom(resolved), nil
}

func (c *approvalCoordinator) Resolve(ctx context.Context, callID string, approved bool) (domain.PendingApproval, error) {
	resolved, won, err := c.approvals.ResolveApproval(ctx, callID, approved, "", time.Now())
	if err != nil {
		return domain.PendingApproval{}, err
	}

	if !won {
		// Duplicate delivery (retried request, double-click): no-op that
		// reports the original resolution.
		return resolved, nil
	}

	log.Info().
		Str("call_id", callID).
		Bool("approved", approved).
		Msg("Resolved pending approval")

	c.publishDecision(ctx, decisionFrom(resolved))
	return resolved, nil
}

func (c *approvalCoordinator) ListPending(ctx context.Context, threadID string) ([]domain.PendingApproval, error) {
	return c.approvals.ListPendingByThread(ctx, threadID)
}

func (c *approvalCoordinator) publishDecision(ctx context.Context, decision domain.Decision) {
	payload, err := json.Marshal(decision)
	if err != nil {
		log.Error().Err(err).Str("call_id", decision.CallID).Msg("Failed to marshal approval decision")
		return
	}

	// Publish failures are tolerable: the decision is durable in the
	// repository and a stateless resumption path reads it from there.
	if err := c.channel.Publish(ctx, decision.CallID, payload); err != nil {
		log.Warn().Err(err).Str("call_id", decision.CallID).Msg("Failed to publish approval decision")
	}
}

func decisionFrom(approval domain.PendingApproval) domain.Decision {
	return domain.Decision{
		CallID:   approval.CallID,
		Approved: approval.Resolution == domain.ApprovalApproved,
		Reason:   approval.Reason,
	}
}
