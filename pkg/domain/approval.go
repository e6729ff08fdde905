package domain

import (
	"context"
	"encoding/json"
	"time"
)

type ApprovalResolution string

const (
	ApprovalPending  ApprovalResolution = "pending"
	ApprovalApproved ApprovalResolution = "approved"
	ApprovalRejected ApprovalResolution = "rejected"
)

// ApprovalReasonTimeout marks rejections produced by the coordinator timeout
// rather than a human decision. Logged distinctly for operability.
const ApprovalReasonTimeout = "approval_timeout"

// PendingApproval is the durable record of a gated tool call waiting for a
// human decision. It transitions pending→approved or pending→rejected exactly
// once and is retained after resolution for audit and replay detection.
type PendingApproval struct {
	CallID      string             `json:"call_id" bson:"_id"`
	AgentID     string             `json:"agent_id" bson:"agent_id"`
	ThreadID    string             `json:"thread_id" bson:"thread_id"`
	ToolName    string             `json:"tool_name" bson:"tool_name"`
	Arguments   json.RawMessage    `json:"arguments" bson:"arguments"`
	RequestedAt time.Time          `json:"requested_at" bson:"requested_at"`
	Resolution  ApprovalResolution `json:"resolution" bson:"resolution"`
	Reason      string             `json:"reason,omitempty" bson:"reason,omitempty"`
	ResolvedAt  *time.Time         `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
}

func (a PendingApproval) Terminal() bool {
	return a.Resolution != ApprovalPending
}

// Decision is what the suspended caller receives when an approval resolves.
type Decision struct {
	CallID   string `json:"call_id"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

type PendingApprovalRepository interface {
	CreateApproval(ctx context.Context, approval PendingApproval) error
	GetApproval(ctx context.Context, callID string) (PendingApproval, error)

	// ResolveApproval atomically transitions a pending record to a terminal
	// resolution. The bool reports whether this call performed the
	// transition; when false the returned record carries the earlier
	// resolution, which makes Resolve idempotent under duplicate requests.
	ResolveApproval(ctx context.Context, callID string, approved bool, reason string, at time.Time) (PendingApproval, bool, error)

	ListPendingByThread(ctx context.Context, threadID string) ([]PendingApproval, error)
}

// ApprovalRequest captures the suspension point of a gated tool call: enough
// state that resumption never has to re-derive anything from the agent loop.
type ApprovalRequest struct {
	CallID    string          `json:"call_id"`
	AgentID   string          `json:"agent_id"`
	ThreadID  string          `json:"thread_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ApprovalCoordinator interface {
	// RequestApproval suspends the caller until a decision arrives or the
	// coordinator timeout elapses. It always returns a terminal Decision;
	// timeouts come back as rejections with ApprovalReasonTimeout. Context
	// cancellation leaves the record pending so another waiter can finish.
	RequestApproval(ctx context.Context, req ApprovalRequest) (Decision, error)

	// Resolve transitions the approval and wakes any suspended waiter.
	// Resolving an already-terminal approval is a no-op returning the
	// original resolution.
	Resolve(ctx context.Context, callID string, approved bool) (PendingApproval, error)

	ListPending(ctx context.Context, threadID string) ([]PendingApproval, error)
}
