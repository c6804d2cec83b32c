package agent

import "context"

// ApprovalDecision is the user's answer to a side-effect prompt.
type ApprovalDecision int

const (
	Deny ApprovalDecision = iota
	AllowOnce
	AllowAlways
)

// ApprovalRequest describes the side-effecting tool call awaiting
// permission. Command is set for shell calls so the prompt can show what
// would run; Warning carries the validator's reason when the command
// matched a dangerous pattern.
type ApprovalRequest struct {
	Tool      string
	Arguments map[string]any
	Command   string
	Warning   string
}

// ApprovalCallback is supplied by the host UI. It may block until the
// user responds; the loop passes its cancellation context through.
type ApprovalCallback func(ctx context.Context, req ApprovalRequest) ApprovalDecision

// AutoDeny refuses every side-effecting call. Used when the config
// enables side_effecting_auto_deny and no callback is wired.
func AutoDeny(context.Context, ApprovalRequest) ApprovalDecision { return Deny }

// AutoApprove grants every call once. Suitable for scripted sessions
// that already run under audit mode.
func AutoApprove(context.Context, ApprovalRequest) ApprovalDecision { return AllowOnce }
