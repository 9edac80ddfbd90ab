package checkout

import "github.com/ariefcatur/go-agent-checkout.git/internal/transition"

type Status string

const (
	StatusCreated            Status = "created"
	StatusQuoted             Status = "quoted"
	StatusAwaitingApproval   Status = "awaiting_approval"
	StatusApproved           Status = "approved"
	StatusConfirmed          Status = "confirmed"
	StatusReapprovalRequired Status = "reapproval_required"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
	StatusExpired            Status = "expired"
)

// Transitions is the full checkout machine. awaiting_approval loops on
// itself because a fresh request-approval replaces the frozen receipt.
// confirmed, failed, cancelled and expired are terminal.
var Transitions = transition.Table[Status]{
	StatusCreated:            {StatusQuoted, StatusFailed, StatusCancelled, StatusExpired},
	StatusQuoted:             {StatusAwaitingApproval, StatusFailed, StatusCancelled, StatusExpired},
	StatusAwaitingApproval:   {StatusApproved, StatusAwaitingApproval, StatusReapprovalRequired, StatusFailed, StatusCancelled, StatusExpired},
	StatusApproved:           {StatusConfirmed, StatusReapprovalRequired, StatusFailed, StatusCancelled, StatusExpired},
	StatusReapprovalRequired: {StatusAwaitingApproval, StatusFailed, StatusCancelled, StatusExpired},
	StatusConfirmed:          {},
	StatusFailed:             {},
	StatusCancelled:          {},
	StatusExpired:            {},
}

func (s Status) Terminal() bool { return Transitions.Terminal(s) }
