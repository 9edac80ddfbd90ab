package orders

import "github.com/ariefcatur/go-agent-checkout.git/internal/transition"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Transitions: cancel hanya dari pending/confirmed (barang sudah jalan =
// tidak bisa batal), refund hanya setelah delivered.
var Transitions = transition.Table[Status]{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered},
	StatusDelivered: {StatusRefunded},
	StatusCancelled: {},
	StatusRefunded:  {},
}

// Progression dipakai simulate-advance dan forward-only webhook apply.
var Progression = []Status{StatusPending, StatusConfirmed, StatusShipped, StatusDelivered}

func (s Status) Terminal() bool { return Transitions.Terminal(s) }

// Rank: posisi di progression; -1 untuk cancelled/refunded.
func (s Status) Rank() int {
	for i, p := range Progression {
		if p == s {
			return i
		}
	}
	return -1
}
