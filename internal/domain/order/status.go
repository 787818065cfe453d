package order

import "fmt"

// Status is the canonical order state. Customer-facing and admin-facing
// surfaces use their own raw vocabularies; both collapse onto this one set at
// the boundary via ParseStatus, so the transition rules exist exactly once.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// transitions holds the forward edge of the state machine. Cancellation is
// handled separately: it is reachable from every non-terminal state.
var transitions = map[Status]Status{
	StatusPending:        StatusConfirmed,
	StatusConfirmed:      StatusPreparing,
	StatusPreparing:      StatusOutForDelivery,
	StatusOutForDelivery: StatusDelivered,
}

// statusAliases maps the raw external vocabularies onto canonical states.
var statusAliases = map[string]Status{
	"pending":          StatusPending,
	"placed":           StatusPending,
	"confirmed":        StatusConfirmed,
	"accepted":         StatusConfirmed,
	"preparing":        StatusPreparing,
	"processing":       StatusPreparing,
	"out_for_delivery": StatusOutForDelivery,
	"on_the_way":       StatusOutForDelivery,
	"shipped":          StatusOutForDelivery,
	"delivered":        StatusDelivered,
	"completed":        StatusDelivered,
	"cancelled":        StatusCancelled,
	"canceled":         StatusCancelled,
}

// ParseStatus normalizes a raw external status string to its canonical state.
func ParseStatus(raw string) (Status, error) {
	if s, ok := statusAliases[raw]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown order status %q", raw)
}

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransitionTo reports whether the state machine permits moving from s to
// target. Terminal states permit nothing; cancellation is allowed from any
// non-terminal state; everything else must follow the forward chain.
func (s Status) CanTransitionTo(target Status) bool {
	if s.IsTerminal() {
		return false
	}
	if target == StatusCancelled {
		return true
	}
	return transitions[s] == target
}
