package order

import (
	"fmt"

	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
)

// transitions holds, per kind, the set of legal target statuses for each
// current status. A status absent from its kind's map is terminal.
//
// All three kinds share the pending -> payment_confirmed prefix and the
// cancel / refund side branches; the middle of the path is kind-specific.
var transitions = map[Kind]map[Status][]Status{
	KindPhysical: {
		StatusPending:          {StatusPaymentConfirmed, StatusCancelled},
		StatusPaymentConfirmed: {StatusPreparing, StatusCancelled},
		StatusPreparing:        {StatusReadyToShip, StatusCancelled},
		StatusReadyToShip:      {StatusShipped, StatusCancelled},
		StatusShipped:          {StatusOutForDelivery, StatusCancelled},
		StatusOutForDelivery:   {StatusDelivered, StatusCancelled},
		StatusDelivered:        {StatusRefundRequested},
		StatusRefundRequested:  {StatusRefunded, StatusPartiallyRefunded},
	},
	KindDigital: {
		StatusPending:          {StatusPaymentConfirmed, StatusCancelled},
		StatusPaymentConfirmed: {StatusAccessGranted, StatusCancelled},
		StatusAccessGranted:    {StatusDownloaded, StatusCancelled},
		StatusDownloaded:       {StatusRefundRequested},
		StatusRefundRequested:  {StatusRefunded, StatusPartiallyRefunded},
	},
	KindService: {
		StatusPending:          {StatusPaymentConfirmed, StatusCancelled},
		StatusPaymentConfirmed: {StatusBookingConfirmed, StatusCancelled},
		StatusBookingConfirmed: {StatusReminderSent, StatusNoShow, StatusCancelled},
		StatusReminderSent:     {StatusInProgress, StatusCancelled},
		StatusInProgress:       {StatusCompleted, StatusCancelled},
		StatusCompleted:        {StatusRefundRequested},
		StatusRefundRequested:  {StatusRefunded, StatusPartiallyRefunded},
	},
}

// CanTransition reports whether a line item of the given kind may move from
// one status to another. Unknown kinds or statuses are never legal.
func CanTransition(kind Kind, from, to Status) bool {
	table, ok := transitions[kind]
	if !ok {
		return false
	}
	for _, allowed := range table[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition mutates the line item's status after verifying the edge is legal
// for its kind. Callers needing "cancel from anywhere" request the cancelled
// target explicitly and it is verified like any other edge.
func (li *LineItem) Transition(to Status) error {
	if !CanTransition(li.Kind, li.Status, to) {
		return domainErrors.NewDomainError(
			"illegal_transition",
			fmt.Sprintf("%s line item cannot transition from %s to %s", li.Kind, li.Status, to),
			domainErrors.ErrIllegalTransition,
		)
	}
	li.Status = to
	return nil
}

// FirstPostPaymentStatus is the first status past payment_confirmed on the
// kind's happy path. The payment orchestrator captures the order's payment
// when the first line item of any kind crosses into this status.
func FirstPostPaymentStatus(kind Kind) Status {
	switch kind {
	case KindPhysical:
		return StatusPreparing
	case KindDigital:
		return StatusAccessGranted
	case KindService:
		return StatusBookingConfirmed
	}
	return ""
}

// SuccessTerminalStatus is the kind's terminal success state.
func SuccessTerminalStatus(kind Kind) Status {
	switch kind {
	case KindPhysical:
		return StatusDelivered
	case KindDigital:
		return StatusDownloaded
	case KindService:
		return StatusCompleted
	}
	return ""
}

// IsTerminal reports whether the status has no outgoing edges for the kind.
func IsTerminal(kind Kind, s Status) bool {
	table, ok := transitions[kind]
	if !ok {
		return true
	}
	return len(table[s]) == 0
}

// ValidStatus reports whether s is a legal status value for the kind, i.e. it
// appears in the kind's transition table as a source or a target.
func ValidStatus(kind Kind, s Status) bool {
	table, ok := transitions[kind]
	if !ok {
		return false
	}
	if _, ok := table[s]; ok {
		return true
	}
	for _, targets := range table {
		for _, t := range targets {
			if t == s {
				return true
			}
		}
	}
	return false
}
