package usecase

import "course-subscription-service/internal/domain/model"

// transitionDecision classifies one requested payment edge.
type transitionDecision int

const (
	transitionApply transitionDecision = iota
	transitionNoop
	transitionAnomaly
	transitionUnknown
)

// gatewayStatusMap translates the provider vocabulary into ledger statuses.
// Anything absent here falls into the unknown branch and is never applied.
var gatewayStatusMap = map[string]model.PaymentStatus{
	"created":    model.PaymentStatusPending,
	"processing": model.PaymentStatusProcessing,
	"hold":       model.PaymentStatusProcessing,
	"success":    model.PaymentStatusSuccess,
	"failure":    model.PaymentStatusFailed,
	"expired":    model.PaymentStatusCancelled,
	"reversed":   model.PaymentStatusRefunded,
}

// statusRank orders the open statuses so stale events cannot move a payment
// backwards.
var statusRank = map[model.PaymentStatus]int{
	model.PaymentStatusCreated:    0,
	model.PaymentStatusPending:    1,
	model.PaymentStatusProcessing: 2,
}

// resolveTransition decides what to do with an incoming provider status given
// the payment's current status. The permitted forward edges are
// created/pending/processing into a later open status or into
// success/failed/cancelled. Any edge from a terminal status to itself is an
// idempotent no-op; every other edge is an anomaly that gets logged and
// dropped rather than applied.
func resolveTransition(current model.PaymentStatus, incoming string) (model.PaymentStatus, transitionDecision) {
	target, ok := gatewayStatusMap[incoming]
	if !ok {
		return "", transitionUnknown
	}
	if target == current {
		return current, transitionNoop
	}

	if current.IsTerminal() {
		// Includes success->refunded: a provider-initiated reversal event is
		// not trusted to finalize money movement; refunds go through the
		// explicit refund flow.
		return "", transitionAnomaly
	}

	if target.IsTerminal() {
		if target == model.PaymentStatusRefunded {
			// reversed for a not-yet-successful payment makes no sense
			return "", transitionAnomaly
		}
		return target, transitionApply
	}

	// open -> open must move forward
	if statusRank[target] > statusRank[current] {
		return target, transitionApply
	}
	return "", transitionAnomaly
}
