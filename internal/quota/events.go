// AngelaMos | 2026
// events.go

package quota

import (
	"errors"

	"github.com/arkkgraphics/lucia-backend/internal/core"
	"github.com/arkkgraphics/lucia-backend/internal/entitlement"
)

// ErrCourtesyDecision marks a send arriving while the account sits at
// the free-tier base limit with its courtesy extension unclaimed: the
// caller must surface the opt-in prompt instead of silently allowing or
// blocking.
var ErrCourtesyDecision = errors.New("courtesy decision required")

// ErrCourtesyUnavailable rejects a courtesy accept/decline from any
// state other than the offer itself, so a stale client cannot claim the
// extension twice.
var ErrCourtesyUnavailable = errors.New("courtesy offer not available")

type Event int

const (
	EventIncrement Event = iota
	EventAcceptCourtesy
	EventDeclineCourtesy
)

type State int

const (
	StateUnlimited State = iota
	StateNormal
	StateCourtesyOffer
	StateCourtesyActive
	StateBlocked
)

// classify derives the lifecycle state from the resolved descriptor and
// the current counter. Only the free tier carries a courtesy allowance,
// so the offer and active states are unreachable for paid plans.
func classify(d entitlement.Descriptor, used int) State {
	if d.Unlimited {
		return StateUnlimited
	}

	base := 0
	if d.BaseAllowance != nil {
		base = *d.BaseAllowance
	}

	if d.CourtesyAllowance != nil {
		switch {
		case !d.CourtesyUsed && used == base:
			return StateCourtesyOffer
		case d.CourtesyUsed && used < *d.CourtesyAllowance:
			return StateCourtesyActive
		}
	}

	if used < d.Ceiling() {
		return StateNormal
	}
	return StateBlocked
}

type transition struct {
	exchangesUsed int
	claimCourtesy bool
}

// apply is the single transition function for the quota state machine.
// Every mutation of (exchanges_used, courtesy_used) flows through here,
// inside the store's row lock, so the exhaustiveness of the machine
// lives in one place.
func apply(
	d entitlement.Descriptor,
	used int,
	ev Event,
) (transition, error) {
	state := classify(d, used)

	switch ev {
	case EventIncrement:
		switch state {
		case StateUnlimited, StateNormal, StateCourtesyActive:
			return transition{exchangesUsed: used + 1}, nil
		case StateCourtesyOffer:
			return transition{exchangesUsed: used}, ErrCourtesyDecision
		case StateBlocked:
			return transition{exchangesUsed: used}, core.ErrQuotaExceeded
		}

	case EventAcceptCourtesy:
		if state != StateCourtesyOffer {
			return transition{exchangesUsed: used}, ErrCourtesyUnavailable
		}
		// counter bump and flag flip commit as one write
		return transition{
			exchangesUsed: used + 1,
			claimCourtesy: true,
		}, nil

	case EventDeclineCourtesy:
		if state != StateCourtesyOffer {
			return transition{exchangesUsed: used}, ErrCourtesyUnavailable
		}
		return transition{exchangesUsed: used}, nil
	}

	return transition{exchangesUsed: used}, core.ErrInvalidInput
}
