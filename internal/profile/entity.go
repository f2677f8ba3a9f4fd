// AngelaMos | 2026
// entity.go

package profile

import (
	"encoding/json"
	"time"

	"github.com/arkkgraphics/lucia-backend/internal/entitlement"
)

// Account is one profile-store row per user. courtesy_used is TEXT
// because historical clients wrote the flag as a string; it must go
// through coercion, never a direct cast. legacy_billing preserves the
// billing/stripe blocks older documents carried.
type Account struct {
	UID              string    `db:"uid"`
	Tier             string    `db:"tier"`
	ExchangesUsed    int       `db:"exchanges_used"`
	CourtesyUsed     string    `db:"courtesy_used"`
	MessageAllowance *float64  `db:"message_allowance"`
	StripeCustomerID *string   `db:"stripe_customer_id"`
	LegacyBilling    []byte    `db:"legacy_billing"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (a *Account) CourtesyClaimed() bool {
	return entitlement.CoerceBool(a.CourtesyUsed)
}

func (a *Account) CustomerRef() string {
	if a.StripeCustomerID == nil {
		return ""
	}
	return *a.StripeCustomerID
}

// RawProfile builds the resolver's view of this row, surfacing the
// legacy billing/stripe blocks when present.
func (a *Account) RawProfile() entitlement.RawProfile {
	p := entitlement.RawProfile{
		Tier:          a.Tier,
		ExchangesUsed: a.ExchangesUsed,
		CourtesyUsed:  a.CourtesyUsed,
	}

	if a.MessageAllowance != nil {
		p.MessageAllowance = *a.MessageAllowance
	}

	if len(a.LegacyBilling) > 0 {
		var legacy struct {
			Billing map[string]any `json:"billing"`
			Stripe  map[string]any `json:"stripe"`
		}
		if err := json.Unmarshal(a.LegacyBilling, &legacy); err == nil {
			p.Billing = legacy.Billing
			p.Stripe = legacy.Stripe
		}
	}

	return p
}

// TierEvent is one verified billing notification reduced to the
// mutation it implies. EventID keys the idempotency ledger; UID targets
// the account directly, CustomerRef is the fallback when the event only
// carries the provider's customer id.
type TierEvent struct {
	EventID      string
	EventType    string
	UID          string
	CustomerRef  string
	Tier         string
	LinkCustomer bool
}
