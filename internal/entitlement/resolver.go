// AngelaMos | 2026
// resolver.go

package entitlement

// RawProfile is a profile document exactly as the store hands it over:
// field types are whatever the writing client used at the time, and the
// tier may live top-level or inside a legacy billing/stripe block.
type RawProfile struct {
	Tier             any
	ExchangesUsed    any
	CourtesyUsed     any
	MessageAllowance any
	Billing          map[string]any
	Stripe           map[string]any
}

// Descriptor is the canonical entitlement derived from a RawProfile.
// Unlimited implies every allowance field is nil; metered profiles
// always carry BaseAllowance.
type Descriptor struct {
	Unlimited         bool
	BaseAllowance     *int
	CourtesyAllowance *int
	CourtesyUsed      bool
	MessageAllowance  *int
}

// Ceiling is the hard send limit for a metered descriptor: the courtesy
// allowance once courtesy has been claimed, the base allowance
// otherwise.
func (d Descriptor) Ceiling() int {
	if d.Unlimited {
		return 0
	}
	if d.CourtesyAllowance != nil && d.CourtesyUsed {
		return *d.CourtesyAllowance
	}
	if d.BaseAllowance != nil {
		return *d.BaseAllowance
	}
	return 0
}

type Resolver struct {
	aliases AliasTable
}

func NewResolver(aliases AliasTable) *Resolver {
	return &Resolver{aliases: aliases}
}

func (r *Resolver) Aliases() AliasTable {
	return r.aliases
}

// Resolve derives the canonical quota descriptor for a profile. Pure
// and total: any input, however malformed, yields a usable descriptor.
func (r *Resolver) Resolve(p RawProfile) Descriptor {
	tier := r.ResolveTier(p)
	courtesyUsed := CoerceBool(p.CourtesyUsed)

	if override, ok := allowanceOverride(p); ok {
		base := override
		return Descriptor{
			BaseAllowance:    &base,
			CourtesyUsed:     courtesyUsed,
			MessageAllowance: &override,
		}
	}

	if allowance, ok := PlanAllowance(tier); ok {
		base := allowance
		return Descriptor{
			BaseAllowance:    &base,
			CourtesyUsed:     courtesyUsed,
			MessageAllowance: &base,
		}
	}

	if tier == TierPro {
		return Descriptor{Unlimited: true}
	}

	base := FreeBaseAllowance
	courtesy := FreeCourtesyAllowance
	return Descriptor{
		BaseAllowance:     &base,
		CourtesyAllowance: &courtesy,
		CourtesyUsed:      courtesyUsed,
	}
}

// ResolveTier picks the effective tier from the candidate fields legacy
// clients have written to, preferring the first non-free hit.
func (r *Resolver) ResolveTier(p RawProfile) Tier {
	candidates := []any{
		mapValue(p.Billing, "planTier"),
		mapValue(p.Billing, "tier"),
		mapValue(p.Stripe, "planTier"),
		mapValue(p.Stripe, "tier"),
		p.Tier,
	}

	for _, candidate := range candidates {
		raw, ok := candidate.(string)
		if !ok || raw == "" {
			continue
		}
		if tier := r.aliases.Canonical(raw); tier != TierFree {
			return tier
		}
	}
	return TierFree
}

func allowanceOverride(p RawProfile) (int, bool) {
	candidates := []any{
		p.MessageAllowance,
		mapValue(p.Billing, "messageAllowance"),
		mapValue(p.Stripe, "messageAllowance"),
	}

	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}
		n, ok := CoerceNumber(candidate)
		if !ok || n < 0 {
			continue
		}
		return int(n), true
	}
	return 0, false
}

func mapValue(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}
