// AngelaMos | 2026
// tiers.go

package entitlement

import "strings"

type Tier string

const (
	TierFree      Tier = "free"
	TierBasic     Tier = "basic"
	TierMedium    Tier = "medium"
	TierIntensive Tier = "intensive"
	TierTotal     Tier = "total"
	TierPro       Tier = "pro"
)

const (
	FreeBaseAllowance     = 10
	FreeCourtesyAllowance = 12
)

var planAllowances = map[Tier]int{
	TierBasic:     200,
	TierMedium:    400,
	TierIntensive: 2000,
	TierTotal:     6000,
}

// PlanAllowance returns the message allowance for a paid, metered tier.
func PlanAllowance(t Tier) (int, bool) {
	n, ok := planAllowances[t]
	return n, ok
}

// AliasTable maps legacy tier spellings to their canonical names. The
// table is versioned so a profile written under an older vocabulary can
// be traced back to the mapping that rewrote it.
type AliasTable struct {
	version int
	aliases map[string]Tier
}

func NewAliasTable(version int, aliases map[string]Tier) AliasTable {
	m := make(map[string]Tier, len(aliases))
	for k, v := range aliases {
		m[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return AliasTable{version: version, aliases: m}
}

func (t AliasTable) Version() int {
	return t.version
}

// Canonical normalizes a raw tier value: trim, lowercase, rewrite
// aliases. Unknown names fall through to the free tier.
func (t AliasTable) Canonical(raw string) Tier {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return TierFree
	}

	if mapped, ok := t.aliases[name]; ok {
		return mapped
	}

	switch Tier(name) {
	case TierFree, TierBasic, TierMedium, TierIntensive, TierTotal, TierPro:
		return Tier(name)
	}
	return TierFree
}

// DefaultAliases carries every legacy plan name observed in historical
// profile documents.
func DefaultAliases() AliasTable {
	return NewAliasTable(1, map[string]Tier{
		"standard":         TierBasic,
		"standard_monthly": TierBasic,
		"standard_month":   TierBasic,
		"standard_plan":    TierBasic,
		"starter":          TierBasic,
		"plus":             TierMedium,
		"professional":     TierMedium,
		"enterprise":       TierIntensive,
	})
}
