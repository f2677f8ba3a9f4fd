// AngelaMos | 2026
// resolver_test.go

package entitlement

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalTierAliases(t *testing.T) {
	table := DefaultAliases()

	cases := map[string]Tier{
		"free":             TierFree,
		"basic":            TierBasic,
		"standard":         TierBasic,
		"Standard_Monthly": TierBasic,
		"standard_month":   TierBasic,
		"standard_plan":    TierBasic,
		"starter":          TierBasic,
		"plus":             TierMedium,
		"professional":     TierMedium,
		"enterprise":       TierIntensive,
		"  PRO  ":          TierPro,
		"total":            TierTotal,
		"":                 TierFree,
		"nonsense":         TierFree,
	}

	for raw, want := range cases {
		assert.Equal(t, want, table.Canonical(raw), "raw=%q", raw)
	}
}

func TestResolveLegacyAliasMatchesCanonical(t *testing.T) {
	r := NewResolver(DefaultAliases())

	legacy := r.Resolve(RawProfile{Tier: "standard"})
	canonical := r.Resolve(RawProfile{Tier: "basic"})

	assert.Equal(t, canonical, legacy)
	require.NotNil(t, legacy.BaseAllowance)
	assert.Equal(t, 200, *legacy.BaseAllowance)
	assert.Nil(t, legacy.CourtesyAllowance)
}

func TestResolveTierCandidateOrder(t *testing.T) {
	r := NewResolver(DefaultAliases())

	tier := r.ResolveTier(RawProfile{
		Tier:    "free",
		Billing: map[string]any{"planTier": "plus"},
		Stripe:  map[string]any{"tier": "enterprise"},
	})
	assert.Equal(t, TierMedium, tier)

	// free candidates are skipped in favor of a later paid one
	tier = r.ResolveTier(RawProfile{
		Tier:    "intensive",
		Billing: map[string]any{"planTier": "free"},
	})
	assert.Equal(t, TierIntensive, tier)

	tier = r.ResolveTier(RawProfile{
		Billing: map[string]any{"planTier": 42},
	})
	assert.Equal(t, TierFree, tier)
}

func TestResolveFreeDefaults(t *testing.T) {
	r := NewResolver(DefaultAliases())

	d := r.Resolve(RawProfile{Tier: "free"})
	assert.False(t, d.Unlimited)
	require.NotNil(t, d.BaseAllowance)
	assert.Equal(t, 10, *d.BaseAllowance)
	require.NotNil(t, d.CourtesyAllowance)
	assert.Equal(t, 12, *d.CourtesyAllowance)
	assert.False(t, d.CourtesyUsed)
	assert.Equal(t, 10, d.Ceiling())

	d = r.Resolve(RawProfile{Tier: "free", CourtesyUsed: "true"})
	assert.True(t, d.CourtesyUsed)
	assert.Equal(t, 12, d.Ceiling())
}

func TestResolveUnlimited(t *testing.T) {
	r := NewResolver(DefaultAliases())

	d := r.Resolve(RawProfile{Tier: "pro"})
	assert.True(t, d.Unlimited)
	assert.Nil(t, d.BaseAllowance)
	assert.Nil(t, d.CourtesyAllowance)
	assert.Nil(t, d.MessageAllowance)
}

func TestResolvePaidAllowances(t *testing.T) {
	r := NewResolver(DefaultAliases())

	cases := map[string]int{
		"basic":     200,
		"medium":    400,
		"intensive": 2000,
		"total":     6000,
	}

	for tier, want := range cases {
		d := r.Resolve(RawProfile{Tier: tier})
		require.NotNil(t, d.BaseAllowance, "tier=%s", tier)
		assert.Equal(t, want, *d.BaseAllowance, "tier=%s", tier)
		require.NotNil(t, d.MessageAllowance, "tier=%s", tier)
		assert.Equal(t, want, *d.MessageAllowance, "tier=%s", tier)
		assert.Nil(t, d.CourtesyAllowance, "tier=%s", tier)
		assert.Equal(t, want, d.Ceiling(), "tier=%s", tier)
	}
}

func TestResolveOverridePrecedence(t *testing.T) {
	r := NewResolver(DefaultAliases())

	for _, tier := range []string{"free", "basic", "pro", "nonsense"} {
		d := r.Resolve(RawProfile{Tier: tier, MessageAllowance: 7})
		require.NotNil(t, d.MessageAllowance, "tier=%s", tier)
		assert.Equal(t, 7, *d.MessageAllowance, "tier=%s", tier)
		require.NotNil(t, d.BaseAllowance, "tier=%s", tier)
		assert.Equal(t, 7, *d.BaseAllowance, "tier=%s", tier)
		assert.False(t, d.Unlimited, "tier=%s", tier)
	}

	// negative and non-numeric overrides fall back to the plan allowance
	d := r.Resolve(RawProfile{Tier: "basic", MessageAllowance: -1})
	require.NotNil(t, d.BaseAllowance)
	assert.Equal(t, 200, *d.BaseAllowance)
	d = r.Resolve(RawProfile{Tier: "basic", MessageAllowance: "lots"})
	require.NotNil(t, d.BaseAllowance)
	assert.Equal(t, 200, *d.BaseAllowance)

	// legacy block override still wins
	d = r.Resolve(RawProfile{
		Tier:    "free",
		Billing: map[string]any{"messageAllowance": float64(25)},
	})
	require.NotNil(t, d.MessageAllowance)
	assert.Equal(t, 25, *d.MessageAllowance)
}

func TestCoerceBool(t *testing.T) {
	assert.True(t, CoerceBool(true))
	assert.False(t, CoerceBool(false))
	assert.True(t, CoerceBool("true"))
	assert.True(t, CoerceBool("TRUE"))
	assert.True(t, CoerceBool(" True "))
	assert.False(t, CoerceBool("false"))
	assert.False(t, CoerceBool("1"))
	assert.False(t, CoerceBool("yes"))
	assert.False(t, CoerceBool(""))
	assert.False(t, CoerceBool(nil))
	assert.True(t, CoerceBool(1))
	assert.False(t, CoerceBool(0))
	assert.False(t, CoerceBool(float64(0)))
	assert.True(t, CoerceBool(map[string]any{}))
}

func TestCoerceNumber(t *testing.T) {
	n, ok := CoerceNumber(float64(12.5))
	require.True(t, ok)
	assert.Equal(t, 12.5, n)

	n, ok = CoerceNumber(int64(3))
	require.True(t, ok)
	assert.Equal(t, 3.0, n)

	n, ok = CoerceNumber(json.Number("200"))
	require.True(t, ok)
	assert.Equal(t, 200.0, n)

	n, ok = CoerceNumber(" 42 ")
	require.True(t, ok)
	assert.Equal(t, 42.0, n)

	_, ok = CoerceNumber("forty")
	assert.False(t, ok)
	_, ok = CoerceNumber(nil)
	assert.False(t, ok)
	_, ok = CoerceNumber(true)
	assert.False(t, ok)
}
