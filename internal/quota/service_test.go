// AngelaMos | 2026
// service_test.go

package quota

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkkgraphics/lucia-backend/internal/core"
	"github.com/arkkgraphics/lucia-backend/internal/entitlement"
	"github.com/arkkgraphics/lucia-backend/internal/profile"
)

// fakeStore serializes Mutate with a mutex the way the real repository
// serializes it with a row lock.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]*profile.Account
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: make(map[string]*profile.Account)}
}

func (f *fakeStore) GetOrCreate(
	_ context.Context,
	uid string,
) (*profile.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.accounts[uid]
	if !ok {
		a = &profile.Account{
			UID:          uid,
			Tier:         "free",
			CourtesyUsed: "false",
		}
		f.accounts[uid] = a
	}

	cp := *a
	return &cp, nil
}

func (f *fakeStore) Mutate(
	_ context.Context,
	uid string,
	fn func(*profile.Account) error,
) (*profile.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.accounts[uid]
	if !ok {
		return nil, core.ErrNotFound
	}

	cp := *a
	if err := fn(&cp); err != nil {
		return nil, err
	}
	*a = cp

	out := cp
	return &out, nil
}

func (f *fakeStore) seed(a *profile.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[a.UID] = a
}

func (f *fakeStore) get(uid string) profile.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.accounts[uid]
}

func newTestService(store *fakeStore) *Service {
	resolver := entitlement.NewResolver(entitlement.DefaultAliases())
	return NewService(store, resolver)
}

func TestCheckBootstrapsProfile(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	d, err := svc.Check(context.Background(), "u1")
	require.NoError(t, err)

	assert.True(t, d.Allowed)
	assert.False(t, d.RequiresCourtesyPrompt)
	assert.Equal(t, entitlement.TierFree, d.Tier)
	require.NotNil(t, d.Remaining)
	assert.Equal(t, 10, *d.Remaining)

	seeded := store.get("u1")
	assert.Equal(t, "free", seeded.Tier)
	assert.Equal(t, 0, seeded.ExchangesUsed)
}

func TestCommitApproachingCourtesyOffer(t *testing.T) {
	store := newFakeStore()
	store.seed(&profile.Account{
		UID:           "u1",
		Tier:          "free",
		ExchangesUsed: 9,
		CourtesyUsed:  "false",
	})
	svc := newTestService(store)

	d, err := svc.Commit(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, d.ExchangesUsed)

	// at the base limit the next send needs an explicit decision
	_, err = svc.Commit(context.Background(), "u1")
	require.ErrorIs(t, err, ErrCourtesyDecision)
	assert.Equal(t, 10, store.get("u1").ExchangesUsed)

	d, err = svc.Check(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.RequiresCourtesyPrompt)
}

func TestAcceptCourtesyCombinedTransition(t *testing.T) {
	store := newFakeStore()
	store.seed(&profile.Account{
		UID:           "u1",
		Tier:          "free",
		ExchangesUsed: 10,
		CourtesyUsed:  "false",
	})
	svc := newTestService(store)

	d, err := svc.AcceptCourtesy(context.Background(), "u1")
	require.NoError(t, err)

	after := store.get("u1")
	assert.Equal(t, 11, after.ExchangesUsed)
	assert.Equal(t, "true", after.CourtesyUsed)

	assert.True(t, d.Allowed)
	require.NotNil(t, d.Remaining)
	assert.Equal(t, 1, *d.Remaining)

	// one more send reaches the courtesy ceiling
	d, err = svc.Commit(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 12, d.ExchangesUsed)

	_, err = svc.Commit(context.Background(), "u1")
	require.ErrorIs(t, err, core.ErrQuotaExceeded)
	assert.Equal(t, 12, store.get("u1").ExchangesUsed)
}

func TestCourtesyIsOneShot(t *testing.T) {
	store := newFakeStore()
	store.seed(&profile.Account{
		UID:           "u1",
		Tier:          "free",
		ExchangesUsed: 10,
		CourtesyUsed:  "false",
	})
	svc := newTestService(store)

	_, err := svc.AcceptCourtesy(context.Background(), "u1")
	require.NoError(t, err)

	_, err = svc.AcceptCourtesy(context.Background(), "u1")
	require.ErrorIs(t, err, ErrCourtesyUnavailable)
	assert.Equal(t, 11, store.get("u1").ExchangesUsed)
}

func TestAcceptCourtesyRequiresExactOfferState(t *testing.T) {
	cases := []profile.Account{
		{UID: "u1", Tier: "free", ExchangesUsed: 9, CourtesyUsed: "false"},
		{UID: "u2", Tier: "free", ExchangesUsed: 11, CourtesyUsed: "true"},
		{UID: "u3", Tier: "basic", ExchangesUsed: 10, CourtesyUsed: "false"},
		{UID: "u4", Tier: "pro", ExchangesUsed: 10, CourtesyUsed: "false"},
	}

	for _, acct := range cases {
		store := newFakeStore()
		seeded := acct
		store.seed(&seeded)
		svc := newTestService(store)

		_, err := svc.AcceptCourtesy(context.Background(), acct.UID)
		assert.ErrorIs(t, err, ErrCourtesyUnavailable, "uid=%s", acct.UID)
		assert.Equal(
			t,
			acct.ExchangesUsed,
			store.get(acct.UID).ExchangesUsed,
			"uid=%s", acct.UID,
		)
	}
}

func TestDeclineCourtesyMutatesNothing(t *testing.T) {
	store := newFakeStore()
	store.seed(&profile.Account{
		UID:           "u1",
		Tier:          "free",
		ExchangesUsed: 10,
		CourtesyUsed:  "false",
	})
	svc := newTestService(store)

	d, err := svc.DeclineCourtesy(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.RequiresCourtesyPrompt)

	after := store.get("u1")
	assert.Equal(t, 10, after.ExchangesUsed)
	assert.Equal(t, "false", after.CourtesyUsed)

	_, err = svc.DeclineCourtesy(context.Background(), "u1")
	require.NoError(t, err)

	// declining from any other state is rejected
	_, err = svc.DeclineCourtesy(context.Background(), "other")
	assert.ErrorIs(t, err, ErrCourtesyUnavailable)
}

func TestUnlimitedNeverBlocks(t *testing.T) {
	store := newFakeStore()
	store.seed(&profile.Account{
		UID:           "u1",
		Tier:          "pro",
		ExchangesUsed: 500,
		CourtesyUsed:  "false",
	})
	svc := newTestService(store)

	d, err := svc.Commit(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.Unlimited)
	assert.Equal(t, 501, d.ExchangesUsed)
	assert.Nil(t, d.Remaining)
}

func TestPaidTierHasNoCourtesy(t *testing.T) {
	store := newFakeStore()
	store.seed(&profile.Account{
		UID:           "u1",
		Tier:          "basic",
		ExchangesUsed: 199,
		CourtesyUsed:  "false",
	})
	svc := newTestService(store)

	d, err := svc.Commit(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 200, d.ExchangesUsed)

	_, err = svc.Commit(context.Background(), "u1")
	require.ErrorIs(t, err, core.ErrQuotaExceeded)
}

func TestLegacyAliasTierCounts(t *testing.T) {
	store := newFakeStore()
	store.seed(&profile.Account{
		UID:           "u1",
		Tier:          "standard",
		ExchangesUsed: 50,
		CourtesyUsed:  "false",
	})
	svc := newTestService(store)

	d, err := svc.Check(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierBasic, d.Tier)
	require.NotNil(t, d.Remaining)
	assert.Equal(t, 150, *d.Remaining)
}

func TestConcurrentCommitsNoDoubleGrant(t *testing.T) {
	store := newFakeStore()
	store.seed(&profile.Account{
		UID:           "u1",
		Tier:          "basic",
		ExchangesUsed: 0,
		CourtesyUsed:  "false",
	})
	svc := newTestService(store)

	const attempts = 50

	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			//nolint:errcheck // every attempt fits under the allowance
			_, _ = svc.Commit(context.Background(), "u1")
		}()
	}
	wg.Wait()

	assert.Equal(t, attempts, store.get("u1").ExchangesUsed)
}

func TestTierOf(t *testing.T) {
	store := newFakeStore()
	store.seed(&profile.Account{
		UID:          "u1",
		Tier:         "enterprise",
		CourtesyUsed: "false",
	})
	svc := newTestService(store)

	assert.Equal(t, "intensive", svc.TierOf(context.Background(), "u1"))
	assert.Equal(t, "free", svc.TierOf(context.Background(), "new-user"))
}
