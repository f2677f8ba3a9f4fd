// AngelaMos | 2026
// service.go

package quota

import (
	"context"
	"fmt"

	"github.com/arkkgraphics/lucia-backend/internal/entitlement"
	"github.com/arkkgraphics/lucia-backend/internal/profile"
)

// ProfileStore is the slice of the profile repository the quota counter
// needs: first-touch bootstrap and the locked read-modify-write.
type ProfileStore interface {
	GetOrCreate(ctx context.Context, uid string) (*profile.Account, error)
	Mutate(
		ctx context.Context,
		uid string,
		fn func(*profile.Account) error,
	) (*profile.Account, error)
}

// Decision is the outcome the chat-send path acts on.
type Decision struct {
	Allowed                bool
	RequiresCourtesyPrompt bool
	Unlimited              bool
	Tier                   entitlement.Tier
	ExchangesUsed          int
	Remaining              *int
}

type Service struct {
	store    ProfileStore
	resolver *entitlement.Resolver
}

func NewService(store ProfileStore, resolver *entitlement.Resolver) *Service {
	return &Service{store: store, resolver: resolver}
}

// Check reports whether a send may proceed without reserving anything.
// The answer is advisory: Commit re-reads the authoritative row under
// lock, so a stale Check can never grant an extra message.
func (s *Service) Check(ctx context.Context, uid string) (Decision, error) {
	account, err := s.store.GetOrCreate(ctx, uid)
	if err != nil {
		return Decision{}, fmt.Errorf("quota check: %w", err)
	}

	return s.decide(account), nil
}

// Commit advances the counter after the gated action succeeded. The
// transition runs inside the store's row lock against freshly-read
// state; a Blocked account aborts with no write.
func (s *Service) Commit(ctx context.Context, uid string) (Decision, error) {
	if _, err := s.store.GetOrCreate(ctx, uid); err != nil {
		return Decision{}, fmt.Errorf("quota commit: %w", err)
	}

	account, err := s.mutate(ctx, uid, EventIncrement)
	if err != nil {
		return Decision{}, err
	}

	return s.decide(account), nil
}

// AcceptCourtesy claims the one-time free-tier extension. Valid only
// from the exact offer state; the counter bump and flag flip commit as
// a single write.
func (s *Service) AcceptCourtesy(
	ctx context.Context,
	uid string,
) (Decision, error) {
	if _, err := s.store.GetOrCreate(ctx, uid); err != nil {
		return Decision{}, fmt.Errorf("accept courtesy: %w", err)
	}

	account, err := s.mutate(ctx, uid, EventAcceptCourtesy)
	if err != nil {
		return Decision{}, err
	}

	return s.decide(account), nil
}

// DeclineCourtesy is terminal for the current offer and writes nothing:
// the blocked state is derived from the counter already sitting at the
// base limit.
func (s *Service) DeclineCourtesy(
	ctx context.Context,
	uid string,
) (Decision, error) {
	account, err := s.store.GetOrCreate(ctx, uid)
	if err != nil {
		return Decision{}, fmt.Errorf("decline courtesy: %w", err)
	}

	desc := s.resolver.Resolve(account.RawProfile())
	if _, err := apply(desc, account.ExchangesUsed, EventDeclineCourtesy); err != nil {
		return Decision{}, err
	}

	d := s.decide(account)
	d.Allowed = false
	d.RequiresCourtesyPrompt = false
	return d, nil
}

// TierOf resolves the canonical tier for rate-limiting buckets. Errors
// degrade to free rather than failing the request.
func (s *Service) TierOf(ctx context.Context, uid string) string {
	account, err := s.store.GetOrCreate(ctx, uid)
	if err != nil {
		return string(entitlement.TierFree)
	}
	return string(s.resolver.ResolveTier(account.RawProfile()))
}

func (s *Service) mutate(
	ctx context.Context,
	uid string,
	ev Event,
) (*profile.Account, error) {
	return s.store.Mutate(ctx, uid, func(a *profile.Account) error {
		desc := s.resolver.Resolve(a.RawProfile())

		tr, err := apply(desc, a.ExchangesUsed, ev)
		if err != nil {
			return err
		}

		a.ExchangesUsed = tr.exchangesUsed
		if tr.claimCourtesy {
			a.CourtesyUsed = "true"
		}
		return nil
	})
}

func (s *Service) decide(a *profile.Account) Decision {
	desc := s.resolver.Resolve(a.RawProfile())
	state := classify(desc, a.ExchangesUsed)

	d := Decision{
		Tier:          s.resolver.ResolveTier(a.RawProfile()),
		ExchangesUsed: a.ExchangesUsed,
	}

	switch state {
	case StateUnlimited:
		d.Allowed = true
		d.Unlimited = true
	case StateNormal, StateCourtesyActive:
		d.Allowed = true
		remaining := desc.Ceiling() - a.ExchangesUsed
		d.Remaining = &remaining
	case StateCourtesyOffer:
		d.RequiresCourtesyPrompt = true
		remaining := 0
		d.Remaining = &remaining
	case StateBlocked:
		remaining := 0
		d.Remaining = &remaining
	}

	return d
}
