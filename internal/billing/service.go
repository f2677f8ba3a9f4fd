// AngelaMos | 2026
// service.go

package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/product"

	"github.com/arkkgraphics/lucia-backend/internal/config"
	"github.com/arkkgraphics/lucia-backend/internal/core"
	"github.com/arkkgraphics/lucia-backend/internal/entitlement"
	"github.com/arkkgraphics/lucia-backend/internal/profile"
)

// CustomerStore persists the provider customer id against the profile
// so later checkouts and portal opens skip the provider-side search.
type CustomerStore interface {
	GetOrCreate(ctx context.Context, uid string) (*profile.Account, error)
	SetCustomerRef(ctx context.Context, uid, ref string) error
}

// accountUIDMetadataKey links provider-side customers and sessions back
// to the profile row without an email lookup.
const accountUIDMetadataKey = "account_uid"

// Service creates provider-hosted checkout and portal sessions. It
// never mutates local entitlement state: tiers change only when the
// webhook processor confirms payment. The stripe calls sit behind func
// fields so tests can stub the provider.
type Service struct {
	cfg     config.StripeConfig
	aliases entitlement.AliasTable
	store   CustomerStore

	createCheckoutSession func(
		*stripe.CheckoutSessionParams,
	) (*stripe.CheckoutSession, error)
	createPortalSession func(
		*stripe.BillingPortalSessionParams,
	) (*stripe.BillingPortalSession, error)
	searchFirstCustomer func(*stripe.CustomerSearchParams) (string, error)
	listFirstCustomer   func(*stripe.CustomerListParams) (string, error)
	createCustomer      func(*stripe.CustomerParams) (*stripe.Customer, error)
	getProduct          func(
		string,
		*stripe.ProductParams,
	) (*stripe.Product, error)
}

func searchFirstCustomer(params *stripe.CustomerSearchParams) (string, error) {
	iter := customer.Search(params)
	for iter.Next() {
		return iter.Customer().ID, nil
	}
	return "", iter.Err()
}

func listFirstCustomer(params *stripe.CustomerListParams) (string, error) {
	iter := customer.List(params)
	for iter.Next() {
		return iter.Customer().ID, nil
	}
	return "", iter.Err()
}

func NewService(
	cfg config.StripeConfig,
	aliases entitlement.AliasTable,
	store CustomerStore,
) *Service {
	stripe.Key = cfg.SecretKey

	return &Service{
		cfg:                   cfg,
		aliases:               aliases,
		store:                 store,
		createCheckoutSession: checkoutsession.New,
		createPortalSession:   portalsession.New,
		searchFirstCustomer:   searchFirstCustomer,
		listFirstCustomer:     listFirstCustomer,
		createCustomer:        customer.New,
		getProduct:            product.Get,
	}
}

type Session struct {
	URL string
	ID  string
}

// StartCheckout creates a checkout session for one unit of the tier's
// configured price. Recurring tiers check out in subscription mode; the
// top tier is a one-time payment.
func (s *Service) StartCheckout(
	ctx context.Context,
	tier, uid, email string,
) (*Session, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, core.BadRequestError(
			"missing_uid",
			"An account id is required to start checkout.",
		)
	}

	canonical := s.aliases.Canonical(tier)
	priceRef := s.cfg.PriceForTier(string(canonical))
	if priceRef == "" {
		return nil, core.BadRequestError(
			"invalid_tier",
			fmt.Sprintf("Tier %q cannot be purchased.", tier),
		)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	priceID, err := s.resolvePrice(ctx, priceRef)
	if err != nil {
		slog.Error("resolve price failed",
			"tier", canonical,
			"ref", priceRef,
			"error", err,
		)
		return nil, core.ExternalServiceError("checkout_failed")
	}

	customerID, err := s.getOrCreateCustomer(ctx, uid, email)
	if err != nil {
		slog.Error("customer resolution failed", "uid", uid, "error", err)
		return nil, core.ExternalServiceError("checkout_failed")
	}

	mode := stripe.CheckoutSessionModeSubscription
	if canonical == entitlement.TierTotal {
		mode = stripe.CheckoutSessionModePayment
	}

	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Mode:              stripe.String(string(mode)),
		Customer:          stripe.String(customerID),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		ClientReferenceID: stripe.String(uid),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		AllowPromotionCodes: stripe.Bool(true),
		Metadata: map[string]string{
			accountUIDMetadataKey: uid,
			"tier":                string(canonical),
		},
	}
	if mode == stripe.CheckoutSessionModeSubscription {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				accountUIDMetadataKey: uid,
				"tier":                string(canonical),
			},
		}
	}

	sess, err := s.createCheckoutSession(params)
	if err != nil {
		slog.Error("create checkout session failed",
			"uid", uid,
			"tier", canonical,
			"error", err,
		)
		return nil, core.ExternalServiceError("checkout_failed")
	}

	return &Session{URL: sess.URL, ID: sess.ID}, nil
}

// StartPortal opens the provider's billing portal for an existing
// customer. Accounts that never checked out have no customer to manage.
func (s *Service) StartPortal(
	ctx context.Context,
	uid, email string,
) (*Session, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, core.BadRequestError(
			"missing_uid",
			"An account id is required to open the billing portal.",
		)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	customerID, err := s.findCustomer(ctx, uid, email)
	if err != nil {
		slog.Error("customer lookup failed", "uid", uid, "error", err)
		return nil, core.ExternalServiceError("portal_failed")
	}
	if customerID == "" {
		return nil, core.NotFoundError(
			"customer_not_found",
			"No billing customer exists for this account.",
		)
	}

	sess, err := s.createPortalSession(&stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(s.cfg.PortalReturnURL),
	})
	if err != nil {
		slog.Error("create portal session failed", "uid", uid, "error", err)
		return nil, core.ExternalServiceError("portal_failed")
	}

	return &Session{URL: sess.URL, ID: sess.ID}, nil
}

// resolvePrice accepts either a price reference directly or a product
// reference whose default price is looked up.
func (s *Service) resolvePrice(
	ctx context.Context,
	ref string,
) (string, error) {
	if !strings.HasPrefix(ref, "prod_") {
		return ref, nil
	}

	params := &stripe.ProductParams{Params: stripe.Params{Context: ctx}}
	params.AddExpand("default_price")

	prod, err := s.getProduct(ref, params)
	if err != nil {
		return "", fmt.Errorf("get product %s: %w", ref, err)
	}
	if prod.DefaultPrice == nil || prod.DefaultPrice.ID == "" {
		return "", fmt.Errorf("product %s has no default price", ref)
	}

	return prod.DefaultPrice.ID, nil
}

// escapeSearchTerm neutralizes quotes so a caller-supplied value cannot
// break out of the provider search expression and match a different
// customer.
func escapeSearchTerm(term string) string {
	return strings.Map(func(r rune) rune {
		if r == '\'' || r == '"' {
			return ' '
		}
		return r
	}, term)
}

// findCustomer prefers the customer id stored on the profile, then
// searches by the account-uid metadata, then falls back to an email
// match.
func (s *Service) findCustomer(
	ctx context.Context,
	uid, email string,
) (string, error) {
	if s.store != nil {
		account, err := s.store.GetOrCreate(ctx, uid)
		if err != nil {
			slog.Warn("profile lookup failed, falling back to provider search",
				"uid", uid,
				"error", err,
			)
		} else if ref := account.CustomerRef(); ref != "" {
			return ref, nil
		}
	}

	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Context: ctx,
			Query: fmt.Sprintf(
				"metadata['%s']:'%s'",
				accountUIDMetadataKey,
				escapeSearchTerm(uid),
			),
			Limit: stripe.Int64(1),
		},
	}

	id, err := s.searchFirstCustomer(searchParams)
	if err != nil {
		return "", fmt.Errorf("search customers: %w", err)
	}
	if id != "" {
		return id, nil
	}

	if email == "" {
		return "", nil
	}

	listParams := &stripe.CustomerListParams{
		ListParams: stripe.ListParams{Context: ctx, Limit: stripe.Int64(1)},
		Email:      stripe.String(email),
	}

	id, err = s.listFirstCustomer(listParams)
	if err != nil {
		return "", fmt.Errorf("list customers: %w", err)
	}

	return id, nil
}

func (s *Service) getOrCreateCustomer(
	ctx context.Context,
	uid, email string,
) (string, error) {
	id, err := s.findCustomer(ctx, uid, email)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Metadata: map[string]string{
			accountUIDMetadataKey: uid,
		},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}

	cust, err := s.createCustomer(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}

	// Best effort: the webhook also links the customer once payment
	// completes, so a failed write here only costs a future search.
	if s.store != nil {
		if err := s.store.SetCustomerRef(ctx, uid, cust.ID); err != nil {
			slog.Warn("persist customer ref failed",
				"uid", uid,
				"customer", cust.ID,
				"error", err,
			)
		}
	}

	return cust.ID, nil
}
