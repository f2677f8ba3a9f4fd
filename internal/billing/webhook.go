// AngelaMos | 2026
// webhook.go

package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/arkkgraphics/lucia-backend/internal/config"
	"github.com/arkkgraphics/lucia-backend/internal/entitlement"
	"github.com/arkkgraphics/lucia-backend/internal/profile"
)

// EventStore applies one verified billing event atomically with its
// idempotency-ledger entry.
type EventStore interface {
	ApplyBillingEvent(
		ctx context.Context,
		ev profile.TierEvent,
	) (bool, error)
}

// Processor turns verified provider events into tier mutations. Events
// arrive at least once and possibly out of order relative to the
// browser redirect; the ledger inside the store makes redelivery a
// no-op.
type Processor struct {
	cfg     config.StripeConfig
	store   EventStore
	aliases entitlement.AliasTable
}

func NewProcessor(
	cfg config.StripeConfig,
	store EventStore,
	aliases entitlement.AliasTable,
) *Processor {
	return &Processor{cfg: cfg, store: store, aliases: aliases}
}

func (p *Processor) Process(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded":
		return p.handleCheckoutCompleted(ctx, event)

	case "customer.subscription.created",
		"customer.subscription.updated":
		return p.handleSubscriptionChange(ctx, event)

	case "customer.subscription.deleted":
		return p.handleDowngrade(ctx, event, p.subscriptionCustomer)

	case "invoice.payment_succeeded":
		return p.handleInvoicePaid(ctx, event)

	case "invoice.payment_failed":
		return p.handleDowngrade(ctx, event, p.invoiceCustomer)

	default:
		slog.Info("ignoring webhook event",
			"event_id", event.ID,
			"type", event.Type,
		)
		return nil
	}
}

func (p *Processor) handleCheckoutCompleted(
	ctx context.Context,
	event *stripe.Event,
) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}

	uid := sess.ClientReferenceID
	if uid == "" {
		uid = sess.Metadata[accountUIDMetadataKey]
	}

	customerRef := ""
	if sess.Customer != nil {
		customerRef = sess.Customer.ID
	}

	tier := p.aliases.Canonical(sess.Metadata["tier"])
	if tier == entitlement.TierFree {
		slog.Warn("checkout event without a purchasable tier",
			"event_id", event.ID,
			"uid", uid,
		)
		return nil
	}

	return p.apply(ctx, profile.TierEvent{
		EventID:      event.ID,
		EventType:    string(event.Type),
		UID:          uid,
		CustomerRef:  customerRef,
		Tier:         string(tier),
		LinkCustomer: true,
	})
}

func (p *Processor) handleSubscriptionChange(
	ctx context.Context,
	event *stripe.Event,
) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	tier := p.aliases.Canonical(sub.Metadata["tier"])
	if tier == entitlement.TierFree {
		tier = p.aliases.Canonical(p.tierFromItems(&sub))
	}
	if tier == entitlement.TierFree {
		slog.Warn("subscription event with unknown plan",
			"event_id", event.ID,
			"type", event.Type,
		)
		return nil
	}

	customerRef := ""
	if sub.Customer != nil {
		customerRef = sub.Customer.ID
	}

	return p.apply(ctx, profile.TierEvent{
		EventID:     event.ID,
		EventType:   string(event.Type),
		UID:         sub.Metadata[accountUIDMetadataKey],
		CustomerRef: customerRef,
		Tier:        string(tier),
	})
}

func (p *Processor) handleInvoicePaid(
	ctx context.Context,
	event *stripe.Event,
) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}

	metadata := invoiceSubscriptionMetadata(&inv)
	tier := p.aliases.Canonical(metadata["tier"])
	if tier == entitlement.TierFree {
		// renewal invoices without our metadata carry nothing to apply
		slog.Info("invoice paid without plan metadata", "event_id", event.ID)
		return nil
	}

	customerRef := ""
	if inv.Customer != nil {
		customerRef = inv.Customer.ID
	}

	return p.apply(ctx, profile.TierEvent{
		EventID:     event.ID,
		EventType:   string(event.Type),
		UID:         metadata[accountUIDMetadataKey],
		CustomerRef: customerRef,
		Tier:        string(tier),
	})
}

// handleDowngrade reverts the account to free for terminal events:
// subscription deletion and failed invoice payment.
func (p *Processor) handleDowngrade(
	ctx context.Context,
	event *stripe.Event,
	extract func(*stripe.Event) (uid, customerRef string, err error),
) error {
	uid, customerRef, err := extract(event)
	if err != nil {
		return err
	}

	if uid == "" && customerRef == "" {
		slog.Warn("downgrade event without an account reference",
			"event_id", event.ID,
			"type", event.Type,
		)
		return nil
	}

	return p.apply(ctx, profile.TierEvent{
		EventID:     event.ID,
		EventType:   string(event.Type),
		UID:         uid,
		CustomerRef: customerRef,
		Tier:        string(entitlement.TierFree),
	})
}

func (p *Processor) subscriptionCustomer(
	event *stripe.Event,
) (string, string, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return "", "", fmt.Errorf("decode subscription: %w", err)
	}

	customerRef := ""
	if sub.Customer != nil {
		customerRef = sub.Customer.ID
	}
	return sub.Metadata[accountUIDMetadataKey], customerRef, nil
}

func (p *Processor) invoiceCustomer(
	event *stripe.Event,
) (string, string, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return "", "", fmt.Errorf("decode invoice: %w", err)
	}

	customerRef := ""
	if inv.Customer != nil {
		customerRef = inv.Customer.ID
	}
	return invoiceSubscriptionMetadata(&inv)[accountUIDMetadataKey],
		customerRef,
		nil
}

func (p *Processor) tierFromItems(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item.Price == nil {
			continue
		}
		if tier := p.cfg.TierForPrice(item.Price.ID); tier != "" {
			return tier
		}
		if item.Price.Product != nil {
			if tier := p.cfg.TierForPrice(item.Price.Product.ID); tier != "" {
				return tier
			}
		}
	}
	return ""
}

func (p *Processor) apply(ctx context.Context, ev profile.TierEvent) error {
	applied, err := p.store.ApplyBillingEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("apply %s (%s): %w", ev.EventType, ev.EventID, err)
	}

	if !applied {
		slog.Info("billing event already processed",
			"event_id", ev.EventID,
			"type", ev.EventType,
		)
		return nil
	}

	slog.Info("billing event applied",
		"event_id", ev.EventID,
		"type", ev.EventType,
		"uid", ev.UID,
		"customer", ev.CustomerRef,
		"tier", ev.Tier,
	)
	return nil
}

func invoiceSubscriptionMetadata(inv *stripe.Invoice) map[string]string {
	if inv.Parent == nil || inv.Parent.SubscriptionDetails == nil {
		return nil
	}
	return inv.Parent.SubscriptionDetails.Metadata
}
