// AngelaMos | 2026
// repository.go

package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/arkkgraphics/lucia-backend/internal/core"
)

type Repository interface {
	Get(ctx context.Context, uid string) (*Account, error)
	GetOrCreate(ctx context.Context, uid string) (*Account, error)
	Mutate(
		ctx context.Context,
		uid string,
		fn func(*Account) error,
	) (*Account, error)
	ApplyBillingEvent(ctx context.Context, ev TierEvent) (bool, error)
	SetCustomerRef(ctx context.Context, uid, ref string) error
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const accountColumns = `uid, tier, exchanges_used, courtesy_used,
	       message_allowance, stripe_customer_id, legacy_billing,
	       created_at, updated_at`

func (r *repository) Get(ctx context.Context, uid string) (*Account, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM profiles
		WHERE uid = $1`, accountColumns)

	var account Account
	err := r.db.GetContext(ctx, &account, query, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get profile: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	return &account, nil
}

// GetOrCreate bootstraps the row on first sign-in. The insert is a
// no-op when the row already exists, so concurrent first requests from
// the same account converge on one row.
func (r *repository) GetOrCreate(
	ctx context.Context,
	uid string,
) (*Account, error) {
	insert := `
		INSERT INTO profiles (uid, tier, exchanges_used, courtesy_used)
		VALUES ($1, 'free', 0, 'false')
		ON CONFLICT (uid) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, insert, uid); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}

	return r.Get(ctx, uid)
}

// Mutate is the only write path for quota fields. The row is locked
// for the duration of the transaction, fn sees the authoritative state,
// and every touched field commits in one UPDATE. fn returning an error
// aborts with no write.
func (r *repository) Mutate(
	ctx context.Context,
	uid string,
	fn func(*Account) error,
) (*Account, error) {
	var account Account

	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := fmt.Sprintf(`
			SELECT %s
			FROM profiles
			WHERE uid = $1
			FOR UPDATE`, accountColumns)

		err := tx.GetContext(ctx, &account, query, uid)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lock profile: %w", core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock profile: %w", err)
		}

		if fnErr := fn(&account); fnErr != nil {
			return fnErr
		}

		update := `
			UPDATE profiles
			SET tier = $2,
			    exchanges_used = $3,
			    courtesy_used = $4,
			    message_allowance = $5,
			    stripe_customer_id = $6,
			    updated_at = NOW()
			WHERE uid = $1
			RETURNING updated_at`

		return tx.GetContext(ctx, &account.UpdatedAt, update,
			account.UID,
			account.Tier,
			account.ExchangesUsed,
			account.CourtesyUsed,
			account.MessageAllowance,
			account.StripeCustomerID,
		)
	})
	if err != nil {
		return nil, err
	}

	return &account, nil
}

// ApplyBillingEvent records the event id and applies the tier change in
// one transaction. Returns false without mutating when the event id is
// already in the ledger, so provider redelivery is a no-op.
func (r *repository) ApplyBillingEvent(
	ctx context.Context,
	ev TierEvent,
) (bool, error) {
	applied := false

	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		ledger := `
			INSERT INTO billing_events (event_id, event_type)
			VALUES ($1, $2)
			ON CONFLICT (event_id) DO NOTHING`

		res, err := tx.ExecContext(ctx, ledger, ev.EventID, ev.EventType)
		if err != nil {
			return fmt.Errorf("record billing event: %w", err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("record billing event: %w", err)
		}
		if rows == 0 {
			return nil
		}

		var uid string
		if ev.UID != "" {
			query := `SELECT uid FROM profiles WHERE uid = $1 FOR UPDATE`
			err = tx.GetContext(ctx, &uid, query, ev.UID)
		} else {
			query := `
				SELECT uid FROM profiles
				WHERE stripe_customer_id = $1
				FOR UPDATE`
			err = tx.GetContext(ctx, &uid, query, ev.CustomerRef)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("billing event target: %w", core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("billing event target: %w", err)
		}

		update := `
			UPDATE profiles
			SET tier = $2, updated_at = NOW()
			WHERE uid = $1`
		if ev.LinkCustomer && ev.CustomerRef != "" {
			update = `
				UPDATE profiles
				SET tier = $2, stripe_customer_id = $3, updated_at = NOW()
				WHERE uid = $1`
			_, err = tx.ExecContext(ctx, update, uid, ev.Tier, ev.CustomerRef)
		} else {
			_, err = tx.ExecContext(ctx, update, uid, ev.Tier)
		}
		if err != nil {
			return fmt.Errorf("apply billing event: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

func (r *repository) SetCustomerRef(
	ctx context.Context,
	uid, ref string,
) error {
	query := `
		UPDATE profiles
		SET stripe_customer_id = $2, updated_at = NOW()
		WHERE uid = $1`

	res, err := r.db.ExecContext(ctx, query, uid, ref)
	if err != nil {
		return fmt.Errorf("set customer ref: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set customer ref: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("set customer ref: %w", core.ErrNotFound)
	}

	return nil
}
