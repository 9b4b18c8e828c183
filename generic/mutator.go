/*
mutator.go - Version-checked wallet writes

PURPOSE:
  The Mutator is the only code path that changes a user's wallets. It reads
  the user, applies signed deltas, refuses any result below zero, and writes
  through SaveUserBalances with the version it read. If another writer got
  there first the store returns ErrConcurrentModification and the Mutator
  re-reads and tries again, up to MaxRetries.

  A leg with a Target sets the wallet to that value instead of adding a
  delta. The delta is resolved against the version read in each attempt, so
  a write that lands between read and save cannot leave the wallet off
  target.

  Each non-zero leg produces one journal entry. The idempotency key of an
  entry is "<change key>:<wallet>:<kind>", so a change replayed with the same
  key is rejected by the store instead of being credited twice.

EXAMPLE:
  user, err := mutator.Apply(ctx, store, generic.Change{
      UserID:         "u-1",
      Legs:           []generic.Leg{{Wallet: generic.WalletBalance, Delta: reward, Kind: generic.EntryCheckInReward}},
      ReferenceID:    checkIn.ID,
      IdempotencyKey: "checkin:" + checkIn.ID,
  })

SEE ALSO:
  - store.go: SaveUserBalances contract
  - atomic.go: Pairing a wallet write with a secondary record
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Leg is a signed change to one wallet. When Target is set, Delta is
// ignored and the wallet is set to *Target.
type Leg struct {
	Wallet Wallet
	Delta  decimal.Decimal
	Target *decimal.Decimal
	Kind   EntryKind
}

// Change is a set of legs applied to one user in one write.
type Change struct {
	UserID UserID
	Legs   []Leg

	// TotalRechargeDelta is added to User.TotalRecharge. Never negative.
	TotalRechargeDelta decimal.Decimal

	ReferenceID    string
	IdempotencyKey string
}

// Mutator applies Changes with optimistic retries.
type Mutator struct {
	MaxRetries int
	Now        func() time.Time
	NewID      func() string
}

// NewMutator returns a Mutator with default retry budget.
func NewMutator() *Mutator {
	return &Mutator{
		MaxRetries: 5,
		Now:        time.Now,
		NewID:      func() string { return uuid.NewString() },
	}
}

// Apply reads the user, applies c and writes it back. It returns the user
// as stored after the write.
func (m *Mutator) Apply(ctx context.Context, s UserStore, c Change) (*User, error) {
	if c.TotalRechargeDelta.IsNegative() {
		return nil, Invalid("total_recharge", "cannot decrease")
	}

	attempts := m.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		u, err := s.GetUser(ctx, c.UserID)
		if err != nil {
			return nil, err
		}

		resolved := resolveTargets(*u, c)
		next, err := applyLegs(*u, resolved)
		if err != nil {
			return nil, err
		}

		entries := m.entries(resolved)
		err = s.SaveUserBalances(ctx, next, entries)
		if err == nil {
			next.Version = u.Version + 1
			return &next, nil
		}
		if !IsRetryable(err) {
			return nil, Persist("save user balances", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("apply change to user %s after %d attempts: %w: %w", c.UserID, attempts, ErrRetriesExhausted, lastErr)
}

// resolveTargets turns Target legs into deltas against u. c.Legs is not
// modified.
func resolveTargets(u User, c Change) Change {
	legs := make([]Leg, len(c.Legs))
	for i, leg := range c.Legs {
		if leg.Target != nil {
			leg.Delta = leg.Target.Sub(u.WalletAmount(leg.Wallet))
			leg.Target = nil
		}
		legs[i] = leg
	}
	c.Legs = legs
	return c
}

func applyLegs(u User, c Change) (User, error) {
	for _, leg := range c.Legs {
		switch leg.Wallet {
		case WalletBalance:
			u.Balance = u.Balance.Add(leg.Delta)
		case WalletRecharge:
			u.RechargeWallet = u.RechargeWallet.Add(leg.Delta)
		default:
			return u, Invalid("wallet", "unknown wallet %q", leg.Wallet)
		}
	}

	for _, w := range []Wallet{WalletBalance, WalletRecharge} {
		if u.WalletAmount(w).IsNegative() {
			requested := decimal.Zero
			for _, leg := range c.Legs {
				if leg.Wallet == w && leg.Delta.IsNegative() {
					requested = requested.Add(leg.Delta.Neg())
				}
			}
			return u, &InsufficientFundsError{
				UserID:    u.ID,
				Wallet:    w,
				Available: u.WalletAmount(w).Add(requested),
				Requested: requested,
			}
		}
	}

	u.TotalRecharge = u.TotalRecharge.Add(c.TotalRechargeDelta)
	return u, nil
}

func (m *Mutator) entries(c Change) []LedgerEntry {
	now := m.Now().UTC()
	var out []LedgerEntry
	for _, leg := range c.Legs {
		if leg.Delta.IsZero() {
			continue
		}
		key := ""
		if c.IdempotencyKey != "" {
			key = fmt.Sprintf("%s:%s:%s", c.IdempotencyKey, leg.Wallet, leg.Kind)
		}
		out = append(out, LedgerEntry{
			ID:             m.NewID(),
			UserID:         c.UserID,
			Wallet:         leg.Wallet,
			Delta:          leg.Delta,
			Kind:           leg.Kind,
			ReferenceID:    c.ReferenceID,
			IdempotencyKey: key,
			CreatedAt:      now,
		})
	}
	return out
}

// IsDuplicate reports whether err means the change was already applied.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey)
}
