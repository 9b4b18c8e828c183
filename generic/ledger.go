/*
ledger.go - Journal replay and drift detection

PURPOSE:
  The journal is the audit trail behind every wallet. Wallet columns are a
  cached total; replaying a user's journal must reproduce them exactly. A
  difference ("drift") means money was created or destroyed outside the
  Mutator and is worth paging someone for.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: journal entries are never updated or deleted
  2. ONE WRITE: entries land in the same store call as the wallet change
  3. IDEMPOTENT: an idempotency key is accepted once

CORRECTIONS:
  Mistakes are fixed with an admin_adjustment entry, never by editing.

SEE ALSO:
  - mutator.go: Produces entries
  - api/handlers.go: GET /api/admin/ledger/{userID}
*/
package generic

import (
	"context"

	"github.com/shopspring/decimal"
)

// Replay sums the entries for one wallet.
func Replay(entries []LedgerEntry, wallet Wallet) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Wallet == wallet {
			total = total.Add(e.Delta)
		}
	}
	return total
}

// SumByReference sums every entry whose ReferenceID matches ref, optionally
// filtered by kind.
func SumByReference(entries []LedgerEntry, ref string, kinds ...EntryKind) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.ReferenceID != ref {
			continue
		}
		if len(kinds) > 0 && !containsKind(kinds, e.Kind) {
			continue
		}
		total = total.Add(e.Delta)
	}
	return total
}

func containsKind(kinds []EntryKind, k EntryKind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

// Reconciliation compares stored wallets with the replayed journal.
type Reconciliation struct {
	UserID           UserID
	Balance          decimal.Decimal
	ReplayedBalance  decimal.Decimal
	Recharge         decimal.Decimal
	ReplayedRecharge decimal.Decimal
	Entries          []LedgerEntry
}

// Balanced reports whether both wallets match their journal.
func (r Reconciliation) Balanced() bool {
	return r.Balance.Equal(r.ReplayedBalance) && r.Recharge.Equal(r.ReplayedRecharge)
}

// Reconcile loads a user and their journal and compares them.
func Reconcile(ctx context.Context, s Store, userID UserID) (*Reconciliation, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ListEntries(ctx, userID)
	if err != nil {
		return nil, Persist("list journal entries", err)
	}
	return &Reconciliation{
		UserID:           userID,
		Balance:          u.Balance,
		ReplayedBalance:  Replay(entries, WalletBalance),
		Recharge:         u.RechargeWallet,
		ReplayedRecharge: Replay(entries, WalletRecharge),
		Entries:          entries,
	}, nil
}
