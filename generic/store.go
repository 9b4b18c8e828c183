/*
store.go - Persistence interfaces for the ledger

PURPOSE:
  Defines the boundary between the engine and the database. Each record
  family has its own small interface; Store bundles them. Implementations
  live in generic/store (memory) and store/sqlite.

WRITE DISCIPLINE:
  - Wallets change only through SaveUserBalances, which compares the
    version the caller read, bumps it, and appends the journal entries
    for the change in the same call. No other method touches money.
  - Investments advance only through AdvanceInvestment, which compares the
    previous settlement marker (UpdatedAt). A lost race returns
    ErrConcurrentModification and nothing is written.
  - Recharge and withdrawal status moves through Transition* with the
    expected prior status. A mismatch returns a StateConflictError.
  - Check-ins are unique per (user, day) at the storage layer.

TRANSACTIONS:
  TxStore runs a function against a transactional view. Either every
  write inside the function lands or none does. Stores that cannot offer
  this still work: RunAtomic (atomic.go) falls back to compensations.

SEE ALSO:
  - atomic.go: RunAtomic / Compensator
  - mutator.go: Version-checked wallet writes with retry
  - store/sqlite/sqlite.go: Production implementation
  - generic/store/memory.go: In-memory implementation for tests
*/
package generic

import (
	"context"
	"time"
)

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// SaveUserBalances writes Balance, RechargeWallet and TotalRecharge if
	// the stored version still equals u.Version, then stores u.Version+1 and
	// appends entries. Returns ErrConcurrentModification on a version
	// mismatch and ErrDuplicateIdempotencyKey if any entry key exists.
	SaveUserBalances(ctx context.Context, u User, entries []LedgerEntry) error

	// UpdateUserProfile writes the non-nil fields of p (flags, payout
	// account, withdrawal password hash). Wallets and version are left
	// untouched.
	UpdateUserProfile(ctx context.Context, id UserID, p ProfileUpdate) error
}

// InvestmentStore persists investments.
type InvestmentStore interface {
	InsertInvestment(ctx context.Context, inv Investment) error
	DeleteInvestment(ctx context.Context, id InvestmentID) error
	GetInvestment(ctx context.Context, id InvestmentID) (*Investment, error)
	ListInvestments(ctx context.Context, filter InvestmentFilter) ([]Investment, error)

	// AdvanceInvestment writes Status, DaysCredited and UpdatedAt if the
	// stored UpdatedAt equals prevMarker.
	AdvanceInvestment(ctx context.Context, inv Investment, prevMarker time.Time) error
}

// CheckInStore persists daily check-ins.
type CheckInStore interface {
	// InsertCheckIn returns ErrAlreadyCheckedIn if (UserID, Day) exists.
	InsertCheckIn(ctx context.Context, c CheckIn) error
	DeleteCheckIn(ctx context.Context, id string) error
	// ListCheckIns returns newest first. Empty userID lists every user.
	ListCheckIns(ctx context.Context, userID UserID) ([]CheckIn, error)
}

// ReferralStore persists referral links. Append-only.
type ReferralStore interface {
	InsertReferral(ctx context.Context, r Referral) error
	CountReferrals(ctx context.Context, referrerID UserID) (int, error)
	ListReferrals(ctx context.Context) ([]Referral, error)
}

// RechargeStore persists recharge requests.
type RechargeStore interface {
	InsertRecharge(ctx context.Context, r Recharge) error
	GetRecharge(ctx context.Context, id string) (*Recharge, error)
	// ListRecharges returns newest first. Empty status lists all.
	ListRecharges(ctx context.Context, status RechargeStatus) ([]Recharge, error)
	// TransitionRecharge writes r if the stored status equals from.
	TransitionRecharge(ctx context.Context, r Recharge, from RechargeStatus) error
}

// WithdrawalStore persists withdrawal requests.
type WithdrawalStore interface {
	InsertWithdrawal(ctx context.Context, w Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (*Withdrawal, error)
	// ListWithdrawals returns newest first. Empty status lists all; empty
	// userID lists every user.
	ListWithdrawals(ctx context.Context, userID UserID, status WithdrawalStatus) ([]Withdrawal, error)
	// TransitionWithdrawal writes w if the stored status equals from.
	TransitionWithdrawal(ctx context.Context, w Withdrawal, from WithdrawalStatus) error
}

// JournalStore reads the append-only journal. Entries are only ever
// written through UserStore.SaveUserBalances.
type JournalStore interface {
	// ListEntries returns entries oldest first. Empty userID lists all.
	ListEntries(ctx context.Context, userID UserID) ([]LedgerEntry, error)
	EntryExists(ctx context.Context, idempotencyKey string) (bool, error)
}

// RunStore records settlement runs.
type RunStore interface {
	SaveSettlementRun(ctx context.Context, run SettlementRun) error
	ListSettlementRuns(ctx context.Context, limit int) ([]SettlementRun, error)
}

// Store is the full ledger store.
type Store interface {
	UserStore
	InvestmentStore
	CheckInStore
	ReferralStore
	RechargeStore
	WithdrawalStore
	JournalStore
	RunStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
