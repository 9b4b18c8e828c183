/*
Package generic provides the core ledger engine.

PURPOSE:
  This package contains the records, invariants and algorithms shared by
  every money-moving operation: the accrual engine that settles investments,
  the balance mutator that writes user wallets, and the store interfaces
  both of them run against. Domain packages (investment, rewards) build
  their workflows on top of it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amounts (no floating point anywhere near a balance)
  - User: the two wallets (balance, recharge_wallet) plus a version token
  - Investment: a time-boxed product purchase that accrues daily income
  - CheckIn, Recharge, Withdrawal, Referral: secondary records
  - LedgerEntry: append-only journal line written with every wallet change

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for every amount
  2. Type Safety: UserID / InvestmentID are distinct types
  3. Auditability: every wallet change has a journal entry and a reference
  4. Optimistic concurrency: User.Version guards every wallet write

SEE ALSO:
  - accrual.go: Settlement math for one investment
  - mutator.go: The only code path that writes wallets
  - store.go: Persistence interfaces
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// NewMoney returns a whole-unit amount.
func NewMoney(units int64) decimal.Decimal { return decimal.NewFromInt(units) }

// Zero is the zero amount.
var Zero = decimal.Zero

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type InvestmentID string

// =============================================================================
// USER
// =============================================================================

// User holds both wallets of an account.
//
// Balance is spendable (investments, withdrawals). RechargeWallet holds
// approved deposits and must be transferred into Balance before use.
// TotalRecharge only ever grows.
type User struct {
	ID           UserID
	Email        string
	FullName     string
	ReferralCode string
	ReferredBy   UserID

	Balance        decimal.Decimal
	RechargeWallet decimal.Decimal
	TotalRecharge  decimal.Decimal

	IsAdmin  bool
	IsActive bool

	WithdrawalPasswordHash string
	PaymentMethod          string
	AccountName            string
	AccountPhoneNumber     string

	// Version is bumped on every wallet write. Writers pass the version they
	// read; the store rejects the write if it moved.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProfileUpdate names the non-money fields to overwrite on a user. Nil
// fields keep their stored value, so two writers touching different fields
// never undo each other.
type ProfileUpdate struct {
	FullName               *string
	IsAdmin                *bool
	IsActive               *bool
	WithdrawalPasswordHash *string
	PaymentMethod          *string
	AccountName            *string
	AccountPhoneNumber     *string
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// WalletAmount returns the current amount held in the given wallet.
func (u User) WalletAmount(w Wallet) decimal.Decimal {
	if w == WalletRecharge {
		return u.RechargeWallet
	}
	return u.Balance
}

// =============================================================================
// INVESTMENT
// =============================================================================

type InvestmentStatus string

const (
	InvestmentActive    InvestmentStatus = "active"
	InvestmentCompleted InvestmentStatus = "completed"
)

// Investment is a purchase of PurchaseCount units of a catalog product.
// Product fields are a snapshot taken at purchase time.
type Investment struct {
	ID            InvestmentID
	UserID        UserID
	ProductID     string
	ProductName   string
	Category      string
	Amount        decimal.Decimal // price × purchase_count, debited at creation
	PurchaseCount int
	DailyIncome   decimal.Decimal // per unit
	IncomePeriod  int             // days
	TotalIncome   decimal.Decimal // daily_income × income_period × purchase_count
	Status        InvestmentStatus

	// DaysCredited counts income days already paid out. It never exceeds
	// IncomePeriod.
	DaysCredited int

	CreatedAt time.Time
	// UpdatedAt is the last settlement marker. Equal to CreatedAt until the
	// first settlement.
	UpdatedAt time.Time
}

// DailyPayout is the income credited per elapsed day for the whole purchase.
func (inv Investment) DailyPayout() decimal.Decimal {
	return inv.DailyIncome.Mul(decimal.NewFromInt(int64(inv.PurchaseCount)))
}

// LastSettledAt returns UpdatedAt, falling back to CreatedAt.
func (inv Investment) LastSettledAt() time.Time {
	if inv.UpdatedAt.IsZero() {
		return inv.CreatedAt
	}
	return inv.UpdatedAt
}

// InvestmentFilter narrows ListInvestments. Zero values match everything.
type InvestmentFilter struct {
	UserID UserID
	Status InvestmentStatus
}

// =============================================================================
// SECONDARY RECORDS
// =============================================================================

// CheckIn is immutable once written. Day is the calendar day in the
// reference zone (YYYY-MM-DD); (UserID, Day) is unique.
type CheckIn struct {
	ID        string
	UserID    UserID
	Amount    decimal.Decimal
	Day       string
	CreatedAt time.Time
}

type RechargeStatus string

const (
	RechargePending   RechargeStatus = "pending"
	RechargeCompleted RechargeStatus = "completed"
	RechargeRejected  RechargeStatus = "rejected"
)

type Recharge struct {
	ID             string
	UserID         UserID
	Amount         decimal.Decimal
	PaymentMethod  string
	PaidNumber     string
	Status         RechargeStatus
	ApprovedBy     UserID
	RejectedReason string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// Withdrawal is created pending; balance is only debited on approval.
type Withdrawal struct {
	ID             string
	UserID         UserID
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	NetAmount      decimal.Decimal
	AccountNumber  string
	AccountName    string
	Status         WithdrawalStatus
	ApprovedBy     UserID
	RejectedReason string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Referral struct {
	ID         string
	ReferrerID UserID
	ReferredID UserID
	CreatedAt  time.Time
}

// =============================================================================
// JOURNAL
// =============================================================================

type Wallet string

const (
	WalletBalance  Wallet = "balance"
	WalletRecharge Wallet = "recharge_wallet"
)

type EntryKind string

const (
	EntryInvestmentDebit EntryKind = "investment_debit"
	EntryAccrualIncome   EntryKind = "accrual_income"
	EntryPrincipalReturn EntryKind = "principal_return"
	EntryCheckInReward   EntryKind = "checkin_reward"
	EntryRechargeCredit  EntryKind = "recharge_credit"
	EntryWithdrawalDebit EntryKind = "withdrawal_debit"
	EntryTransferOut     EntryKind = "wallet_transfer_out"
	EntryTransferIn      EntryKind = "wallet_transfer_in"
	EntryAdminAdjustment EntryKind = "admin_adjustment"
)

// LedgerEntry is one line of the append-only journal. Entries are written in
// the same store call as the wallet change they describe.
type LedgerEntry struct {
	ID             string
	UserID         UserID
	Wallet         Wallet
	Delta          decimal.Decimal
	Kind           EntryKind
	ReferenceID    string
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// SETTLEMENT RUNS
// =============================================================================

type RunTrigger string

const (
	TriggerSchedule RunTrigger = "schedule"
	TriggerManual   RunTrigger = "manual"
)

// SettlementRun records one ProcessBatch invocation.
type SettlementRun struct {
	ID                 string
	Trigger            RunTrigger
	Status             string // running, completed, failed
	Processed          int
	TotalInvestments   int
	EarningsAdded      decimal.Decimal
	PrincipalsReturned decimal.Decimal
	Failures           int
	Error              string
	StartedAt          time.Time
	CompletedAt        *time.Time
}
