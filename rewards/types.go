/*
Package rewards provides the non-investment money flows of the ledger.

PURPOSE:
  Everything that moves money besides investments lives here:
  - Daily check-in:  a reward scaled by how many users the account referred
  - Recharge:        user deposit request, credited to recharge_wallet on approval
  - Transfer:        recharge_wallet -> balance, so deposits become spendable
  - Withdrawal:      user payout request, debited from balance on approval
  - Accounts:        registration with a referral code, payout account,
                     withdrawal password, admin overrides, stats

WALLETS:
  balance:          spendable; investments, check-ins and payouts
  recharge_wallet:  approved deposits waiting to be transferred

APPROVAL FLOW:
  pending --approve--> completed/approved (money moves)
     |
     +-----reject----> rejected (no money moves)

  Approving or rejecting a request that is no longer pending is a
  StateConflictError ("withdrawal is already approved").

EXAMPLE FLOW:
  1. User recharges 30000 (pending)
  2. Admin approves: recharge_wallet 30000, total_recharge 30000
  3. User transfers 27000: recharge_wallet 3000, balance 27000
  4. User checks in with 2 referrals: balance 27090
  5. User requests withdrawal of 20000: fee 2000, net 18000 (pending)
  6. Admin approves: balance 7090

SEE ALSO:
  - service.go: Service wiring
  - generic/mutator.go: Every wallet change goes through the Mutator
  - generic/atomic.go: Record write + wallet write as one unit
*/
package rewards

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/referral-ledger/generic"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Schedule is the check-in reward: Base + PerReferral × referral count.
type Schedule struct {
	Base        decimal.Decimal
	PerReferral decimal.Decimal
}

// DefaultSchedule pays 50 plus 20 per referral.
func DefaultSchedule() Schedule {
	return Schedule{Base: generic.NewMoney(50), PerReferral: generic.NewMoney(20)}
}

// Reward returns the check-in reward for a referral count.
func (s Schedule) Reward(referrals int) decimal.Decimal {
	return s.Base.Add(s.PerReferral.Mul(decimal.NewFromInt(int64(referrals))))
}

// Limits bounds withdrawals. Both bounds are inclusive.
type Limits struct {
	MinWithdrawal decimal.Decimal
	MaxWithdrawal decimal.Decimal
	FeePercent    decimal.Decimal
}

// DefaultLimits allows 2000 to 2000000 with a 10% fee.
func DefaultLimits() Limits {
	return Limits{
		MinWithdrawal: generic.NewMoney(2000),
		MaxWithdrawal: generic.NewMoney(2000000),
		FeePercent:    generic.NewMoney(10),
	}
}

// MaxFeePercent caps the withdrawal fee whatever FeePercent says.
const MaxFeePercent = 10

// Fee returns the fee charged on amount, at most MaxFeePercent of it. The
// user receives amount - fee; the balance is debited the full amount.
func (l Limits) Fee(amount decimal.Decimal) decimal.Decimal {
	pct := decimal.Min(l.FeePercent, decimal.NewFromInt(MaxFeePercent))
	return amount.Mul(pct).Div(decimal.NewFromInt(100))
}

// =============================================================================
// INPUTS
// =============================================================================

// PaymentMethod is a supported mobile money network.
type PaymentMethod string

const (
	MTN    PaymentMethod = "MTN"
	Airtel PaymentMethod = "Airtel"
)

func (m PaymentMethod) valid() bool { return m == MTN || m == Airtel }

type RechargeInput struct {
	Amount        decimal.Decimal
	PaymentMethod PaymentMethod // defaults to MTN
	PaidNumber    string
}

type WithdrawalInput struct {
	Amount   decimal.Decimal
	Password string
	// AccountNumber and AccountName default to the saved payout account.
	AccountNumber string
	AccountName   string
}

// PayoutAccount is where approved withdrawals are paid.
type PayoutAccount struct {
	PaymentMethod PaymentMethod
	AccountName   string
	PhoneNumber   string
	// Password is the withdrawal password, required to change an account
	// that is already set.
	Password string
}

type RegisterInput struct {
	Email        string
	FullName     string
	ReferralCode string // code of the referrer, optional
}

// AdminAction is one admin override on a user.
type AdminAction string

const (
	ActionUpdateBalance        AdminAction = "update_balance"
	ActionUpdateRechargeWallet AdminAction = "update_recharge_wallet"
	ActionSuspend              AdminAction = "suspend"
	ActionActivate             AdminAction = "activate"
	ActionMakeAdmin            AdminAction = "make_admin"
	ActionRemoveAdmin          AdminAction = "remove_admin"
)

// AdminUpdate sets a wallet to Value (update_* actions) or flips a flag.
type AdminUpdate struct {
	Action AdminAction
	Value  *decimal.Decimal
	Reason string
}

// =============================================================================
// OUTPUTS
// =============================================================================

type CheckInResult struct {
	CheckIn       generic.CheckIn
	BaseReward    decimal.Decimal
	BonusReward   decimal.Decimal
	ReferralCount int
	NewBalance    decimal.Decimal
}

// CheckInPreview is what a check-in would pay right now.
type CheckInPreview struct {
	Reward         decimal.Decimal
	ReferralCount  int
	CheckedInToday bool
	TotalCheckIns  int
	TotalEarned    decimal.Decimal
	LastCheckInAt  *time.Time
}

type TransferResult struct {
	Amount         decimal.Decimal
	Balance        decimal.Decimal
	RechargeWallet decimal.Decimal
}

// Profile is the account overview shown to its owner.
type Profile struct {
	User          generic.User
	ReferralCount int
	HasPassword   bool
}

// UserSummary is one row of the admin user list.
type UserSummary struct {
	User              generic.User
	ReferralCount     int
	TotalInvestments  decimal.Decimal
	ActiveInvestments int
	TotalWithdrawals  decimal.Decimal
}

// InvestmentSummary is one row of the admin investment list.
type InvestmentSummary struct {
	Investment generic.Investment
	UserEmail  string
	UserName   string
}

// Stats are platform-wide totals for the admin dashboard.
type Stats struct {
	TotalUsers     int
	ActiveUsers    int
	SuspendedUsers int

	TotalBalance        decimal.Decimal
	TotalRechargeWallet decimal.Decimal

	TotalInvestments  decimal.Decimal
	ActiveInvestments int

	TotalWithdrawals        decimal.Decimal
	ApprovedWithdrawals     decimal.Decimal
	PendingWithdrawals      decimal.Decimal
	PendingWithdrawalsCount int

	TotalRecharges     decimal.Decimal
	CompletedRecharges decimal.Decimal

	TotalCheckIns  decimal.Decimal
	TotalReferrals int
}
