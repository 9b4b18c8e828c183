/*
accrual.go - Investment accrual engine

PURPOSE:
  Given one investment and a reference time "now", decides how much the
  investment owes its owner and what the record should look like after
  paying it. Pure: no store access, no clock. The lifecycle controller
  (investment/controller.go) persists the result.

RULES:
  daysElapsed             = floor((now - created_at) / 24h)
  daysEarnedTotal         = min(daysElapsed, income_period)
  isCompleted             = daysElapsed >= income_period
  daysSinceLastSettlement = floor((now - updated_at) / 24h)

  Skip (no-op):
    - status is not active
    - now is before the last settlement marker
    - daysSinceLastSettlement < 1 and not completed

  Completion:
    income    = daily_payout × (income_period - days_credited)
    principal = amount
    status -> completed, updated_at -> now, days_credited -> income_period

  Ongoing:
    income = daily_payout × min(daysSinceLastSettlement, income_period - days_credited)
    updated_at -> now, days_credited += credited days

CONSERVATION:
  days_credited only grows and is capped by income_period, and completion
  pays exactly the days still owed. Summed over every non-skip settlement,
  income is daily_payout × income_period and principal is paid once.

  Because updated_at moves to "now" rather than to a whole-day boundary,
  ongoing settlements can trail the calendar by a fraction of a day. The
  completion settlement absorbs that remainder.

EXAMPLE:
  27000 × 1, 1134/day, 45 days, created T0.
  now = T0+10d    -> income 11340, days_credited 10
  now = T0+10d+5h -> no-op
  now = T0+46d    -> income 1134×35 = 39690, principal 27000, completed

SEE ALSO:
  - investment/controller.go: Create and ProcessBatch
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SETTLEMENT - Result of one engine evaluation
// =============================================================================

// Settlement is what the engine decided for one investment at one instant.
type Settlement struct {
	InvestmentID InvestmentID
	UserID       UserID

	// NoOp is true when nothing is owed yet. All other fields are zero
	// except PreviousMarker.
	NoOp bool

	Days      int             // income days credited by this settlement
	Income    decimal.Decimal // Days × daily payout
	Principal decimal.Decimal // non-zero only on completion
	Completed bool

	// PreviousMarker is the UpdatedAt the settlement was computed from. The
	// store write is conditional on it still being current.
	PreviousMarker time.Time
	SettledAt      time.Time
}

// Total is the full credit for the owner.
func (s Settlement) Total() decimal.Decimal { return s.Income.Add(s.Principal) }

// Apply returns inv as it should be stored after this settlement.
func (s Settlement) Apply(inv Investment) Investment {
	if s.NoOp {
		return inv
	}
	inv.DaysCredited += s.Days
	inv.UpdatedAt = s.SettledAt
	if s.Completed {
		inv.Status = InvestmentCompleted
	}
	return inv
}

// Progress is a read-only view of an investment at an instant.
type Progress struct {
	DaysElapsed   int
	DaysEarned    int
	DaysRemaining int
	IsCompleted   bool
	EarnedSoFar   decimal.Decimal // contractual earnings up to now
	TotalEarnings decimal.Decimal
}

// =============================================================================
// ENGINE
// =============================================================================

// AccrualEngine computes settlements. The zero value is ready to use.
type AccrualEngine struct{}

// Progress reports elapsed/earned days without deciding a settlement.
func (AccrualEngine) Progress(inv Investment, now time.Time) Progress {
	elapsed := WholeDaysBetween(inv.CreatedAt, now)
	earned := min(elapsed, inv.IncomePeriod)
	return Progress{
		DaysElapsed:   elapsed,
		DaysEarned:    earned,
		DaysRemaining: max(0, inv.IncomePeriod-elapsed),
		IsCompleted:   elapsed >= inv.IncomePeriod,
		EarnedSoFar:   inv.DailyPayout().Mul(decimal.NewFromInt(int64(earned))),
		TotalEarnings: inv.TotalIncome,
	}
}

// Settle decides what is owed for inv as of now.
func (e AccrualEngine) Settle(inv Investment, now time.Time) Settlement {
	last := inv.LastSettledAt()
	out := Settlement{
		InvestmentID:   inv.ID,
		UserID:         inv.UserID,
		PreviousMarker: last,
	}

	if inv.Status != InvestmentActive || now.Before(last) {
		out.NoOp = true
		return out
	}

	p := e.Progress(inv, now)
	owed := max(0, inv.IncomePeriod-inv.DaysCredited)
	sinceLast := WholeDaysBetween(last, now)

	if !p.IsCompleted && sinceLast < 1 {
		out.NoOp = true
		return out
	}

	out.SettledAt = now
	if p.IsCompleted {
		out.Days = owed
		out.Income = inv.DailyPayout().Mul(decimal.NewFromInt(int64(owed)))
		out.Principal = inv.Amount
		out.Completed = true
		return out
	}

	days := min(sinceLast, owed)
	out.Days = days
	out.Income = inv.DailyPayout().Mul(decimal.NewFromInt(int64(days)))
	out.Principal = decimal.Zero
	return out
}

// TotalIncome is daily_income × income_period × purchase_count.
func TotalIncome(dailyIncome decimal.Decimal, incomePeriod, purchaseCount int) decimal.Decimal {
	return dailyIncome.
		Mul(decimal.NewFromInt(int64(incomePeriod))).
		Mul(decimal.NewFromInt(int64(purchaseCount)))
}
