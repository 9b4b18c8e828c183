/*
Package investment runs the lifecycle of product purchases.

PURPOSE:
  A user buys N units of a catalog product. The purchase price is debited
  from the spendable balance immediately; the investment then accrues a
  fixed daily income for a fixed number of days, after which the principal
  is returned and the investment is completed.

  The math lives in generic.AccrualEngine. This package owns everything
  around it: validating purchases against the catalog, the weekend-only
  gate, pairing each record write with its wallet write, and the batch
  that settles every active investment.

LIFECYCLE:
  Create -> active --(ProcessBatch, daily)--> active ... --> completed

PRODUCT CATEGORIES:
  Vaccine 1, Vaccine 2: available every day
  Super Weekend:        weekend-only, evaluated in the reference time zone

SEE ALSO:
  - controller.go: Create, ProcessBatch, Status
  - factory/catalog.go: JSON catalog loading
  - generic/accrual.go: Settlement rules
*/
package investment

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/referral-ledger/generic"
)

// =============================================================================
// CATALOG
// =============================================================================

// Product is one purchasable catalog entry. Amounts are per unit.
type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Price        decimal.Decimal `json:"price"`
	DailyIncome  decimal.Decimal `json:"daily_income"`
	IncomePeriod int             `json:"income_period"`
	WeekendOnly  bool            `json:"weekend_only"`
}

// TotalIncome is the income of one unit over the whole period.
func (p Product) TotalIncome() decimal.Decimal {
	return generic.TotalIncome(p.DailyIncome, p.IncomePeriod, 1)
}

// Catalog resolves product ids. Implementations must be safe for
// concurrent reads.
type Catalog interface {
	Product(id string) (Product, bool)
	Products() []Product
}

// StaticCatalog is an immutable in-memory catalog.
type StaticCatalog struct {
	byID  map[string]Product
	order []string
}

// NewStaticCatalog builds a catalog. Later duplicates replace earlier ones.
func NewStaticCatalog(products ...Product) *StaticCatalog {
	c := &StaticCatalog{byID: make(map[string]Product, len(products))}
	for _, p := range products {
		if _, seen := c.byID[p.ID]; !seen {
			c.order = append(c.order, p.ID)
		}
		c.byID[p.ID] = p
	}
	return c
}

func (c *StaticCatalog) Product(id string) (Product, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Products returns products in the order they were declared.
func (c *StaticCatalog) Products() []Product {
	out := make([]Product, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Offering is a product as shown to a user at a given moment.
type Offering struct {
	Product
	// Locked is true for weekend-only products on a weekday.
	Locked bool `json:"locked"`
}

// =============================================================================
// CREATE
// =============================================================================

// WalletType names the wallet a purchase is paid from.
type WalletType string

const (
	PayFromBalance  WalletType = "balance"
	PayFromRecharge WalletType = "recharge"
)

// CreateInput carries the purchase exactly as the client submitted it.
// Price, DailyIncome and IncomePeriod are the terms the client saw; they
// must still match the catalog.
type CreateInput struct {
	ProductID     string
	ProductName   string
	Price         decimal.Decimal
	PurchaseCount int
	DailyIncome   decimal.Decimal
	IncomePeriod  int
	WalletType    WalletType
}

// CreateResult is the stored investment and the balance after the debit.
type CreateResult struct {
	Investment generic.Investment
	NewBalance decimal.Decimal
}

// =============================================================================
// BATCH
// =============================================================================

// Failure is one investment the batch could not settle.
type Failure struct {
	InvestmentID generic.InvestmentID
	Err          error
}

// BatchResult summarizes one ProcessBatch run.
type BatchResult struct {
	Processed          int
	TotalInvestments   int
	Skipped            int
	Failed             int
	EarningsAdded      decimal.Decimal
	PrincipalsReturned decimal.Decimal
	Failures           []Failure
}

// StatusView is the read-only progress of one active investment.
type StatusView struct {
	InvestmentID  generic.InvestmentID
	UserID        generic.UserID
	ProductName   string
	DaysPassed    int
	DaysRemaining int
	IsCompleted   bool
	EarningsSoFar decimal.Decimal
	TotalEarnings decimal.Decimal
}

func sortByCreated(invs []generic.Investment) {
	sort.SliceStable(invs, func(i, j int) bool { return invs[i].CreatedAt.After(invs[j].CreatedAt) })
}
