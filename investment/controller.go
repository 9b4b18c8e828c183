package investment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/referral-ledger/generic"
)

// Controller creates and settles investments.
type Controller struct {
	Store    generic.Store
	Catalog  Catalog
	Calendar generic.Calendar
	Engine   generic.AccrualEngine
	Mutator  *generic.Mutator
	Log      *zap.Logger

	Now   func() time.Time
	NewID func() string
}

// NewController wires a Controller with default clock and ids.
func NewController(s generic.Store, catalog Catalog, cal generic.Calendar, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		Store:    s,
		Catalog:  catalog,
		Calendar: cal,
		Mutator:  generic.NewMutator(),
		Log:      log.Named("investment"),
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// =============================================================================
// CREATE
// =============================================================================

// Create validates a purchase, stores the investment and debits the balance
// as one unit. If the debit fails the investment does not survive.
func (c *Controller) Create(ctx context.Context, userID generic.UserID, in CreateInput) (*CreateResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	product, ok := c.Catalog.Product(in.ProductID)
	if !ok {
		return nil, generic.NotFound("product", in.ProductID)
	}
	if !product.Price.Equal(in.Price) ||
		!product.DailyIncome.Equal(in.DailyIncome) ||
		product.IncomePeriod != in.IncomePeriod {
		return nil, generic.Invalid("product", "product terms changed, reload and try again")
	}

	now := c.Now().UTC()
	if product.WeekendOnly && !c.Calendar.IsWeekend(now) {
		return nil, generic.ErrWeekendRestricted
	}

	switch in.WalletType {
	case PayFromBalance:
	case PayFromRecharge:
		return nil, generic.ErrWrongWallet
	default:
		return nil, generic.Invalid("wallet_type", "must be %q", PayFromBalance)
	}

	user, err := c.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("account suspended: %w", generic.ErrForbidden)
	}

	count := decimal.NewFromInt(int64(in.PurchaseCount))
	total := product.Price.Mul(count)
	if user.Balance.LessThan(total) {
		return nil, &generic.InsufficientFundsError{
			UserID:    userID,
			Wallet:    generic.WalletBalance,
			Available: user.Balance,
			Requested: total,
		}
	}

	inv := generic.Investment{
		ID:            generic.InvestmentID(c.NewID()),
		UserID:        userID,
		ProductID:     product.ID,
		ProductName:   product.Name,
		Category:      product.Category,
		Amount:        total,
		PurchaseCount: in.PurchaseCount,
		DailyIncome:   product.DailyIncome,
		IncomePeriod:  product.IncomePeriod,
		TotalIncome:   generic.TotalIncome(product.DailyIncome, product.IncomePeriod, in.PurchaseCount),
		Status:        generic.InvestmentActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var after *generic.User
	err = generic.RunAtomic(ctx, c.Store, func(s generic.Store, comp *generic.Compensator) error {
		if err := s.InsertInvestment(ctx, inv); err != nil {
			return generic.Persist("insert investment", err)
		}
		comp.OnFailure(func(ctx context.Context) error {
			return s.DeleteInvestment(ctx, inv.ID)
		})

		u, err := c.Mutator.Apply(ctx, s, generic.Change{
			UserID: userID,
			Legs: []generic.Leg{
				{Wallet: generic.WalletBalance, Delta: total.Neg(), Kind: generic.EntryInvestmentDebit},
			},
			ReferenceID:    string(inv.ID),
			IdempotencyKey: "invest:" + string(inv.ID),
		})
		if err != nil {
			return err
		}
		after = u
		return nil
	})
	if err != nil {
		c.Log.Warn("investment create failed",
			zap.String("user_id", string(userID)),
			zap.String("product_id", product.ID),
			zap.Error(err))
		return nil, err
	}

	c.Log.Info("investment created",
		zap.String("investment_id", string(inv.ID)),
		zap.String("user_id", string(userID)),
		zap.String("product_id", product.ID),
		zap.Int("purchase_count", in.PurchaseCount),
		zap.String("amount", total.String()))

	return &CreateResult{Investment: inv, NewBalance: after.Balance}, nil
}

func validateInput(in CreateInput) error {
	if in.ProductID == "" {
		return generic.Invalid("product_id", "required")
	}
	if in.PurchaseCount < 1 {
		return generic.Invalid("purchase_count", "must be at least 1")
	}
	if !in.Price.IsPositive() {
		return generic.Invalid("price", "must be positive")
	}
	if !in.DailyIncome.IsPositive() {
		return generic.Invalid("daily_income", "must be positive")
	}
	if in.IncomePeriod < 1 {
		return generic.Invalid("income_period", "must be at least 1 day")
	}
	return nil
}

// Offerings lists the catalog with the weekend lock evaluated at now.
func (c *Controller) Offerings(now time.Time) []Offering {
	weekend := c.Calendar.IsWeekend(now)
	products := c.Catalog.Products()
	out := make([]Offering, 0, len(products))
	for _, p := range products {
		out = append(out, Offering{Product: p, Locked: p.WeekendOnly && !weekend})
	}
	return out
}

// =============================================================================
// BATCH SETTLEMENT
// =============================================================================

// ProcessBatch settles every active investment as of now. A failure on one
// investment is logged and counted; the batch keeps going. The returned
// error is non-nil only when the active set cannot be loaded.
func (c *Controller) ProcessBatch(ctx context.Context, now time.Time) (*BatchResult, error) {
	active, err := c.Store.ListInvestments(ctx, generic.InvestmentFilter{Status: generic.InvestmentActive})
	if err != nil {
		return nil, generic.Persist("list active investments", err)
	}

	res := &BatchResult{
		TotalInvestments:   len(active),
		EarningsAdded:      decimal.Zero,
		PrincipalsReturned: decimal.Zero,
	}

	for _, inv := range active {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		s := c.Engine.Settle(inv, now)
		if s.NoOp {
			res.Skipped++
			continue
		}

		err := c.settle(ctx, inv, s)
		switch {
		case err == nil:
			res.Processed++
			res.EarningsAdded = res.EarningsAdded.Add(s.Income)
			res.PrincipalsReturned = res.PrincipalsReturned.Add(s.Principal)
		case generic.IsDuplicate(err) || lostToConcurrentRun(err):
			// Another run settled this window first.
			res.Skipped++
			c.Log.Debug("settlement already applied", zap.String("investment_id", string(inv.ID)))
		default:
			res.Failed++
			res.Failures = append(res.Failures, Failure{InvestmentID: inv.ID, Err: err})
			c.Log.Error("settlement failed",
				zap.String("investment_id", string(inv.ID)),
				zap.String("user_id", string(inv.UserID)),
				zap.Error(err))
		}
	}

	c.Log.Info("settlement batch finished",
		zap.Int("total", res.TotalInvestments),
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.String("earnings_added", res.EarningsAdded.String()),
		zap.String("principals_returned", res.PrincipalsReturned.String()))

	return res, nil
}

// lostToConcurrentRun reports a marker or version race that another run won.
// A Mutator that ran out of retries never wrote, so that is a failure.
func lostToConcurrentRun(err error) bool {
	return errors.Is(err, generic.ErrConcurrentModification) &&
		!errors.Is(err, generic.ErrRetriesExhausted)
}

// SettlementKey identifies one settlement window of one investment. The
// same window can only be credited once.
func SettlementKey(id generic.InvestmentID, prevMarker time.Time) string {
	return fmt.Sprintf("settle:%s:%s", id, prevMarker.UTC().Format(time.RFC3339Nano))
}

func (c *Controller) settle(ctx context.Context, inv generic.Investment, s generic.Settlement) error {
	next := s.Apply(inv)

	return generic.RunAtomic(ctx, c.Store, func(st generic.Store, comp *generic.Compensator) error {
		if err := st.AdvanceInvestment(ctx, next, s.PreviousMarker); err != nil {
			return err
		}
		comp.OnFailure(func(ctx context.Context) error {
			return st.AdvanceInvestment(ctx, inv, next.UpdatedAt)
		})

		var legs []generic.Leg
		if s.Income.IsPositive() {
			legs = append(legs, generic.Leg{Wallet: generic.WalletBalance, Delta: s.Income, Kind: generic.EntryAccrualIncome})
		}
		if s.Principal.IsPositive() {
			legs = append(legs, generic.Leg{Wallet: generic.WalletBalance, Delta: s.Principal, Kind: generic.EntryPrincipalReturn})
		}
		if len(legs) == 0 {
			return nil
		}

		_, err := c.Mutator.Apply(ctx, st, generic.Change{
			UserID:         inv.UserID,
			Legs:           legs,
			ReferenceID:    string(inv.ID),
			IdempotencyKey: SettlementKey(inv.ID, s.PreviousMarker),
		})
		return err
	})
}

// =============================================================================
// READS
// =============================================================================

// Status reports progress for every active investment as of now.
func (c *Controller) Status(ctx context.Context, now time.Time) ([]StatusView, error) {
	active, err := c.Store.ListInvestments(ctx, generic.InvestmentFilter{Status: generic.InvestmentActive})
	if err != nil {
		return nil, generic.Persist("list active investments", err)
	}

	out := make([]StatusView, 0, len(active))
	for _, inv := range active {
		p := c.Engine.Progress(inv, now)
		out = append(out, StatusView{
			InvestmentID:  inv.ID,
			UserID:        inv.UserID,
			ProductName:   inv.ProductName,
			DaysPassed:    p.DaysElapsed,
			DaysRemaining: p.DaysRemaining,
			IsCompleted:   p.IsCompleted,
			EarningsSoFar: p.EarnedSoFar,
			TotalEarnings: p.TotalEarnings,
		})
	}
	return out, nil
}

// ListForUser returns a user's investments, newest first.
func (c *Controller) ListForUser(ctx context.Context, userID generic.UserID) ([]generic.Investment, error) {
	invs, err := c.Store.ListInvestments(ctx, generic.InvestmentFilter{UserID: userID})
	if err != nil {
		return nil, generic.Persist("list investments", err)
	}
	sortByCreated(invs)
	return invs, nil
}
