/*
scenarios.go - Demo scenario loaders for development and demonstrations

PURPOSE:

	Populates an empty store with realistic data through the same domain
	operations the API uses, so every wallet has a matching journal.

AVAILABLE SCENARIOS:

	referral-network:  One referrer with two referrals, a funded wallet and a check-in
	investor:          A funded user with an active investment and a pending withdrawal
	full:              Both of the above

HOW SCENARIOS WORK:
 1. Refuse to run on a store that already has users
 2. Register an admin and flag it
 3. Register users (with referral codes where needed)
 4. Fund them via recharge -> approve -> transfer
 5. Exercise check-in, investment and withdrawal flows

USAGE:

	./server -seed=full

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: seedXxx(ctx, sc)
 3. Add case to LoadScenario

SEE ALSO:
  - cmd/server/main.go: -seed flag
  - rewards/: Register, recharge and withdrawal flows
*/
package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/referral-ledger/generic"
	"github.com/warp/referral-ledger/investment"
	"github.com/warp/referral-ledger/rewards"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// Scenario describes one demo data set.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var scenarios = []Scenario{
	{
		ID:          "referral-network",
		Name:        "Referral Network",
		Description: "Referrer with two referrals, funded wallet and today's check-in",
	},
	{
		ID:          "investor",
		Name:        "Investor",
		Description: "Funded user with an active investment and a pending withdrawal",
	},
	{
		ID:          "full",
		Name:        "Full Demo",
		Description: "Referral network plus investor",
	},
}

// Scenarios lists the available demo data sets.
func Scenarios() []Scenario {
	out := make([]Scenario, len(scenarios))
	copy(out, scenarios)
	return out
}

// SeedResult lists the accounts a scenario created.
type SeedResult struct {
	Scenario string
	Admin    generic.User
	Users    map[string]generic.User // by email
}

// ErrStoreNotEmpty is returned when seeding a store that has users.
var ErrStoreNotEmpty = errors.New("store already has users")

type seedContext struct {
	h     *Handler
	admin generic.User
	res   *SeedResult
}

// LoadScenario seeds an empty store with the named scenario.
func (h *Handler) LoadScenario(ctx context.Context, id string) (*SeedResult, error) {
	existing, err := h.Store.ListUsers(ctx)
	if err != nil {
		return nil, generic.Persist("list users", err)
	}
	if len(existing) > 0 {
		return nil, ErrStoreNotEmpty
	}

	var loaders []func(context.Context, *seedContext) error
	switch id {
	case "referral-network":
		loaders = append(loaders, seedReferralNetwork)
	case "investor":
		loaders = append(loaders, seedInvestor)
	case "full":
		loaders = append(loaders, seedReferralNetwork, seedInvestor)
	default:
		return nil, generic.Invalid("scenario", "unknown scenario: %s", id)
	}

	admin, err := h.seedAdmin(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed admin: %w", err)
	}
	sc := &seedContext{
		h:     h,
		admin: *admin,
		res:   &SeedResult{Scenario: id, Admin: *admin, Users: map[string]generic.User{}},
	}
	for _, load := range loaders {
		if err := load(ctx, sc); err != nil {
			return nil, fmt.Errorf("load scenario %s: %w", id, err)
		}
	}

	// Refresh so callers see final wallets.
	for email, u := range sc.res.Users {
		fresh, err := h.Store.GetUser(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		sc.res.Users[email] = *fresh
	}

	h.Log.Info("scenario loaded",
		zap.String("scenario", id),
		zap.String("admin_id", string(admin.ID)),
		zap.Int("users", len(sc.res.Users)))
	return sc.res, nil
}

func (h *Handler) seedAdmin(ctx context.Context) (*generic.User, error) {
	u, err := h.Rewards.Register(ctx, rewards.RegisterInput{Email: "admin@example.com", FullName: "Platform Admin"})
	if err != nil {
		return nil, err
	}
	u.IsAdmin = true
	if err := h.Store.UpdateUserProfile(ctx, u.ID, generic.ProfileUpdate{IsAdmin: generic.Ptr(true)}); err != nil {
		return nil, generic.Persist("update user profile", err)
	}
	return u, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (sc *seedContext) register(ctx context.Context, email, name, referralCode string) (*generic.User, error) {
	u, err := sc.h.Rewards.Register(ctx, rewards.RegisterInput{Email: email, FullName: name, ReferralCode: referralCode})
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", email, err)
	}
	sc.res.Users[u.Email] = *u
	return u, nil
}

// fund deposits amount and moves transfer of it into the spendable balance.
func (sc *seedContext) fund(ctx context.Context, userID generic.UserID, amount, transfer int64) error {
	rw := sc.h.Rewards
	rc, err := rw.RequestRecharge(ctx, userID, rewards.RechargeInput{
		Amount:        generic.NewMoney(amount),
		PaymentMethod: rewards.MTN,
		PaidNumber:    "0788000000",
	})
	if err != nil {
		return err
	}
	if _, err := rw.ApproveRecharge(ctx, sc.admin.ID, rc.ID); err != nil {
		return err
	}
	if transfer == 0 {
		return nil
	}
	_, err = rw.TransferRecharge(ctx, userID, generic.NewMoney(transfer))
	return err
}

// =============================================================================
// SCENARIOS
// =============================================================================

func seedReferralNetwork(ctx context.Context, sc *seedContext) error {
	alice, err := sc.register(ctx, "alice@example.com", "Alice Uwase", "")
	if err != nil {
		return err
	}
	if _, err := sc.register(ctx, "bob@example.com", "Bob Mugisha", alice.ReferralCode); err != nil {
		return err
	}
	if _, err := sc.register(ctx, "carol@example.com", "Carol Ineza", alice.ReferralCode); err != nil {
		return err
	}

	if err := sc.fund(ctx, alice.ID, 30000, 27000); err != nil {
		return err
	}
	_, err = sc.h.Rewards.CheckIn(ctx, alice.ID)
	return err
}

func seedInvestor(ctx context.Context, sc *seedContext) error {
	dave, err := sc.register(ctx, "dave@example.com", "Dave Habimana", "")
	if err != nil {
		return err
	}
	if err := sc.fund(ctx, dave.ID, 100000, 100000); err != nil {
		return err
	}

	product, ok := firstUnlocked(sc.h.Investments.Offerings(sc.h.Now()))
	if !ok {
		return errors.New("catalog has no product available today")
	}
	if _, err := sc.h.Investments.Create(ctx, dave.ID, investment.CreateInput{
		ProductID:     product.ID,
		ProductName:   product.Name,
		Price:         product.Price,
		PurchaseCount: 1,
		DailyIncome:   product.DailyIncome,
		IncomePeriod:  product.IncomePeriod,
		WalletType:    investment.PayFromBalance,
	}); err != nil {
		return fmt.Errorf("buy %s: %w", product.ID, err)
	}

	rw := sc.h.Rewards
	if err := rw.SetWithdrawalPassword(ctx, dave.ID, "1234"); err != nil {
		return err
	}
	if _, err := rw.UpdatePayoutAccount(ctx, dave.ID, rewards.PayoutAccount{
		PaymentMethod: rewards.Airtel,
		AccountName:   "Dave Habimana",
		PhoneNumber:   "0731234567",
		Password:      "1234",
	}); err != nil {
		return err
	}
	_, err = rw.RequestWithdrawal(ctx, dave.ID, rewards.WithdrawalInput{
		Amount:   decimal.NewFromInt(5000),
		Password: "1234",
	})
	return err
}

// firstUnlocked picks the cheapest product that can be bought now.
func firstUnlocked(offers []investment.Offering) (investment.Product, bool) {
	var (
		best  investment.Product
		found bool
	)
	for _, o := range offers {
		if o.Locked {
			continue
		}
		if !found || o.Price.LessThan(best.Price) {
			best, found = o.Product, true
		}
	}
	return best, found
}
