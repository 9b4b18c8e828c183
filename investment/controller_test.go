package investment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/referral-ledger/generic"
	"github.com/warp/referral-ledger/generic/store"
	"github.com/warp/referral-ledger/investment"
	"github.com/warp/referral-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	// Monday 10:00 in Kigali.
	monday = time.Date(2025, time.January, 6, 8, 0, 0, 0, time.UTC)
	// Saturday 12:00 in Kigali.
	saturday = time.Date(2025, time.January, 11, 10, 0, 0, 0, time.UTC)
)

func money(n int64) decimal.Decimal { return generic.NewMoney(n) }

func testCatalog() *investment.StaticCatalog {
	return investment.NewStaticCatalog(
		investment.Product{ID: "mrna-1", Name: "mRNA-1", Category: "mRNA", Price: money(27000), DailyIncome: money(1134), IncomePeriod: 45},
		investment.Product{ID: "vaccine-a", Name: "Vaccine A", Category: "Super Weekend", Price: money(3000), DailyIncome: money(300), IncomePeriod: 2, WeekendOnly: true},
	)
}

func kigali(t *testing.T) generic.Calendar {
	cal, err := generic.NewCalendar("Africa/Kigali")
	require.NoError(t, err)
	return cal
}

func newController(t *testing.T, s generic.Store, now time.Time) *investment.Controller {
	c := investment.NewController(s, testCatalog(), kigali(t), nil)
	c.Now = func() time.Time { return now }
	return c
}

func seedUser(t *testing.T, s generic.Store, id generic.UserID, balance int64) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), generic.User{
		ID:             id,
		Email:          string(id) + "@example.com",
		ReferralCode:   "REF-" + string(id),
		Balance:        money(balance),
		RechargeWallet: money(0),
		TotalRecharge:  money(0),
		IsActive:       true,
		CreatedAt:      monday.Add(-time.Hour),
	}))
}

func buyMRNA1(count int) investment.CreateInput {
	return investment.CreateInput{
		ProductID:     "mrna-1",
		ProductName:   "mRNA-1",
		Price:         money(27000),
		PurchaseCount: count,
		DailyIncome:   money(1134),
		IncomePeriod:  45,
		WalletType:    investment.PayFromBalance,
	}
}

func newSQLite(t *testing.T) generic.Store {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// stores runs the same test against every store flavor: a real database
// transaction, snapshot rollback, and compensation.
func stores(t *testing.T) map[string]func(t *testing.T) generic.Store {
	return map[string]func(t *testing.T) generic.Store{
		"sqlite":   newSQLite,
		"txmemory": func(*testing.T) generic.Store { return store.NewTxMemory() },
		"memory":   func(*testing.T) generic.Store { return store.NewMemory() },
	}
}

func balanceOf(t *testing.T, s generic.Store, id generic.UserID) decimal.Decimal {
	t.Helper()
	u, err := s.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u.Balance
}

func assertMoney(t *testing.T, expected int64, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, money(expected).Equal(actual), "expected %d, got %s", expected, actual.String())
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestController_FullLifecycle(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			// GIVEN: A user with 100000 buys one mRNA-1 (27000, 1134/day, 45 days)
			// WHEN: The batch runs after the full term
			// THEN: 51030 income plus 27000 principal are credited once
			ctx := context.Background()
			s := newStore(t)
			seedUser(t, s, "u-1", 100000)
			c := newController(t, s, monday)

			res, err := c.Create(ctx, "u-1", buyMRNA1(1))
			require.NoError(t, err)
			assertMoney(t, 73000, res.NewBalance)
			assertMoney(t, 51030, res.Investment.TotalIncome)
			assertMoney(t, 27000, res.Investment.Amount)
			assertMoney(t, 73000, balanceOf(t, s, "u-1"))

			batch, err := c.ProcessBatch(ctx, monday.Add(46*generic.Day))
			require.NoError(t, err)
			assert.Equal(t, 1, batch.Processed)
			assert.Equal(t, 0, batch.Failed)
			assertMoney(t, 51030, batch.EarningsAdded)
			assertMoney(t, 27000, batch.PrincipalsReturned)
			assertMoney(t, 151030, balanceOf(t, s, "u-1"))

			inv, err := s.GetInvestment(ctx, res.Investment.ID)
			require.NoError(t, err)
			assert.Equal(t, generic.InvestmentCompleted, inv.Status)
			assert.Equal(t, 45, inv.DaysCredited)

			rec, err := generic.Reconcile(ctx, s, "u-1")
			require.NoError(t, err)
			assertMoney(t, 151030-100000, rec.ReplayedBalance)
		})
	}
}

func TestController_IntermediateSettlements_SumToContract(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	seedUser(t, s, "u-1", 100000)
	c := newController(t, s, monday)

	_, err := c.Create(ctx, "u-1", buyMRNA1(2))
	require.NoError(t, err)
	assertMoney(t, 46000, balanceOf(t, s, "u-1"))

	for _, off := range []time.Duration{
		10 * generic.Day,
		10*generic.Day + 5*time.Hour, // same day again: no-op
		22*generic.Day + 7*time.Hour,
		40 * generic.Day,
		50 * generic.Day,
		51 * generic.Day, // already completed
	} {
		_, err := c.ProcessBatch(ctx, monday.Add(off))
		require.NoError(t, err)
	}

	// 46000 + 2 × 1134 × 45 + 54000
	assertMoney(t, 46000+102060+54000, balanceOf(t, s, "u-1"))
}

func TestController_SecondBatchSameDay_NoOp(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	seedUser(t, s, "u-1", 100000)
	c := newController(t, s, monday)
	_, err := c.Create(ctx, "u-1", buyMRNA1(1))
	require.NoError(t, err)

	first, err := c.ProcessBatch(ctx, monday.Add(3*generic.Day))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Processed)
	assertMoney(t, 73000+3*1134, balanceOf(t, s, "u-1"))

	second, err := c.ProcessBatch(ctx, monday.Add(3*generic.Day+2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 1, second.Skipped)
	assertMoney(t, 73000+3*1134, balanceOf(t, s, "u-1"))
}

func TestController_ConcurrentBatches_NeverDoubleCredit(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			seedUser(t, s, "u-1", 100000)
			seedUser(t, s, "u-2", 100000)
			c := newController(t, s, monday)
			_, err := c.Create(ctx, "u-1", buyMRNA1(1))
			require.NoError(t, err)
			_, err = c.Create(ctx, "u-2", buyMRNA1(3))
			require.NoError(t, err)

			now := monday.Add(5 * generic.Day)
			var wg sync.WaitGroup
			for i := 0; i < 6; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := c.ProcessBatch(ctx, now)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			assertMoney(t, 73000+5*1134, balanceOf(t, s, "u-1"))
			assertMoney(t, 19000+5*1134*3, balanceOf(t, s, "u-2"))
		})
	}
}

// =============================================================================
// CREATE VALIDATION
// =============================================================================

func TestController_Create_WeekendGate(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	seedUser(t, s, "u-1", 10000)

	weekendBuy := investment.CreateInput{
		ProductID: "vaccine-a", ProductName: "Vaccine A",
		Price: money(3000), PurchaseCount: 1, DailyIncome: money(300), IncomePeriod: 2,
		WalletType: investment.PayFromBalance,
	}

	_, err := newController(t, s, monday).Create(ctx, "u-1", weekendBuy)
	assert.ErrorIs(t, err, generic.ErrWeekendRestricted)
	assertMoney(t, 10000, balanceOf(t, s, "u-1"))

	res, err := newController(t, s, saturday).Create(ctx, "u-1", weekendBuy)
	require.NoError(t, err)
	assertMoney(t, 7000, res.NewBalance)
}

func TestController_Create_WeekendGateBeforeWalletCheck(t *testing.T) {
	// A weekday purchase of a weekend product reports the weekend rule even
	// when the wrong wallet is also named.
	ctx := context.Background()
	s := store.NewTxMemory()
	seedUser(t, s, "u-1", 10000)

	buy := investment.CreateInput{
		ProductID: "vaccine-a", ProductName: "Vaccine A",
		Price: money(3000), PurchaseCount: 1, DailyIncome: money(300), IncomePeriod: 2,
		WalletType: investment.PayFromRecharge,
	}
	_, err := newController(t, s, monday).Create(ctx, "u-1", buy)
	assert.ErrorIs(t, err, generic.ErrWeekendRestricted)

	_, err = newController(t, s, saturday).Create(ctx, "u-1", buy)
	assert.ErrorIs(t, err, generic.ErrWrongWallet)
}

func TestController_Create_WeekendGateUsesReferenceZone(t *testing.T) {
	// Friday 23:30 UTC is already Saturday in Kigali.
	ctx := context.Background()
	s := store.NewTxMemory()
	seedUser(t, s, "u-1", 10000)
	fridayNightUTC := time.Date(2025, time.January, 10, 23, 30, 0, 0, time.UTC)

	_, err := newController(t, s, fridayNightUTC).Create(ctx, "u-1", investment.CreateInput{
		ProductID: "vaccine-a", Price: money(3000), PurchaseCount: 1,
		DailyIncome: money(300), IncomePeriod: 2, WalletType: investment.PayFromBalance,
	})
	assert.NoError(t, err)
}

func TestController_Create_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *investment.CreateInput)
		want   error
	}{
		{"zero purchase count", func(in *investment.CreateInput) { in.PurchaseCount = 0 }, generic.ErrValidation},
		{"missing product", func(in *investment.CreateInput) { in.ProductID = "" }, generic.ErrValidation},
		{"missing price", func(in *investment.CreateInput) { in.Price = decimal.Zero }, generic.ErrValidation},
		{"missing period", func(in *investment.CreateInput) { in.IncomePeriod = 0 }, generic.ErrValidation},
		{"recharge wallet", func(in *investment.CreateInput) { in.WalletType = investment.PayFromRecharge }, generic.ErrWrongWallet},
		{"unknown wallet", func(in *investment.CreateInput) { in.WalletType = "bonus" }, generic.ErrValidation},
		{"stale price", func(in *investment.CreateInput) { in.Price = money(20000) }, generic.ErrValidation},
		{"unknown product", func(in *investment.CreateInput) { in.ProductID = "nope" }, generic.ErrNotFound},
		{"insufficient balance", func(in *investment.CreateInput) { in.PurchaseCount = 4 }, generic.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := store.NewTxMemory()
			seedUser(t, s, "u-1", 100000)
			in := buyMRNA1(1)
			tt.mutate(&in)

			_, err := newController(t, s, monday).Create(ctx, "u-1", in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			invs, _ := s.ListInvestments(ctx, generic.InvestmentFilter{})
			assert.Empty(t, invs)
			assertMoney(t, 100000, balanceOf(t, s, "u-1"))
		})
	}
}

func TestController_Create_SuspendedUser(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	seedUser(t, s, "u-1", 100000)
	require.NoError(t, s.UpdateUserProfile(ctx, "u-1", generic.ProfileUpdate{IsActive: generic.Ptr(false)}))

	_, err := newController(t, s, monday).Create(ctx, "u-1", buyMRNA1(1))
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

// =============================================================================
// FAILURE INJECTION
// =============================================================================

var errDiskFull = errors.New("disk full")

// brokenWallet fails every wallet write.
type brokenWallet struct{ generic.Store }

func (brokenWallet) SaveUserBalances(context.Context, generic.User, []generic.LedgerEntry) error {
	return errDiskFull
}

// brokenWalletTx is a TxStore whose transactional view fails wallet writes.
type brokenWalletTx struct{ *store.TxMemory }

func (b brokenWalletTx) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return b.TxMemory.WithTx(ctx, func(s generic.Store) error { return fn(brokenWallet{s}) })
}

func TestController_Create_DebitFails_NoInvestmentNoDebit(t *testing.T) {
	cases := map[string]struct {
		store generic.Store
		inner generic.Store
	}{}
	plain := store.NewMemory()
	cases["compensation"] = struct {
		store generic.Store
		inner generic.Store
	}{brokenWallet{plain}, plain}
	tx := store.NewTxMemory()
	cases["transaction"] = struct {
		store generic.Store
		inner generic.Store
	}{brokenWalletTx{tx}, tx}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedUser(t, tc.inner, "u-1", 100000)

			_, err := newController(t, tc.store, monday).Create(ctx, "u-1", buyMRNA1(1))
			require.Error(t, err)
			assert.ErrorIs(t, err, generic.ErrPersistence)
			assert.ErrorIs(t, err, errDiskFull)

			invs, err := tc.inner.ListInvestments(ctx, generic.InvestmentFilter{})
			require.NoError(t, err)
			assert.Empty(t, invs, "investment must not survive a failed debit")
			assertMoney(t, 100000, balanceOf(t, tc.inner, "u-1"))
		})
	}
}

func TestController_ProcessBatch_CreditFails_MarkerRestored(t *testing.T) {
	ctx := context.Background()
	plain := store.NewMemory()
	seedUser(t, plain, "u-1", 100000)
	_, err := newController(t, plain, monday).Create(ctx, "u-1", buyMRNA1(1))
	require.NoError(t, err)

	broken := newController(t, brokenWallet{plain}, monday)
	res, err := broken.ProcessBatch(ctx, monday.Add(4*generic.Day))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, errDiskFull)

	invs, _ := plain.ListInvestments(ctx, generic.InvestmentFilter{})
	require.Len(t, invs, 1)
	assert.Equal(t, 0, invs[0].DaysCredited)
	assert.True(t, invs[0].UpdatedAt.Equal(monday))

	// A healthy run afterwards pays the window in full.
	res, err = newController(t, plain, monday).ProcessBatch(ctx, monday.Add(4*generic.Day))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assertMoney(t, 73000+4*1134, balanceOf(t, plain, "u-1"))
}

// staleWallet loses every version check, so the Mutator runs out of retries.
type staleWallet struct{ generic.Store }

func (staleWallet) SaveUserBalances(context.Context, generic.User, []generic.LedgerEntry) error {
	return generic.ErrConcurrentModification
}

func TestController_ProcessBatch_RetriesExhausted_CountedAsFailure(t *testing.T) {
	ctx := context.Background()
	plain := store.NewMemory()
	seedUser(t, plain, "u-1", 100000)
	_, err := newController(t, plain, monday).Create(ctx, "u-1", buyMRNA1(1))
	require.NoError(t, err)

	core, logs := observer.New(zapcore.ErrorLevel)
	c := investment.NewController(staleWallet{plain}, testCatalog(), kigali(t), zap.New(core))
	c.Now = func() time.Time { return monday }

	res, err := c.ProcessBatch(ctx, monday.Add(4*generic.Day))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Skipped)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, generic.ErrRetriesExhausted)
	assert.Equal(t, 1, logs.FilterMessage("settlement failed").Len())

	invs, _ := plain.ListInvestments(ctx, generic.InvestmentFilter{})
	require.Len(t, invs, 1)
	assert.Equal(t, 0, invs[0].DaysCredited)
}

// =============================================================================
// READS
// =============================================================================

func TestController_StatusAndList(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	seedUser(t, s, "u-1", 100000)
	c := newController(t, s, monday)
	res, err := c.Create(ctx, "u-1", buyMRNA1(1))
	require.NoError(t, err)

	views, err := c.Status(ctx, monday.Add(7*generic.Day+time.Hour))
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, res.Investment.ID, views[0].InvestmentID)
	assert.Equal(t, 7, views[0].DaysPassed)
	assert.Equal(t, 38, views[0].DaysRemaining)
	assertMoney(t, 7*1134, views[0].EarningsSoFar)
	assertMoney(t, 51030, views[0].TotalEarnings)

	mine, err := c.ListForUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	others, err := c.ListForUser(ctx, "u-2")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestController_Offerings_LockWeekendProducts(t *testing.T) {
	c := newController(t, store.NewMemory(), monday)

	weekday := c.Offerings(monday)
	require.Len(t, weekday, 2)
	assert.False(t, weekday[0].Locked)
	assert.True(t, weekday[1].Locked)

	weekend := c.Offerings(saturday)
	assert.False(t, weekend[1].Locked)
}
