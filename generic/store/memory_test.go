package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/referral-ledger/generic"
	"github.com/warp/referral-ledger/generic/store"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func stores() map[string]func() generic.Store {
	return map[string]func() generic.Store{
		"memory":    func() generic.Store { return store.NewMemory() },
		"tx-memory": func() generic.Store { return store.NewTxMemory() },
	}
}

func newUser(id generic.UserID) generic.User {
	return generic.User{
		ID:             id,
		Email:          string(id) + "@example.com",
		ReferralCode:   "CODE-" + string(id),
		Balance:        generic.Zero,
		RechargeWallet: generic.Zero,
		TotalRecharge:  generic.Zero,
		IsActive:       true,
		CreatedAt:      t0,
	}
}

func TestMemory_SaveUserBalances_VersionCheck(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			require.NoError(t, s.CreateUser(ctx, newUser("u1")))

			u, err := s.GetUser(ctx, "u1")
			require.NoError(t, err)
			stale := *u

			u.Balance = generic.NewMoney(100)
			entry := generic.LedgerEntry{ID: "e1", UserID: "u1", Wallet: generic.WalletBalance, Delta: generic.NewMoney(100), IdempotencyKey: "k1"}
			require.NoError(t, s.SaveUserBalances(ctx, *u, []generic.LedgerEntry{entry}))

			// A write based on the old version loses
			stale.Balance = generic.NewMoney(999)
			err = s.SaveUserBalances(ctx, stale, nil)
			assert.ErrorIs(t, err, generic.ErrConcurrentModification)

			got, err := s.GetUser(ctx, "u1")
			require.NoError(t, err)
			assert.True(t, generic.NewMoney(100).Equal(got.Balance))
			assert.Equal(t, u.Version+1, got.Version)
		})
	}
}

func TestMemory_SaveUserBalances_DuplicateKeyWritesNothing(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			require.NoError(t, s.CreateUser(ctx, newUser("u1")))

			u, _ := s.GetUser(ctx, "u1")
			u.Balance = generic.NewMoney(50)
			e := generic.LedgerEntry{ID: "e1", UserID: "u1", Wallet: generic.WalletBalance, Delta: generic.NewMoney(50), IdempotencyKey: "checkin:u1:2026-03-02"}
			require.NoError(t, s.SaveUserBalances(ctx, *u, []generic.LedgerEntry{e}))

			exists, err := s.EntryExists(ctx, e.IdempotencyKey)
			require.NoError(t, err)
			assert.True(t, exists)

			u, _ = s.GetUser(ctx, "u1")
			u.Balance = generic.NewMoney(100)
			e.ID = "e2"
			err = s.SaveUserBalances(ctx, *u, []generic.LedgerEntry{e})
			assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

			got, _ := s.GetUser(ctx, "u1")
			assert.True(t, generic.NewMoney(50).Equal(got.Balance))
			entries, err := s.ListEntries(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}
}

func TestMemory_UserUniqueness(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			require.NoError(t, s.CreateUser(ctx, newUser("u1")))

			dupEmail := newUser("u2")
			dupEmail.Email = "u1@example.com"
			assert.ErrorIs(t, s.CreateUser(ctx, dupEmail), generic.ErrValidation)

			dupCode := newUser("u3")
			dupCode.ReferralCode = "CODE-u1"
			assert.ErrorIs(t, s.CreateUser(ctx, dupCode), generic.ErrValidation)

			byCode, err := s.GetUserByReferralCode(ctx, "CODE-u1")
			require.NoError(t, err)
			assert.Equal(t, generic.UserID("u1"), byCode.ID)

			_, err = s.GetUser(ctx, "nobody")
			assert.True(t, generic.IsNotFound(err))
		})
	}
}

func TestMemory_UpdateUserProfile_OnlyNamedFields(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			u := newUser("u1")
			u.FullName = "Ana"
			require.NoError(t, s.CreateUser(ctx, u))

			require.NoError(t, s.UpdateUserProfile(ctx, "u1", generic.ProfileUpdate{IsActive: generic.Ptr(false)}))
			require.NoError(t, s.UpdateUserProfile(ctx, "u1", generic.ProfileUpdate{WithdrawalPasswordHash: generic.Ptr("hash")}))

			got, err := s.GetUser(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, got.IsActive)
			assert.Equal(t, "hash", got.WithdrawalPasswordHash)
			assert.Equal(t, "Ana", got.FullName)

			err = s.UpdateUserProfile(ctx, "nobody", generic.ProfileUpdate{IsAdmin: generic.Ptr(true)})
			assert.True(t, generic.IsNotFound(err))
		})
	}
}

func TestMemory_CheckInOncePerDay(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			require.NoError(t, s.CreateUser(ctx, newUser("u1")))

			c := generic.CheckIn{ID: "c1", UserID: "u1", Amount: generic.NewMoney(50), Day: "2026-03-02", CreatedAt: t0}
			require.NoError(t, s.InsertCheckIn(ctx, c))

			c.ID = "c2"
			assert.ErrorIs(t, s.InsertCheckIn(ctx, c), generic.ErrAlreadyCheckedIn)

			// Deleting frees the day again
			require.NoError(t, s.DeleteCheckIn(ctx, "c1"))
			require.NoError(t, s.InsertCheckIn(ctx, c))
		})
	}
}

func TestMemory_TransitionWithdrawal(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			require.NoError(t, s.CreateUser(ctx, newUser("u1")))

			w := generic.Withdrawal{ID: "w1", UserID: "u1", Amount: generic.NewMoney(2000), Status: generic.WithdrawalPending, CreatedAt: t0}
			require.NoError(t, s.InsertWithdrawal(ctx, w))

			w.Status = generic.WithdrawalApproved
			require.NoError(t, s.TransitionWithdrawal(ctx, w, generic.WithdrawalPending))

			w.Status = generic.WithdrawalRejected
			err := s.TransitionWithdrawal(ctx, w, generic.WithdrawalPending)
			var conflict *generic.StateConflictError
			require.True(t, errors.As(err, &conflict))
			assert.Equal(t, "approved", conflict.Status)

			pending, err := s.ListWithdrawals(ctx, "u1", generic.WithdrawalPending)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestMemory_SettlementRunsNewestFirst(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			for i, id := range []string{"r1", "r2", "r3"} {
				require.NoError(t, s.SaveSettlementRun(ctx, generic.SettlementRun{
					ID:        id,
					Trigger:   generic.TriggerSchedule,
					Status:    "running",
					StartedAt: t0.Add(time.Duration(i) * time.Minute),
				}))
			}
			// Saving again updates in place
			require.NoError(t, s.SaveSettlementRun(ctx, generic.SettlementRun{
				ID: "r1", Trigger: generic.TriggerSchedule, Status: "completed", StartedAt: t0,
			}))

			runs, err := s.ListSettlementRuns(ctx, 2)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "r3", runs[0].ID)
			assert.Equal(t, "r2", runs[1].ID)

			all, err := s.ListSettlementRuns(ctx, 10)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "completed", all[2].Status)
		})
	}
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	s := store.NewTxMemory()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, newUser("u1")))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.InsertRecharge(ctx, generic.Recharge{ID: "r1", UserID: "u1", Amount: generic.NewMoney(10), Status: generic.RechargePending}); err != nil {
			return err
		}
		u, err := tx.GetUser(ctx, "u1")
		if err != nil {
			return err
		}
		u.RechargeWallet = generic.NewMoney(10)
		if err := tx.SaveUserBalances(ctx, *u, nil); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetRecharge(ctx, "r1")
	assert.True(t, generic.IsNotFound(err))
	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.RechargeWallet.IsZero())
	assert.Equal(t, int64(0), u.Version)
}
