package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/referral-ledger/generic"
	"github.com/warp/referral-ledger/investment"
)

func TestScheduler_RunNow_SettlesMaturedInvestment(t *testing.T) {
	// GIVEN: A user holding BioNTech-1 (360 a day for 30 days)
	env := newTestEnv(t)
	ctx := context.Background()
	res, err := env.h.LoadScenario(ctx, "investor")
	require.NoError(t, err)
	dave := res.Users["dave@example.com"]

	// WHEN: Settlement runs after the period has elapsed
	env.now = env.now.Add(31 * 24 * time.Hour)
	run, batch, err := env.h.Settlements.RunNow(ctx, generic.TriggerManual)
	require.NoError(t, err)

	// THEN: Income and principal are credited once and the run is recorded
	assert.Equal(t, 1, batch.Processed)
	assertAmount(t, 10800, batch.EarningsAdded)
	assertAmount(t, 6000, batch.PrincipalsReturned)

	u, err := env.store.GetUser(ctx, dave.ID)
	require.NoError(t, err)
	assertAmount(t, 94000+10800+6000, u.Balance)

	runs, err := env.store.ListSettlementRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, "completed", runs[0].Status)
	require.NotNil(t, runs[0].CompletedAt)

	// A second run the same moment finds nothing to do
	_, again, err := env.h.Settlements.RunNow(ctx, generic.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Processed)
	u, err = env.store.GetUser(ctx, dave.ID)
	require.NoError(t, err)
	assertAmount(t, 110800, u.Balance)

	invs, err := env.h.Investments.ListForUser(ctx, dave.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.InvestmentCompleted, invs[0].Status)
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	env := newTestEnv(t)
	sched := env.h.Settlements
	sched.Interval = time.Hour

	require.NoError(t, sched.Start())
	defer sched.Stop()

	assert.Eventually(t, func() bool {
		runs, err := env.store.ListSettlementRuns(context.Background(), 10)
		return err == nil && len(runs) == 1 && runs[0].Status == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	runs, err := env.store.ListSettlementRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, generic.TriggerSchedule, runs[0].Trigger)
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	env := newTestEnv(t)
	sched := env.h.Settlements
	sched.Enabled = false

	require.NoError(t, sched.Start())
	sched.Stop()

	runs, err := env.store.ListSettlementRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestScheduler_NonPositiveIntervalRefused(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Minute} {
		t.Run(interval.String(), func(t *testing.T) {
			env := newTestEnv(t)
			sched := env.h.Settlements
			sched.Interval = interval

			assert.Error(t, sched.Start())
			sched.Stop()

			runs, err := env.store.ListSettlementRuns(context.Background(), 10)
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestScheduler_NextRunTime(t *testing.T) {
	sched := NewSettlementScheduler(nil, &investment.Controller{}, nil)
	sched.Now = func() time.Time { return testNow }
	sched.Interval = 10 * time.Minute
	assert.Equal(t, testNow.Add(10*time.Minute), sched.NextRunTime())
}
