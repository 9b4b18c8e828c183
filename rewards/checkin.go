package rewards

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/referral-ledger/generic"
)

// =============================================================================
// DAILY CHECK-IN
// =============================================================================

// CheckIn records today's check-in and credits the reward. "Today" is the
// calendar day in the reference zone. A second check-in on the same day
// fails with ErrAlreadyCheckedIn, enforced by the store.
func (s *Service) CheckIn(ctx context.Context, userID generic.UserID) (*CheckInResult, error) {
	if _, err := s.activeUser(ctx, userID); err != nil {
		return nil, err
	}

	referrals, err := s.Store.CountReferrals(ctx, userID)
	if err != nil {
		return nil, generic.Persist("count referrals", err)
	}

	now := s.now()
	reward := s.Schedule.Reward(referrals)
	ci := generic.CheckIn{
		ID:        s.NewID(),
		UserID:    userID,
		Amount:    reward,
		Day:       s.Calendar.DayKey(now),
		CreatedAt: now,
	}

	var after *generic.User
	err = generic.RunAtomic(ctx, s.Store, func(st generic.Store, comp *generic.Compensator) error {
		if err := st.InsertCheckIn(ctx, ci); err != nil {
			return generic.Persist("insert check-in", err)
		}
		comp.OnFailure(func(ctx context.Context) error {
			return st.DeleteCheckIn(ctx, ci.ID)
		})

		u, err := s.Mutator.Apply(ctx, st, generic.Change{
			UserID: userID,
			Legs: []generic.Leg{
				{Wallet: generic.WalletBalance, Delta: reward, Kind: generic.EntryCheckInReward},
			},
			ReferenceID:    ci.ID,
			IdempotencyKey: "checkin:" + string(userID) + ":" + ci.Day,
		})
		if err != nil {
			return err
		}
		after = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("check-in recorded",
		zap.String("user_id", string(userID)),
		zap.String("day", ci.Day),
		zap.Int("referrals", referrals),
		zap.String("reward", reward.String()))

	return &CheckInResult{
		CheckIn:       ci,
		BaseReward:    s.Schedule.Base,
		BonusReward:   reward.Sub(s.Schedule.Base),
		ReferralCount: referrals,
		NewBalance:    after.Balance,
	}, nil
}

// Preview reports what a check-in would pay now and whether the user has
// already checked in today.
func (s *Service) Preview(ctx context.Context, userID generic.UserID) (*CheckInPreview, error) {
	if _, err := s.Store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	referrals, err := s.Store.CountReferrals(ctx, userID)
	if err != nil {
		return nil, generic.Persist("count referrals", err)
	}
	history, err := s.History(ctx, userID)
	if err != nil {
		return nil, err
	}

	today := s.Calendar.DayKey(s.now())
	p := &CheckInPreview{
		Reward:        s.Schedule.Reward(referrals),
		ReferralCount: referrals,
		TotalCheckIns: len(history),
		TotalEarned:   generic.Zero,
	}
	for i, ci := range history {
		p.TotalEarned = p.TotalEarned.Add(ci.Amount)
		if ci.Day == today {
			p.CheckedInToday = true
		}
		if i == 0 {
			at := ci.CreatedAt
			p.LastCheckInAt = &at
		}
	}
	return p, nil
}

// History returns a user's check-ins, newest first.
func (s *Service) History(ctx context.Context, userID generic.UserID) ([]generic.CheckIn, error) {
	list, err := s.Store.ListCheckIns(ctx, userID)
	if err != nil {
		return nil, generic.Persist("list check-ins", err)
	}
	return list, nil
}
