package rewards

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/referral-ledger/generic"
)

// =============================================================================
// RECHARGE REQUESTS
// =============================================================================

// RequestRecharge records a pending deposit. No wallet changes until an
// admin approves it.
func (s *Service) RequestRecharge(ctx context.Context, userID generic.UserID, in RechargeInput) (*generic.Recharge, error) {
	if !in.Amount.IsPositive() {
		return nil, generic.Invalid("amount", "invalid amount")
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = MTN
	}
	if !in.PaymentMethod.valid() {
		return nil, generic.Invalid("payment_method", "must be MTN or Airtel")
	}
	if _, err := s.activeUser(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now()
	r := generic.Recharge{
		ID:            s.NewID(),
		UserID:        userID,
		Amount:        in.Amount,
		PaymentMethod: string(in.PaymentMethod),
		PaidNumber:    in.PaidNumber,
		Status:        generic.RechargePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.InsertRecharge(ctx, r); err != nil {
		return nil, generic.Persist("insert recharge", err)
	}

	s.Log.Info("recharge requested",
		zap.String("recharge_id", r.ID),
		zap.String("user_id", string(userID)),
		zap.String("amount", r.Amount.String()))
	return &r, nil
}

// ApproveRecharge marks a pending recharge completed and credits
// recharge_wallet and total_recharge in the same unit.
func (s *Service) ApproveRecharge(ctx context.Context, adminID generic.UserID, id string) (*generic.Recharge, error) {
	if err := s.CheckAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	var out generic.Recharge
	err := generic.RunAtomic(ctx, s.Store, func(st generic.Store, comp *generic.Compensator) error {
		r, err := st.GetRecharge(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != generic.RechargePending {
			return &generic.StateConflictError{Kind: "recharge", ID: id, Status: string(r.Status)}
		}

		prev := *r
		next := *r
		next.Status = generic.RechargeCompleted
		next.ApprovedBy = adminID
		next.UpdatedAt = s.now()
		if err := st.TransitionRecharge(ctx, next, generic.RechargePending); err != nil {
			return err
		}
		comp.OnFailure(func(ctx context.Context) error {
			return st.TransitionRecharge(ctx, prev, generic.RechargeCompleted)
		})

		_, err = s.Mutator.Apply(ctx, st, generic.Change{
			UserID: r.UserID,
			Legs: []generic.Leg{
				{Wallet: generic.WalletRecharge, Delta: r.Amount, Kind: generic.EntryRechargeCredit},
			},
			TotalRechargeDelta: r.Amount,
			ReferenceID:        r.ID,
			IdempotencyKey:     "recharge:" + r.ID,
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("recharge approved",
		zap.String("recharge_id", id),
		zap.String("user_id", string(out.UserID)),
		zap.String("admin_id", string(adminID)),
		zap.String("amount", out.Amount.String()))
	return &out, nil
}

// RejectRecharge marks a pending recharge rejected. No wallet changes.
func (s *Service) RejectRecharge(ctx context.Context, adminID generic.UserID, id, reason string) (*generic.Recharge, error) {
	if err := s.CheckAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	r, err := s.Store.GetRecharge(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != generic.RechargePending {
		return nil, &generic.StateConflictError{Kind: "recharge", ID: id, Status: string(r.Status)}
	}
	if reason == "" {
		reason = "Rejected by admin"
	}

	next := *r
	next.Status = generic.RechargeRejected
	next.ApprovedBy = adminID
	next.RejectedReason = reason
	next.UpdatedAt = s.now()
	if err := s.Store.TransitionRecharge(ctx, next, generic.RechargePending); err != nil {
		return nil, generic.Persist("reject recharge", err)
	}

	s.Log.Info("recharge rejected",
		zap.String("recharge_id", id),
		zap.String("admin_id", string(adminID)),
		zap.String("reason", reason))
	return &next, nil
}

// ListRecharges lists recharges, optionally by status. Admin only.
func (s *Service) ListRecharges(ctx context.Context, adminID generic.UserID, status generic.RechargeStatus) ([]generic.Recharge, error) {
	if err := s.CheckAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	list, err := s.Store.ListRecharges(ctx, status)
	if err != nil {
		return nil, generic.Persist("list recharges", err)
	}
	return list, nil
}

// =============================================================================
// WALLET TRANSFER
// =============================================================================

// TransferRecharge moves amount from recharge_wallet to balance.
func (s *Service) TransferRecharge(ctx context.Context, userID generic.UserID, amount decimal.Decimal) (*TransferResult, error) {
	if !amount.IsPositive() {
		return nil, generic.Invalid("amount", "invalid amount")
	}
	if _, err := s.activeUser(ctx, userID); err != nil {
		return nil, err
	}

	ref := s.NewID()
	u, err := s.Mutator.Apply(ctx, s.Store, generic.Change{
		UserID: userID,
		Legs: []generic.Leg{
			{Wallet: generic.WalletRecharge, Delta: amount.Neg(), Kind: generic.EntryTransferOut},
			{Wallet: generic.WalletBalance, Delta: amount, Kind: generic.EntryTransferIn},
		},
		ReferenceID:    ref,
		IdempotencyKey: "transfer:" + ref,
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("recharge wallet transferred",
		zap.String("user_id", string(userID)),
		zap.String("amount", amount.String()))
	return &TransferResult{Amount: amount, Balance: u.Balance, RechargeWallet: u.RechargeWallet}, nil
}
