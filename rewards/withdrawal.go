package rewards

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/referral-ledger/generic"
)

// =============================================================================
// WITHDRAWAL REQUESTS
// =============================================================================

// RequestWithdrawal records a pending payout. The balance must cover the
// full amount now, but it is only debited when an admin approves.
func (s *Service) RequestWithdrawal(ctx context.Context, userID generic.UserID, in WithdrawalInput) (*generic.Withdrawal, error) {
	if !in.Amount.IsPositive() {
		return nil, generic.Invalid("amount", "invalid amount")
	}
	if in.Amount.LessThan(s.Limits.MinWithdrawal) {
		return nil, generic.Invalid("amount", "minimum withdrawal amount is %s", s.Limits.MinWithdrawal.String())
	}
	if in.Amount.GreaterThan(s.Limits.MaxWithdrawal) {
		return nil, generic.Invalid("amount", "maximum withdrawal amount is %s", s.Limits.MaxWithdrawal.String())
	}
	if in.Password == "" {
		return nil, generic.Invalid("password", "withdrawal password is required")
	}

	u, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkPassword(u, in.Password); err != nil {
		return nil, err
	}
	if u.Balance.LessThan(in.Amount) {
		return nil, &generic.InsufficientFundsError{
			UserID:    userID,
			Wallet:    generic.WalletBalance,
			Available: u.Balance,
			Requested: in.Amount,
		}
	}

	if in.AccountNumber == "" {
		in.AccountNumber = u.AccountPhoneNumber
	}
	if in.AccountName == "" {
		in.AccountName = u.AccountName
	}

	fee := s.Limits.Fee(in.Amount)
	now := s.now()
	w := generic.Withdrawal{
		ID:            s.NewID(),
		UserID:        userID,
		Amount:        in.Amount,
		Fee:           fee,
		NetAmount:     in.Amount.Sub(fee),
		AccountNumber: in.AccountNumber,
		AccountName:   in.AccountName,
		Status:        generic.WithdrawalPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.InsertWithdrawal(ctx, w); err != nil {
		return nil, generic.Persist("insert withdrawal", err)
	}

	s.Log.Info("withdrawal requested",
		zap.String("withdrawal_id", w.ID),
		zap.String("user_id", string(userID)),
		zap.String("amount", w.Amount.String()),
		zap.String("fee", w.Fee.String()))
	return &w, nil
}

// checkPassword compares a plaintext withdrawal password against the
// stored bcrypt hash.
func (s *Service) checkPassword(u *generic.User, password string) error {
	if u.WithdrawalPasswordHash == "" {
		return generic.ErrPasswordNotSet
	}
	err := bcrypt.CompareHashAndPassword([]byte(u.WithdrawalPasswordHash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return generic.ErrWrongPassword
	}
	return err
}

// ApproveWithdrawal debits the full amount from the user's balance and
// marks the withdrawal approved. The balance is re-checked here: two
// approvals racing for the same funds cannot both succeed.
func (s *Service) ApproveWithdrawal(ctx context.Context, adminID generic.UserID, id string) (*generic.Withdrawal, error) {
	if err := s.CheckAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	var out generic.Withdrawal
	err := generic.RunAtomic(ctx, s.Store, func(st generic.Store, comp *generic.Compensator) error {
		w, err := st.GetWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		if w.Status != generic.WithdrawalPending {
			return &generic.StateConflictError{Kind: "withdrawal", ID: id, Status: string(w.Status)}
		}

		prev := *w
		next := *w
		next.Status = generic.WithdrawalApproved
		next.ApprovedBy = adminID
		next.UpdatedAt = s.now()
		if err := st.TransitionWithdrawal(ctx, next, generic.WithdrawalPending); err != nil {
			return err
		}
		comp.OnFailure(func(ctx context.Context) error {
			return st.TransitionWithdrawal(ctx, prev, generic.WithdrawalApproved)
		})

		_, err = s.Mutator.Apply(ctx, st, generic.Change{
			UserID: w.UserID,
			Legs: []generic.Leg{
				{Wallet: generic.WalletBalance, Delta: w.Amount.Neg(), Kind: generic.EntryWithdrawalDebit},
			},
			ReferenceID:    w.ID,
			IdempotencyKey: "withdrawal:" + w.ID,
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		if errors.Is(err, generic.ErrInsufficientFunds) {
			s.Log.Warn("withdrawal approval refused",
				zap.String("withdrawal_id", id),
				zap.Error(err))
		}
		return nil, err
	}

	s.Log.Info("withdrawal approved",
		zap.String("withdrawal_id", id),
		zap.String("user_id", string(out.UserID)),
		zap.String("admin_id", string(adminID)),
		zap.String("amount", out.Amount.String()))
	return &out, nil
}

// RejectWithdrawal marks a pending withdrawal rejected. No wallet changes.
func (s *Service) RejectWithdrawal(ctx context.Context, adminID generic.UserID, id, reason string) (*generic.Withdrawal, error) {
	if err := s.CheckAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	w, err := s.Store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != generic.WithdrawalPending {
		return nil, &generic.StateConflictError{Kind: "withdrawal", ID: id, Status: string(w.Status)}
	}
	if reason == "" {
		reason = "Rejected by admin"
	}

	next := *w
	next.Status = generic.WithdrawalRejected
	next.ApprovedBy = adminID
	next.RejectedReason = reason
	next.UpdatedAt = s.now()
	if err := s.Store.TransitionWithdrawal(ctx, next, generic.WithdrawalPending); err != nil {
		return nil, generic.Persist("reject withdrawal", err)
	}

	s.Log.Info("withdrawal rejected",
		zap.String("withdrawal_id", id),
		zap.String("admin_id", string(adminID)),
		zap.String("reason", reason))
	return &next, nil
}

// UserWithdrawals lists one user's withdrawals, newest first.
func (s *Service) UserWithdrawals(ctx context.Context, userID generic.UserID) ([]generic.Withdrawal, error) {
	list, err := s.Store.ListWithdrawals(ctx, userID, "")
	if err != nil {
		return nil, generic.Persist("list withdrawals", err)
	}
	return list, nil
}

// ListWithdrawals lists every user's withdrawals, optionally by status.
// Admin only.
func (s *Service) ListWithdrawals(ctx context.Context, adminID generic.UserID, status generic.WithdrawalStatus) ([]generic.Withdrawal, error) {
	if err := s.CheckAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	list, err := s.Store.ListWithdrawals(ctx, "", status)
	if err != nil {
		return nil, generic.Persist("list withdrawals", err)
	}
	return list, nil
}
