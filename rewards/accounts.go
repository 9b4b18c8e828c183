package rewards

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/referral-ledger/generic"
)

// =============================================================================
// REGISTRATION
// =============================================================================

// newReferralCode returns an 8 character upper-case code.
func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Register creates an account. If ReferralCode names an existing user,
// that user becomes the referrer and the link is recorded.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*generic.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Email == "" {
		return nil, generic.Invalid("email", "email is required")
	}

	var referrer *generic.User
	if code := strings.TrimSpace(in.ReferralCode); code != "" {
		r, err := s.Store.GetUserByReferralCode(ctx, strings.ToUpper(code))
		if err != nil {
			if generic.IsNotFound(err) {
				return nil, generic.Invalid("referral_code", "invalid referral code")
			}
			return nil, err
		}
		referrer = r
	}

	now := s.now()
	u := generic.User{
		ID:             generic.UserID(s.NewID()),
		Email:          in.Email,
		FullName:       strings.TrimSpace(in.FullName),
		ReferralCode:   s.NewRefCode(),
		Balance:        generic.Zero,
		RechargeWallet: generic.Zero,
		TotalRecharge:  generic.Zero,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if referrer != nil {
		u.ReferredBy = referrer.ID
	}

	err := generic.RunAtomic(ctx, s.Store, func(st generic.Store, _ *generic.Compensator) error {
		if err := st.CreateUser(ctx, u); err != nil {
			return generic.Persist("create user", err)
		}
		if referrer == nil {
			return nil
		}
		return generic.Persist("insert referral", st.InsertReferral(ctx, generic.Referral{
			ID:         s.NewID(),
			ReferrerID: referrer.ID,
			ReferredID: u.ID,
			CreatedAt:  now,
		}))
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("user registered",
		zap.String("user_id", string(u.ID)),
		zap.String("referred_by", string(u.ReferredBy)))
	return &u, nil
}

// =============================================================================
// PROFILE AND PAYOUT ACCOUNT
// =============================================================================

// Profile returns the account overview.
func (s *Service) Profile(ctx context.Context, userID generic.UserID) (*Profile, error) {
	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	n, err := s.Store.CountReferrals(ctx, userID)
	if err != nil {
		return nil, generic.Persist("count referrals", err)
	}
	return &Profile{User: *u, ReferralCount: n, HasPassword: u.WithdrawalPasswordHash != ""}, nil
}

// SetWithdrawalPassword stores a bcrypt hash of password. It needs at least
// four characters.
func (s *Service) SetWithdrawalPassword(ctx context.Context, userID generic.UserID, password string) error {
	if len(password) < 4 {
		return generic.Invalid("password", "password must be at least 4 characters")
	}
	u, err := s.activeUser(ctx, userID)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.HashCost)
	if err != nil {
		return err
	}
	if err := s.Store.UpdateUserProfile(ctx, u.ID, generic.ProfileUpdate{
		WithdrawalPasswordHash: generic.Ptr(string(hash)),
	}); err != nil {
		return generic.Persist("update user", err)
	}
	s.Log.Info("withdrawal password set", zap.String("user_id", string(userID)))
	return nil
}

// PayoutAccount returns the saved payout account. Password is never
// returned.
func (s *Service) PayoutAccount(ctx context.Context, userID generic.UserID) (*PayoutAccount, error) {
	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &PayoutAccount{
		PaymentMethod: PaymentMethod(u.PaymentMethod),
		AccountName:   u.AccountName,
		PhoneNumber:   u.AccountPhoneNumber,
	}, nil
}

// UpdatePayoutAccount saves where withdrawals are paid. Once an account is
// set, changing it needs the withdrawal password.
func (s *Service) UpdatePayoutAccount(ctx context.Context, userID generic.UserID, in PayoutAccount) (*PayoutAccount, error) {
	if in.PaymentMethod == "" {
		return nil, generic.Invalid("payment_method", "payment method is required")
	}
	if !in.PaymentMethod.valid() {
		return nil, generic.Invalid("payment_method", "must be MTN or Airtel")
	}
	name := strings.TrimSpace(in.AccountName)
	if name == "" {
		return nil, generic.Invalid("account_name", "account name is required")
	}
	phone, err := normalizePhone(in.PhoneNumber)
	if err != nil {
		return nil, err
	}

	u, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.AccountPhoneNumber != "" {
		if in.Password == "" {
			return nil, generic.Invalid("password", "password is required to update bank account details")
		}
		if err := s.checkPassword(u, in.Password); err != nil {
			return nil, err
		}
	}

	if err := s.Store.UpdateUserProfile(ctx, u.ID, generic.ProfileUpdate{
		PaymentMethod:      generic.Ptr(string(in.PaymentMethod)),
		AccountName:        &name,
		AccountPhoneNumber: &phone,
	}); err != nil {
		return nil, generic.Persist("update user", err)
	}

	s.Log.Info("payout account updated",
		zap.String("user_id", string(userID)),
		zap.String("payment_method", string(in.PaymentMethod)))
	return &PayoutAccount{PaymentMethod: in.PaymentMethod, AccountName: name, PhoneNumber: phone}, nil
}

// normalizePhone keeps digits only and stores the local nine-digit number.
// "+250 788 123 456" and "0788123456" both become "788123456".
func normalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "250") && len(digits) == 12 {
		digits = digits[3:]
	}
	if len(digits) < 9 || len(digits) > 10 {
		return "", generic.Invalid("phone_number", "invalid phone number")
	}
	return digits[len(digits)-9:], nil
}

// =============================================================================
// ADMIN
// =============================================================================

// AdminUpdateUser applies one admin override. Wallet overrides set the
// wallet to the given value and journal the difference as an
// admin_adjustment, so the ledger still replays to the stored balance. The
// difference is taken inside the version-checked write. Flag actions only
// write the flag they name.
func (s *Service) AdminUpdateUser(ctx context.Context, adminID, userID generic.UserID, upd AdminUpdate) (*generic.User, error) {
	if err := s.CheckAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch upd.Action {
	case ActionUpdateBalance, ActionUpdateRechargeWallet:
		if upd.Value == nil || upd.Value.IsNegative() {
			return nil, generic.Invalid("value", "a non-negative value is required")
		}
		wallet := generic.WalletBalance
		if upd.Action == ActionUpdateRechargeWallet {
			wallet = generic.WalletRecharge
		}
		ref := s.NewID()
		u, err = s.Mutator.Apply(ctx, s.Store, generic.Change{
			UserID:         userID,
			Legs:           []generic.Leg{{Wallet: wallet, Target: upd.Value, Kind: generic.EntryAdminAdjustment}},
			ReferenceID:    ref,
			IdempotencyKey: "admin:" + ref,
		})
		if err != nil {
			return nil, err
		}

	case ActionSuspend, ActionActivate, ActionMakeAdmin, ActionRemoveAdmin:
		var p generic.ProfileUpdate
		switch upd.Action {
		case ActionSuspend:
			if userID == adminID {
				return nil, generic.Invalid("user_id", "cannot suspend your own account")
			}
			p.IsActive = generic.Ptr(false)
		case ActionActivate:
			p.IsActive = generic.Ptr(true)
		case ActionMakeAdmin:
			p.IsAdmin = generic.Ptr(true)
		case ActionRemoveAdmin:
			p.IsAdmin = generic.Ptr(false)
		}
		if err := s.Store.UpdateUserProfile(ctx, userID, p); err != nil {
			return nil, generic.Persist("update user", err)
		}
		if u, err = s.Store.GetUser(ctx, userID); err != nil {
			return nil, err
		}

	default:
		return nil, generic.Invalid("action", "invalid action %q", upd.Action)
	}

	s.Log.Info("admin updated user",
		zap.String("admin_id", string(adminID)),
		zap.String("user_id", string(userID)),
		zap.String("action", string(upd.Action)),
		zap.String("reason", upd.Reason))
	return u, nil
}

// ListUsers returns every user with activity totals, newest first. search
// matches email, full name or referral code, case-insensitively.
func (s *Service) ListUsers(ctx context.Context, adminID generic.UserID, search string) ([]UserSummary, error) {
	if err := s.CheckAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	users, err := s.Store.ListUsers(ctx)
	if err != nil {
		return nil, generic.Persist("list users", err)
	}

	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		if search != "" && !matchesUser(u, search) {
			continue
		}
		sum, err := s.summarize(ctx, u)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

func matchesUser(u generic.User, search string) bool {
	return strings.Contains(strings.ToLower(u.Email), search) ||
		strings.Contains(strings.ToLower(u.FullName), search) ||
		strings.Contains(strings.ToLower(u.ReferralCode), search)
}

// ListInvestments returns investments across all users, newest first, with
// the owner's email and name. status is "active", "completed", or "" and
// "all" for both. search matches the owner's email or full name and the
// product name, case-insensitively.
func (s *Service) ListInvestments(ctx context.Context, adminID generic.UserID, status, search string) ([]InvestmentSummary, error) {
	if err := s.CheckAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	var f generic.InvestmentFilter
	switch st := generic.InvestmentStatus(status); st {
	case "", "all":
	case generic.InvestmentActive, generic.InvestmentCompleted:
		f.Status = st
	default:
		return nil, generic.Invalid("status", "must be active, completed or all")
	}

	invs, err := s.Store.ListInvestments(ctx, f)
	if err != nil {
		return nil, generic.Persist("list investments", err)
	}
	users, err := s.Store.ListUsers(ctx)
	if err != nil {
		return nil, generic.Persist("list users", err)
	}
	byID := make(map[generic.UserID]generic.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]InvestmentSummary, 0, len(invs))
	for i := len(invs) - 1; i >= 0; i-- {
		owner := byID[invs[i].UserID]
		row := InvestmentSummary{Investment: invs[i], UserEmail: owner.Email, UserName: owner.FullName}
		if search != "" && !matchesInvestment(row, search) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func matchesInvestment(row InvestmentSummary, search string) bool {
	return strings.Contains(strings.ToLower(row.UserEmail), search) ||
		strings.Contains(strings.ToLower(row.UserName), search) ||
		strings.Contains(strings.ToLower(row.Investment.ProductName), search)
}

func (s *Service) summarize(ctx context.Context, u generic.User) (UserSummary, error) {
	sum := UserSummary{User: u, TotalInvestments: generic.Zero, TotalWithdrawals: generic.Zero}

	n, err := s.Store.CountReferrals(ctx, u.ID)
	if err != nil {
		return sum, generic.Persist("count referrals", err)
	}
	sum.ReferralCount = n

	invs, err := s.Store.ListInvestments(ctx, generic.InvestmentFilter{UserID: u.ID})
	if err != nil {
		return sum, generic.Persist("list investments", err)
	}
	for _, inv := range invs {
		sum.TotalInvestments = sum.TotalInvestments.Add(inv.Amount)
		if inv.Status == generic.InvestmentActive {
			sum.ActiveInvestments++
		}
	}

	ws, err := s.Store.ListWithdrawals(ctx, u.ID, "")
	if err != nil {
		return sum, generic.Persist("list withdrawals", err)
	}
	for _, w := range ws {
		sum.TotalWithdrawals = sum.TotalWithdrawals.Add(w.Amount)
	}
	return sum, nil
}

// Stats returns platform-wide totals.
func (s *Service) Stats(ctx context.Context, adminID generic.UserID) (*Stats, error) {
	if err := s.CheckAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	st := &Stats{
		TotalBalance:        generic.Zero,
		TotalRechargeWallet: generic.Zero,
		TotalInvestments:    generic.Zero,
		TotalWithdrawals:    generic.Zero,
		ApprovedWithdrawals: generic.Zero,
		PendingWithdrawals:  generic.Zero,
		TotalRecharges:      generic.Zero,
		CompletedRecharges:  generic.Zero,
		TotalCheckIns:       generic.Zero,
	}

	users, err := s.Store.ListUsers(ctx)
	if err != nil {
		return nil, generic.Persist("list users", err)
	}
	for _, u := range users {
		st.TotalUsers++
		if u.IsActive {
			st.ActiveUsers++
		} else {
			st.SuspendedUsers++
		}
		st.TotalBalance = st.TotalBalance.Add(u.Balance)
		st.TotalRechargeWallet = st.TotalRechargeWallet.Add(u.RechargeWallet)
	}

	invs, err := s.Store.ListInvestments(ctx, generic.InvestmentFilter{})
	if err != nil {
		return nil, generic.Persist("list investments", err)
	}
	for _, inv := range invs {
		st.TotalInvestments = st.TotalInvestments.Add(inv.Amount)
		if inv.Status == generic.InvestmentActive {
			st.ActiveInvestments++
		}
	}

	ws, err := s.Store.ListWithdrawals(ctx, "", "")
	if err != nil {
		return nil, generic.Persist("list withdrawals", err)
	}
	for _, w := range ws {
		st.TotalWithdrawals = st.TotalWithdrawals.Add(w.Amount)
		switch w.Status {
		case generic.WithdrawalApproved:
			st.ApprovedWithdrawals = st.ApprovedWithdrawals.Add(w.Amount)
		case generic.WithdrawalPending:
			st.PendingWithdrawals = st.PendingWithdrawals.Add(w.Amount)
			st.PendingWithdrawalsCount++
		}
	}

	rs, err := s.Store.ListRecharges(ctx, "")
	if err != nil {
		return nil, generic.Persist("list recharges", err)
	}
	for _, r := range rs {
		st.TotalRecharges = st.TotalRecharges.Add(r.Amount)
		if r.Status == generic.RechargeCompleted {
			st.CompletedRecharges = st.CompletedRecharges.Add(r.Amount)
		}
	}

	cis, err := s.Store.ListCheckIns(ctx, "")
	if err != nil {
		return nil, generic.Persist("list check-ins", err)
	}
	for _, ci := range cis {
		st.TotalCheckIns = st.TotalCheckIns.Add(ci.Amount)
	}

	refs, err := s.Store.ListReferrals(ctx)
	if err != nil {
		return nil, generic.Persist("list referrals", err)
	}
	st.TotalReferrals = len(refs)
	return st, nil
}

// Journal returns a user's ledger entries, oldest first.
func (s *Service) Journal(ctx context.Context, userID generic.UserID) ([]generic.LedgerEntry, error) {
	entries, err := s.Store.ListEntries(ctx, userID)
	if err != nil {
		return nil, generic.Persist("list entries", err)
	}
	return entries, nil
}

// Reconcile replays a user's journal against the stored wallets.
func (s *Service) Reconcile(ctx context.Context, adminID, userID generic.UserID) (*generic.Reconciliation, error) {
	if err := s.CheckAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	return generic.Reconcile(ctx, s.Store, userID)
}
