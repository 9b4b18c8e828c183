/*
handlers.go - HTTP API handlers for the referral ledger

PURPOSE:
  Exposes the ledger over REST. Handlers parse and validate the request,
  take the caller's identity from the auth middleware, call exactly one
  domain operation, and serialize the result. No money is computed here.

ENDPOINTS:
  Public:
    POST   /api/register                  Create account (optional referral code)
    GET    /api/products                  Catalog with weekend lock flags

  User (bearer token):
    GET    /api/me                        Profile, wallets, referral count
    GET    /api/investments               My investments
    POST   /api/investments               Buy a product
    GET    /api/checkin                   Check-in history and today's reward
    POST   /api/checkin                   Daily check-in
    POST   /api/recharge                  Request a deposit
    POST   /api/recharge/transfer         recharge_wallet -> balance
    GET    /api/withdraw                  My withdrawals
    POST   /api/withdraw                  Request a payout
    POST   /api/withdrawal-password       Set withdrawal password
    GET    /api/bank-account              Saved payout account
    POST   /api/bank-account              Save payout account
    GET    /api/ledger                    My journal

  Service (X-Service-Key):
    POST   /api/investments/process       Run settlement now
    GET    /api/investments/process       Progress of active investments

  Admin (bearer token + is_admin):
    GET    /api/admin/withdrawals         List (?status=)
    POST   /api/admin/withdrawals         Approve / reject
    GET    /api/admin/recharges           List (?status=)
    POST   /api/admin/recharges           Approve / reject
    GET    /api/admin/users               List with totals (?search=)
    POST   /api/admin/users               Override wallet or flags
    GET    /api/admin/investments         All investments (?status=, ?search=)
    GET    /api/admin/stats               Platform totals
    GET    /api/admin/settlement-runs     Run history (?limit=)
    GET    /api/admin/ledger/{userID}     Journal + reconciliation for a user

ERROR HANDLING:
  Domain errors map to status codes in errors.go:
  - 400: Validation, insufficient funds, state conflicts, check-in repeats
  - 401: Missing/invalid token or service key, wrong withdrawal password
  - 403: Suspended account, not an admin
  - 404: Record not found
  - 409: Lost an optimistic race after retries
  - 500: Store failures (details logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Token and service key middleware
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/referral-ledger/generic"
	"github.com/warp/referral-ledger/investment"
	"github.com/warp/referral-ledger/rewards"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       generic.Store
	Investments *investment.Controller
	Rewards     *rewards.Service
	Settlements *SettlementScheduler
	Auth        *Authenticator
	Log         *zap.Logger
	Now         func() time.Time

	validate *validator.Validate
}

// NewHandler creates a handler. The scheduler is used for manual runs even
// when its ticker is not started.
func NewHandler(s generic.Store, inv *investment.Controller, rw *rewards.Service, sched *SettlementScheduler, auth *Authenticator, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:       s,
		Investments: inv,
		Rewards:     rw,
		Settlements: sched,
		Auth:        auth,
		Log:         log.Named("api"),
		Now:         time.Now,
		validate:    newValidator(),
	}
}

// caller returns the authenticated user. Routes using it sit behind
// RequireUser.
func caller(r *http.Request) generic.UserID {
	id, _ := UserFrom(r.Context())
	return id
}

// =============================================================================
// PUBLIC
// =============================================================================

// Health reports whether the store answers. Stores without Ping are
// always healthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.requestLog(r).Error("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Register creates an account and returns a token for it.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	u, err := h.Rewards.Register(r.Context(), rewards.RegisterInput{
		Email:        req.Email,
		FullName:     req.FullName,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := h.Auth.Mint(u.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{User: toUserDTO(*u), Token: token})
}

// ListProducts returns the catalog. Weekend-only products are flagged
// locked on weekdays in the reference zone.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Investments.Offerings(h.Now()))
}

// =============================================================================
// ACCOUNT
// =============================================================================

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	p, err := h.Rewards.Profile(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{User: toUserDTO(p.User), ReferralCount: p.ReferralCount, HasPassword: p.HasPassword})
}

func (h *Handler) SetWithdrawalPassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Rewards.SetWithdrawalPassword(r.Context(), caller(r), req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Withdrawal password set successfully"})
}

func (h *Handler) GetBankAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Rewards.PayoutAccount(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BankAccountDTO{
		PaymentMethod: string(acct.PaymentMethod),
		AccountName:   acct.AccountName,
		PhoneNumber:   acct.PhoneNumber,
	})
}

func (h *Handler) UpdateBankAccount(w http.ResponseWriter, r *http.Request) {
	var req BankAccountRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	acct, err := h.Rewards.UpdatePayoutAccount(r.Context(), caller(r), rewards.PayoutAccount{
		PaymentMethod: rewards.PaymentMethod(req.PaymentMethod),
		AccountName:   req.AccountName,
		PhoneNumber:   req.PhoneNumber,
		Password:      req.Password,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BankAccountDTO{
		PaymentMethod: string(acct.PaymentMethod),
		AccountName:   acct.AccountName,
		PhoneNumber:   acct.PhoneNumber,
	})
}

func (h *Handler) GetMyLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Rewards.Journal(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerEntryDTOs(entries))
}

// =============================================================================
// INVESTMENTS
// =============================================================================

// CreateInvestment buys PurchaseCount units of a product. The submitted
// terms must match the catalog.
func (h *Handler) CreateInvestment(w http.ResponseWriter, r *http.Request) {
	var req CreateInvestmentRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.Investments.Create(r.Context(), caller(r), investment.CreateInput{
		ProductID:     req.ProductID,
		ProductName:   req.ProductName,
		Price:         req.Price,
		PurchaseCount: req.PurchaseCount,
		DailyIncome:   req.DailyIncome,
		IncomePeriod:  req.IncomePeriod,
		WalletType:    investment.WalletType(req.WalletType),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateInvestmentResponse{
		Investment: toInvestmentDTO(res.Investment),
		NewBalance: res.NewBalance,
	})
}

func (h *Handler) ListMyInvestments(w http.ResponseWriter, r *http.Request) {
	invs, err := h.Investments.ListForUser(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]InvestmentDTO, len(invs))
	for i, inv := range invs {
		dtos[i] = toInvestmentDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ProcessInvestments runs settlement now and returns the batch summary.
func (h *Handler) ProcessInvestments(w http.ResponseWriter, r *http.Request) {
	run, res, err := h.Settlements.RunNow(r.Context(), generic.TriggerManual)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResultDTO(run.ID, res))
}

// InvestmentStatus reports the progress of every active investment.
func (h *Handler) InvestmentStatus(w http.ResponseWriter, r *http.Request) {
	views, err := h.Investments.Status(r.Context(), h.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]InvestmentStatusDTO, len(views))
	for i, v := range views {
		dtos[i] = InvestmentStatusDTO{
			InvestmentID:  string(v.InvestmentID),
			UserID:        string(v.UserID),
			ProductName:   v.ProductName,
			DaysPassed:    v.DaysPassed,
			DaysRemaining: v.DaysRemaining,
			IsCompleted:   v.IsCompleted,
			EarningsSoFar: v.EarningsSoFar,
			TotalEarnings: v.TotalEarnings,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_investments": len(dtos),
		"investments":        dtos,
		"next_run_at":        formatTime(h.Settlements.NextRunTime()),
	})
}

// =============================================================================
// CHECK-IN
// =============================================================================

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	res, err := h.Rewards.CheckIn(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckInResponse{
		Reward:        res.CheckIn.Amount,
		BaseReward:    res.BaseReward,
		BonusReward:   res.BonusReward,
		ReferralCount: res.ReferralCount,
		NewBalance:    res.NewBalance,
		Day:           res.CheckIn.Day,
	})
}

func (h *Handler) CheckInStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.Rewards.Preview(ctx, caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	history, err := h.Rewards.History(ctx, caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := CheckInStatusResponse{
		Reward:         p.Reward,
		ReferralCount:  p.ReferralCount,
		CheckedInToday: p.CheckedInToday,
		TotalCheckIns:  p.TotalCheckIns,
		TotalEarned:    p.TotalEarned,
		History:        make([]CheckInDTO, len(history)),
	}
	for i, ci := range history {
		resp.History[i] = CheckInDTO{ID: ci.ID, Amount: ci.Amount, Day: ci.Day, CreatedAt: formatTime(ci.CreatedAt)}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// RECHARGE AND WITHDRAWAL
// =============================================================================

func (h *Handler) RequestRecharge(w http.ResponseWriter, r *http.Request) {
	var req RechargeRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	rc, err := h.Rewards.RequestRecharge(r.Context(), caller(r), rewards.RechargeInput{
		Amount:        req.Amount,
		PaymentMethod: rewards.PaymentMethod(req.PaymentMethod),
		PaidNumber:    req.PaidNumber,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRechargeDTO(*rc))
}

func (h *Handler) TransferRecharge(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.Rewards.TransferRecharge(r.Context(), caller(r), req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferResponse{Amount: res.Amount, Balance: res.Balance, RechargeWallet: res.RechargeWallet})
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	wd, err := h.Rewards.RequestWithdrawal(r.Context(), caller(r), rewards.WithdrawalInput{
		Amount:        req.Amount,
		Password:      req.Password,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalDTO(*wd))
}

func (h *Handler) ListMyWithdrawals(w http.ResponseWriter, r *http.Request) {
	list, err := h.Rewards.UserWithdrawals(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTOs(list))
}

// =============================================================================
// ADMIN
// =============================================================================

func (h *Handler) AdminListWithdrawals(w http.ResponseWriter, r *http.Request) {
	status := generic.WithdrawalStatus(r.URL.Query().Get("status"))
	list, err := h.Rewards.ListWithdrawals(r.Context(), caller(r), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTOs(list))
}

func (h *Handler) AdminReviewWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	var (
		wd  *generic.Withdrawal
		err error
	)
	if req.Action == "approve" {
		wd, err = h.Rewards.ApproveWithdrawal(r.Context(), caller(r), req.ID)
	} else {
		wd, err = h.Rewards.RejectWithdrawal(r.Context(), caller(r), req.ID, req.Reason)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(*wd))
}

func (h *Handler) AdminListRecharges(w http.ResponseWriter, r *http.Request) {
	status := generic.RechargeStatus(r.URL.Query().Get("status"))
	list, err := h.Rewards.ListRecharges(r.Context(), caller(r), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]RechargeDTO, len(list))
	for i, rc := range list {
		dtos[i] = toRechargeDTO(rc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) AdminReviewRecharge(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	var (
		rc  *generic.Recharge
		err error
	)
	if req.Action == "approve" {
		rc, err = h.Rewards.ApproveRecharge(r.Context(), caller(r), req.ID)
	} else {
		rc, err = h.Rewards.RejectRecharge(r.Context(), caller(r), req.ID, req.Reason)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRechargeDTO(*rc))
}

func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.Rewards.ListUsers(r.Context(), caller(r), r.URL.Query().Get("search"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]UserSummaryDTO, len(list))
	for i, s := range list {
		dtos[i] = toUserSummaryDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AdminListInvestments lists every user's investments. ?status= takes
// active, completed or all (default); ?search= matches owner and product.
func (h *Handler) AdminListInvestments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.Rewards.ListInvestments(r.Context(), caller(r), q.Get("status"), q.Get("search"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]AdminInvestmentDTO, len(list))
	for i, s := range list {
		dtos[i] = toAdminInvestmentDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) AdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req AdminUserRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.Rewards.AdminUpdateUser(r.Context(), caller(r), generic.UserID(req.UserID), rewards.AdminUpdate{
		Action: rewards.AdminAction(req.Action),
		Value:  req.Value,
		Reason: req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Rewards.Stats(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(st))
}

func (h *Handler) AdminListSettlementRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, r, generic.Invalid("limit", "must be a positive integer"))
			return
		}
		limit = n
	}
	runs, err := h.Store.ListSettlementRuns(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, generic.Persist("list settlement runs", err))
		return
	}
	dtos := make([]SettlementRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toSettlementRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AdminUserLedger returns a user's journal and whether it replays to the
// stored wallets.
func (h *Handler) AdminUserLedger(w http.ResponseWriter, r *http.Request) {
	userID := generic.UserID(chi.URLParam(r, "userID"))
	rec, err := h.Rewards.Reconcile(r.Context(), caller(r), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !rec.Balanced() {
		h.requestLog(r).Warn("journal does not replay to stored wallets",
			zap.String("user_id", string(userID)),
			zap.String("balance", rec.Balance.String()),
			zap.String("replayed_balance", rec.ReplayedBalance.String()))
	}
	writeJSON(w, http.StatusOK, LedgerResponse{
		UserID:   string(userID),
		Balanced: rec.Balanced(),
		Entries:  toLedgerEntryDTOs(rec.Entries),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func toWithdrawalDTOs(list []generic.Withdrawal) []WithdrawalDTO {
	dtos := make([]WithdrawalDTO, len(list))
	for i, wd := range list {
		dtos[i] = toWithdrawalDTO(wd)
	}
	return dtos
}

func toLedgerEntryDTOs(entries []generic.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = LedgerEntryDTO{
			ID:          e.ID,
			Wallet:      string(e.Wallet),
			Delta:       e.Delta,
			Kind:        string(e.Kind),
			ReferenceID: e.ReferenceID,
			CreatedAt:   formatTime(e.CreatedAt),
		}
	}
	return dtos
}
