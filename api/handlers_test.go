/*
handlers_test.go - HTTP tests for the API

Tests for:
- Registration, auth middleware and role checks
- Recharge -> transfer -> check-in -> withdrawal over HTTP
- Investment purchase and the service-key settlement trigger
- Error to status mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/referral-ledger/factory"
	"github.com/warp/referral-ledger/generic"
	"github.com/warp/referral-ledger/generic/store"
	"github.com/warp/referral-ledger/investment"
	"github.com/warp/referral-ledger/rewards"
)

const testServiceKey = "svc-secret"

// Monday 2026-03-02, 10:00 in Kigali.
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	h      *Handler
	store  generic.Store
	router http.Handler
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cal, err := generic.NewCalendar("Africa/Kigali")
	require.NoError(t, err)

	env := &testEnv{store: store.NewMemory(), now: testNow}
	clock := func() time.Time { return env.now }

	inv := investment.NewController(env.store, factory.DefaultCatalog(), cal, nil)
	inv.Now = clock
	rw := rewards.NewService(env.store, cal, nil)
	rw.Now = clock
	rw.HashCost = bcrypt.MinCost
	sched := NewSettlementScheduler(env.store, inv, nil)
	sched.Now = clock
	auth := NewAuthenticator("test-secret", "referral-ledger", time.Hour, testServiceKey)
	auth.Now = clock

	env.h = NewHandler(env.store, inv, rw, sched, auth, nil)
	env.h.Now = clock
	env.router = NewRouter(env.h, []string{"*"})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) register(t *testing.T, email, referralCode string) RegisterResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/register", "", map[string]string{
		"email":         email,
		"referral_code": referralCode,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeJSON[RegisterResponse](t, rec)
}

func (e *testEnv) admin(t *testing.T) string {
	t.Helper()
	reg := e.register(t, "admin@example.com", "")
	require.NoError(t, e.store.UpdateUserProfile(context.Background(), generic.UserID(reg.User.ID),
		generic.ProfileUpdate{IsAdmin: generic.Ptr(true)}))
	return reg.Token
}

func assertAmount(t *testing.T, expected int64, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.NewFromInt(expected).Equal(actual), "expected %d, got %s", expected, actual)
}

// fund deposits amount through the HTTP approval flow and transfers it to
// the spendable balance.
func (e *testEnv) fund(t *testing.T, token, adminToken string, amount int64) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/recharge", token, map[string]any{"amount": amount})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rc := decodeJSON[RechargeDTO](t, rec)

	rec = e.do(t, http.MethodPost, "/api/admin/recharges", adminToken, map[string]string{"id": rc.ID, "action": "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/recharge/transfer", token, map[string]any{"amount": amount})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// =============================================================================
// PUBLIC AND AUTH
// =============================================================================

func TestRouter_Healthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegister_ReferralCountShowsOnMe(t *testing.T) {
	// GIVEN: A user and a second user registered with their code
	env := newTestEnv(t)
	alice := env.register(t, "Alice@Example.com", "")
	bob := env.register(t, "bob@example.com", alice.User.ReferralCode)

	// THEN: Emails are normalized and the link is recorded
	assert.Equal(t, "alice@example.com", alice.User.Email)
	assert.Equal(t, alice.User.ID, bob.User.ReferredBy)

	rec := env.do(t, http.MethodGet, "/api/me", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeJSON[MeResponse](t, rec)
	assert.Equal(t, 1, me.ReferralCount)
	assert.False(t, me.HasPassword)
	assertAmount(t, 0, me.User.Balance)
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/register", "", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeJSON[ErrorResponse](t, rec).Error, "email")

	rec = env.do(t, http.MethodPost, "/api/register", "", map[string]string{"email": "a@example.com", "role": "admin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/register", "", map[string]string{"email": "a@example.com", "referral_code": "NOPE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeJSON[ErrorResponse](t, rec).Error, "referral")
}

func TestAuth_RejectsMissingAndExpiredTokens(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com", "")

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/me", "garbage", nil).Code)

	env.now = env.now.Add(2 * time.Hour)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/me", alice.Token, nil).Code)
}

func TestAuth_AdminRoutesNeedAdmin(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com", "")
	adminToken := env.admin(t)

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/admin/stats", alice.Token, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/admin/stats", adminToken, nil).Code)
}

func TestAuth_SuspendedUserCannotCheckIn(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com", "")
	adminToken := env.admin(t)

	rec := env.do(t, http.MethodPost, "/api/admin/users", adminToken, map[string]string{"user_id": alice.User.ID, "action": "suspend"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decodeJSON[UserDTO](t, rec).IsActive)

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/api/checkin", alice.Token, nil).Code)
}

func TestProducts_WeekendProductsLockedOnWeekday(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	offers := decodeJSON[[]investment.Offering](t, rec)
	require.NotEmpty(t, offers)
	for _, o := range offers {
		assert.Equal(t, o.WeekendOnly, o.Locked, o.ID)
	}
}

// =============================================================================
// MONEY FLOWS
// =============================================================================

func TestFlow_RechargeCheckInWithdraw(t *testing.T) {
	// GIVEN: A user with a funded balance and payout details
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com", "")
	adminToken := env.admin(t)
	env.fund(t, alice.Token, adminToken, 30000)

	rec := env.do(t, http.MethodPost, "/api/withdrawal-password", alice.Token, map[string]string{"password": "1234"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/api/bank-account", alice.Token, map[string]string{
		"payment_method": "MTN",
		"account_name":   "Alice",
		"phone_number":   "+250 788 123 456",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "788123456", decodeJSON[BankAccountDTO](t, rec).PhoneNumber)

	// WHEN: They check in and withdraw 20000
	rec = env.do(t, http.MethodPost, "/api/checkin", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ci := decodeJSON[CheckInResponse](t, rec)
	assertAmount(t, 50, ci.Reward)
	assertAmount(t, 30050, ci.NewBalance)
	assert.Equal(t, "2026-03-02", ci.Day)

	rec = env.do(t, http.MethodPost, "/api/withdraw", alice.Token, map[string]any{"amount": 20000, "password": "1234"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	wd := decodeJSON[WithdrawalDTO](t, rec)
	assert.Equal(t, "pending", wd.Status)
	assertAmount(t, 2000, wd.Fee)
	assertAmount(t, 18000, wd.NetAmount)
	assert.Equal(t, "788123456", wd.AccountNumber)

	rec = env.do(t, http.MethodPost, "/api/admin/withdrawals", adminToken, map[string]string{"id": wd.ID, "action": "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: The balance is debited once and the journal replays to it
	me := decodeJSON[MeResponse](t, env.do(t, http.MethodGet, "/api/me", alice.Token, nil))
	assertAmount(t, 10050, me.User.Balance)
	assertAmount(t, 0, me.User.RechargeWallet)
	assertAmount(t, 30000, me.User.TotalRecharge)

	rec = env.do(t, http.MethodGet, "/api/admin/ledger/"+alice.User.ID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ledger := decodeJSON[LedgerResponse](t, rec)
	assert.True(t, ledger.Balanced)
	assert.Len(t, ledger.Entries, 5)

	// Approving again is a state conflict
	rec = env.do(t, http.MethodPost, "/api/admin/withdrawals", adminToken, map[string]string{"id": wd.ID, "action": "approve"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeJSON[ErrorResponse](t, rec).Error, "already approved")
}

func TestCheckIn_SecondTimeSameDayRejected(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com", "")

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/checkin", alice.Token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/checkin", alice.Token, nil).Code)

	rec := env.do(t, http.MethodGet, "/api/checkin", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeJSON[CheckInStatusResponse](t, rec)
	assert.True(t, status.CheckedInToday)
	assert.Equal(t, 1, status.TotalCheckIns)
	assert.Len(t, status.History, 1)
}

func TestWithdraw_Errors(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com", "")
	adminToken := env.admin(t)
	env.fund(t, alice.Token, adminToken, 5000)

	// No password set yet
	rec := env.do(t, http.MethodPost, "/api/withdraw", alice.Token, map[string]any{
		"amount": 2000, "password": "1234", "account_number": "788123456", "account_name": "Alice",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/withdrawal-password", alice.Token, map[string]string{"password": "1234"}).Code)

	// Wrong password
	rec = env.do(t, http.MethodPost, "/api/withdraw", alice.Token, map[string]any{
		"amount": 2000, "password": "9999", "account_number": "788123456", "account_name": "Alice",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Below minimum
	rec = env.do(t, http.MethodPost, "/api/withdraw", alice.Token, map[string]any{
		"amount": 1999, "password": "1234", "account_number": "788123456", "account_name": "Alice",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// More than the balance
	rec = env.do(t, http.MethodPost, "/api/withdraw", alice.Token, map[string]any{
		"amount": 6000, "password": "1234", "account_number": "788123456", "account_name": "Alice",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	list := decodeJSON[[]WithdrawalDTO](t, env.do(t, http.MethodGet, "/api/withdraw", alice.Token, nil))
	assert.Empty(t, list)
}

func TestRecharge_RejectLeavesWalletsAlone(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com", "")
	adminToken := env.admin(t)

	rec := env.do(t, http.MethodPost, "/api/recharge", alice.Token, map[string]any{"amount": 10000, "payment_method": "Airtel"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rc := decodeJSON[RechargeDTO](t, rec)

	rec = env.do(t, http.MethodPost, "/api/admin/recharges", adminToken, map[string]string{"id": rc.ID, "action": "reject", "reason": "no payment"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "rejected", decodeJSON[RechargeDTO](t, rec).Status)

	pending := decodeJSON[[]RechargeDTO](t, env.do(t, http.MethodGet, "/api/admin/recharges?status=pending", adminToken, nil))
	assert.Empty(t, pending)

	me := decodeJSON[MeResponse](t, env.do(t, http.MethodGet, "/api/me", alice.Token, nil))
	assertAmount(t, 0, me.User.RechargeWallet)
	assertAmount(t, 0, me.User.TotalRecharge)
}

func TestAdmin_ReviewRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.admin(t)

	rec := env.do(t, http.MethodPost, "/api/admin/withdrawals", adminToken, map[string]string{"id": "x", "action": "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeJSON[ErrorResponse](t, rec).Error, "action")

	rec = env.do(t, http.MethodPost, "/api/admin/withdrawals", adminToken, map[string]string{"id": "missing", "action": "approve"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// INVESTMENTS AND SETTLEMENT
// =============================================================================

func TestInvestments_CreateAndList(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com", "")
	adminToken := env.admin(t)
	env.fund(t, alice.Token, adminToken, 30000)

	rec := env.do(t, http.MethodPost, "/api/investments", alice.Token, map[string]any{
		"product_id":     "mrna-1",
		"product_name":   "mRNA-1",
		"price":          27000,
		"purchase_count": 1,
		"daily_income":   1134,
		"income_period":  45,
		"wallet_type":    "balance",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeJSON[CreateInvestmentResponse](t, rec)
	assertAmount(t, 3000, created.NewBalance)
	assertAmount(t, 51030, created.Investment.TotalIncome)
	assert.Equal(t, "active", created.Investment.Status)

	list := decodeJSON[[]InvestmentDTO](t, env.do(t, http.MethodGet, "/api/investments", alice.Token, nil))
	require.Len(t, list, 1)
	assert.Equal(t, created.Investment.ID, list[0].ID)
}

func TestInvestments_TamperedTermsRejected(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com", "")
	adminToken := env.admin(t)
	env.fund(t, alice.Token, adminToken, 30000)

	rec := env.do(t, http.MethodPost, "/api/investments", alice.Token, map[string]any{
		"product_id":     "mrna-1",
		"product_name":   "mRNA-1",
		"price":          27000,
		"purchase_count": 1,
		"daily_income":   5000,
		"income_period":  45,
		"wallet_type":    "balance",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	me := decodeJSON[MeResponse](t, env.do(t, http.MethodGet, "/api/me", alice.Token, nil))
	assertAmount(t, 30000, me.User.Balance)
}

func TestInvestments_WalletTypeRequired(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com", "")
	adminToken := env.admin(t)
	env.fund(t, alice.Token, adminToken, 30000)

	buy := map[string]any{
		"product_id":     "mrna-1",
		"product_name":   "mRNA-1",
		"price":          27000,
		"purchase_count": 1,
		"daily_income":   1134,
		"income_period":  45,
	}
	rec := env.do(t, http.MethodPost, "/api/investments", alice.Token, buy)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "wallet_type")

	buy["wallet_type"] = "recharge"
	rec = env.do(t, http.MethodPost, "/api/investments", alice.Token, buy)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	me := decodeJSON[MeResponse](t, env.do(t, http.MethodGet, "/api/me", alice.Token, nil))
	assertAmount(t, 30000, me.User.Balance)
}

func TestAdmin_ListInvestments(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com", "")
	bob := env.register(t, "bob@example.com", "")
	adminToken := env.admin(t)
	env.fund(t, alice.Token, adminToken, 30000)

	rec := env.do(t, http.MethodPost, "/api/investments", alice.Token, map[string]any{
		"product_id":     "mrna-1",
		"product_name":   "mRNA-1",
		"price":          27000,
		"purchase_count": 1,
		"daily_income":   1134,
		"income_period":  45,
		"wallet_type":    "balance",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/admin/investments", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	all := decodeJSON[[]AdminInvestmentDTO](t, rec)
	require.Len(t, all, 1)
	assert.Equal(t, "alice@example.com", all[0].UserEmail)
	assert.Equal(t, alice.User.ID, all[0].UserID)
	assert.Equal(t, "mRNA-1", all[0].ProductName)
	assert.Equal(t, "active", all[0].Status)

	search := decodeJSON[[]AdminInvestmentDTO](t, env.do(t, http.MethodGet, "/api/admin/investments?status=active&search=MRNA", adminToken, nil))
	assert.Len(t, search, 1)
	none := decodeJSON[[]AdminInvestmentDTO](t, env.do(t, http.MethodGet, "/api/admin/investments?search=bob", adminToken, nil))
	assert.Empty(t, none)
	done := decodeJSON[[]AdminInvestmentDTO](t, env.do(t, http.MethodGet, "/api/admin/investments?status=completed", adminToken, nil))
	assert.Empty(t, done)

	rec = env.do(t, http.MethodGet, "/api/admin/investments?status=pending", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/admin/investments", bob.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProcess_RequiresServiceKey(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.admin(t)

	rec := env.do(t, http.MethodPost, "/api/investments/process", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/investments/process", nil)
	req.Header.Set(ServiceKeyHeader, testServiceKey)
	out := httptest.NewRecorder()
	env.router.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code, out.Body.String())
	res := decodeJSON[BatchResultDTO](t, out)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 0, res.Processed)

	runs := decodeJSON[[]SettlementRunDTO](t, env.do(t, http.MethodGet, "/api/admin/settlement-runs?limit=10", adminToken, nil))
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, "manual", runs[0].Trigger)
	assert.Equal(t, "completed", runs[0].Status)

	rec = env.do(t, http.MethodGet, "/api/admin/settlement-runs?limit=0", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcess_EmptyServiceKeyDeniesAll(t *testing.T) {
	env := newTestEnv(t)
	env.h.Auth.ServiceKey = ""

	req := httptest.NewRequest(http.MethodGet, "/api/investments/process", nil)
	req.Header.Set(ServiceKeyHeader, "")
	out := httptest.NewRecorder()
	env.router.ServeHTTP(out, req)
	assert.Equal(t, http.StatusUnauthorized, out.Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", generic.Invalid("amount", "must be positive"), http.StatusBadRequest},
		{"insufficient funds", &generic.InsufficientFundsError{}, http.StatusBadRequest},
		{"state conflict", &generic.StateConflictError{Kind: "withdrawal", ID: "w1", Status: "approved"}, http.StatusBadRequest},
		{"already checked in", generic.ErrAlreadyCheckedIn, http.StatusBadRequest},
		{"unauthenticated", generic.ErrUnauthenticated, http.StatusUnauthorized},
		{"wrong password", generic.ErrWrongPassword, http.StatusUnauthorized},
		{"forbidden", generic.ErrForbidden, http.StatusForbidden},
		{"not found", generic.NotFound("user", "u1"), http.StatusNotFound},
		{"duplicate", generic.ErrDuplicateIdempotencyKey, http.StatusConflict},
		{"persistence", generic.Persist("save", errors.New("disk full")), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
