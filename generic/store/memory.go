// Package store provides in-memory Store implementations.
//
// Memory is non-transactional: RunAtomic falls back to compensations when
// given one. TxMemory adds WithTx with snapshot rollback.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/referral-ledger/generic"
)

// =============================================================================
// TABLES - Unlocked state shared by Memory and its transactional view
// =============================================================================

type tables struct {
	users       map[generic.UserID]generic.User
	investments map[generic.InvestmentID]generic.Investment
	checkIns    map[string]generic.CheckIn
	checkInDays map[string]string // user|day -> check-in id
	referrals   []generic.Referral
	recharges   map[string]generic.Recharge
	withdrawals map[string]generic.Withdrawal
	entries     []generic.LedgerEntry
	entryKeys   map[string]bool
	runs        map[string]generic.SettlementRun
}

func newTables() *tables {
	return &tables{
		users:       make(map[generic.UserID]generic.User),
		investments: make(map[generic.InvestmentID]generic.Investment),
		checkIns:    make(map[string]generic.CheckIn),
		checkInDays: make(map[string]string),
		recharges:   make(map[string]generic.Recharge),
		withdrawals: make(map[string]generic.Withdrawal),
		entryKeys:   make(map[string]bool),
		runs:        make(map[string]generic.SettlementRun),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.users {
		c.users[k] = v
	}
	for k, v := range t.investments {
		c.investments[k] = v
	}
	for k, v := range t.checkIns {
		c.checkIns[k] = v
	}
	for k, v := range t.checkInDays {
		c.checkInDays[k] = v
	}
	c.referrals = append([]generic.Referral{}, t.referrals...)
	for k, v := range t.recharges {
		c.recharges[k] = v
	}
	for k, v := range t.withdrawals {
		c.withdrawals[k] = v
	}
	c.entries = append([]generic.LedgerEntry{}, t.entries...)
	for k, v := range t.entryKeys {
		c.entryKeys[k] = v
	}
	for k, v := range t.runs {
		c.runs[k] = v
	}
	return c
}

// --- users ---

func (t *tables) createUser(u generic.User) error {
	if _, ok := t.users[u.ID]; ok {
		return generic.Invalid("id", "user %s already exists", u.ID)
	}
	for _, other := range t.users {
		if u.Email != "" && other.Email == u.Email {
			return generic.Invalid("email", "email already registered")
		}
		if u.ReferralCode != "" && other.ReferralCode == u.ReferralCode {
			return generic.Invalid("referral_code", "referral code already in use")
		}
	}
	t.users[u.ID] = u
	return nil
}

func (t *tables) getUser(id generic.UserID) (*generic.User, error) {
	u, ok := t.users[id]
	if !ok {
		return nil, generic.NotFound("user", string(id))
	}
	return &u, nil
}

func (t *tables) getUserByReferralCode(code string) (*generic.User, error) {
	for _, u := range t.users {
		if u.ReferralCode == code {
			return &u, nil
		}
	}
	return nil, generic.NotFound("user", code)
}

func (t *tables) listUsers() []generic.User {
	out := make([]generic.User, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (t *tables) saveUserBalances(u generic.User, entries []generic.LedgerEntry) error {
	cur, ok := t.users[u.ID]
	if !ok {
		return generic.NotFound("user", string(u.ID))
	}
	if cur.Version != u.Version {
		return generic.ErrConcurrentModification
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if t.entryKeys[e.IdempotencyKey] || seen[e.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
	}

	cur.Balance = u.Balance
	cur.RechargeWallet = u.RechargeWallet
	cur.TotalRecharge = u.TotalRecharge
	cur.Version++
	cur.UpdatedAt = time.Now().UTC()
	t.users[u.ID] = cur

	for _, e := range entries {
		t.entries = append(t.entries, e)
		if e.IdempotencyKey != "" {
			t.entryKeys[e.IdempotencyKey] = true
		}
	}
	return nil
}

func (t *tables) updateUserProfile(id generic.UserID, p generic.ProfileUpdate) error {
	cur, ok := t.users[id]
	if !ok {
		return generic.NotFound("user", string(id))
	}
	setIf(&cur.FullName, p.FullName)
	setIf(&cur.IsAdmin, p.IsAdmin)
	setIf(&cur.IsActive, p.IsActive)
	setIf(&cur.WithdrawalPasswordHash, p.WithdrawalPasswordHash)
	setIf(&cur.PaymentMethod, p.PaymentMethod)
	setIf(&cur.AccountName, p.AccountName)
	setIf(&cur.AccountPhoneNumber, p.AccountPhoneNumber)
	cur.UpdatedAt = time.Now().UTC()
	t.users[id] = cur
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// --- investments ---

func (t *tables) insertInvestment(inv generic.Investment) error {
	if _, ok := t.investments[inv.ID]; ok {
		return generic.Invalid("id", "investment %s already exists", inv.ID)
	}
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = inv.CreatedAt
	}
	t.investments[inv.ID] = inv
	return nil
}

func (t *tables) deleteInvestment(id generic.InvestmentID) error {
	if _, ok := t.investments[id]; !ok {
		return generic.NotFound("investment", string(id))
	}
	delete(t.investments, id)
	return nil
}

func (t *tables) getInvestment(id generic.InvestmentID) (*generic.Investment, error) {
	inv, ok := t.investments[id]
	if !ok {
		return nil, generic.NotFound("investment", string(id))
	}
	return &inv, nil
}

func (t *tables) listInvestments(f generic.InvestmentFilter) []generic.Investment {
	var out []generic.Investment
	for _, inv := range t.investments {
		if f.UserID != "" && inv.UserID != f.UserID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (t *tables) advanceInvestment(inv generic.Investment, prev time.Time) error {
	cur, ok := t.investments[inv.ID]
	if !ok {
		return generic.NotFound("investment", string(inv.ID))
	}
	if !cur.LastSettledAt().Equal(prev) {
		return generic.ErrConcurrentModification
	}
	cur.Status = inv.Status
	cur.DaysCredited = inv.DaysCredited
	cur.UpdatedAt = inv.UpdatedAt
	t.investments[inv.ID] = cur
	return nil
}

// --- check-ins ---

func dayKey(userID generic.UserID, day string) string { return string(userID) + "|" + day }

func (t *tables) insertCheckIn(c generic.CheckIn) error {
	k := dayKey(c.UserID, c.Day)
	if _, ok := t.checkInDays[k]; ok {
		return generic.ErrAlreadyCheckedIn
	}
	t.checkIns[c.ID] = c
	t.checkInDays[k] = c.ID
	return nil
}

func (t *tables) deleteCheckIn(id string) error {
	c, ok := t.checkIns[id]
	if !ok {
		return generic.NotFound("checkin", id)
	}
	delete(t.checkIns, id)
	delete(t.checkInDays, dayKey(c.UserID, c.Day))
	return nil
}

func (t *tables) listCheckIns(userID generic.UserID) []generic.CheckIn {
	var out []generic.CheckIn
	for _, c := range t.checkIns {
		if userID == "" || c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// --- referrals ---

func (t *tables) insertReferral(r generic.Referral) error {
	for _, existing := range t.referrals {
		if existing.ReferredID == r.ReferredID {
			return generic.Invalid("referred_id", "user %s already has a referrer", r.ReferredID)
		}
	}
	t.referrals = append(t.referrals, r)
	return nil
}

func (t *tables) countReferrals(referrer generic.UserID) int {
	n := 0
	for _, r := range t.referrals {
		if r.ReferrerID == referrer {
			n++
		}
	}
	return n
}

// --- recharges ---

func (t *tables) insertRecharge(r generic.Recharge) error {
	if _, ok := t.recharges[r.ID]; ok {
		return generic.Invalid("id", "recharge %s already exists", r.ID)
	}
	t.recharges[r.ID] = r
	return nil
}

func (t *tables) getRecharge(id string) (*generic.Recharge, error) {
	r, ok := t.recharges[id]
	if !ok {
		return nil, generic.NotFound("recharge", id)
	}
	return &r, nil
}

func (t *tables) listRecharges(status generic.RechargeStatus) []generic.Recharge {
	var out []generic.Recharge
	for _, r := range t.recharges {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (t *tables) transitionRecharge(r generic.Recharge, from generic.RechargeStatus) error {
	cur, ok := t.recharges[r.ID]
	if !ok {
		return generic.NotFound("recharge", r.ID)
	}
	if cur.Status != from {
		return &generic.StateConflictError{Kind: "recharge", ID: r.ID, Status: string(cur.Status)}
	}
	t.recharges[r.ID] = r
	return nil
}

// --- withdrawals ---

func (t *tables) insertWithdrawal(w generic.Withdrawal) error {
	if _, ok := t.withdrawals[w.ID]; ok {
		return generic.Invalid("id", "withdrawal %s already exists", w.ID)
	}
	t.withdrawals[w.ID] = w
	return nil
}

func (t *tables) getWithdrawal(id string) (*generic.Withdrawal, error) {
	w, ok := t.withdrawals[id]
	if !ok {
		return nil, generic.NotFound("withdrawal", id)
	}
	return &w, nil
}

func (t *tables) listWithdrawals(userID generic.UserID, status generic.WithdrawalStatus) []generic.Withdrawal {
	var out []generic.Withdrawal
	for _, w := range t.withdrawals {
		if userID != "" && w.UserID != userID {
			continue
		}
		if status != "" && w.Status != status {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (t *tables) transitionWithdrawal(w generic.Withdrawal, from generic.WithdrawalStatus) error {
	cur, ok := t.withdrawals[w.ID]
	if !ok {
		return generic.NotFound("withdrawal", w.ID)
	}
	if cur.Status != from {
		return &generic.StateConflictError{Kind: "withdrawal", ID: w.ID, Status: string(cur.Status)}
	}
	t.withdrawals[w.ID] = w
	return nil
}

// --- journal & runs ---

func (t *tables) listEntries(userID generic.UserID) []generic.LedgerEntry {
	var out []generic.LedgerEntry
	for _, e := range t.entries {
		if userID == "" || e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (t *tables) listRuns(limit int) []generic.SettlementRun {
	out := make([]generic.SettlementRun, 0, len(t.runs))
	for _, r := range t.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	t  *tables
}

func NewMemory() *Memory {
	return &Memory{t: newTables()}
}

var _ generic.Store = (*Memory)(nil)

func (m *Memory) CreateUser(_ context.Context, u generic.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.createUser(u)
}

func (m *Memory) GetUser(_ context.Context, id generic.UserID) (*generic.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.getUser(id)
}

func (m *Memory) GetUserByReferralCode(_ context.Context, code string) (*generic.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.getUserByReferralCode(code)
}

func (m *Memory) ListUsers(_ context.Context) ([]generic.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.listUsers(), nil
}

func (m *Memory) SaveUserBalances(_ context.Context, u generic.User, entries []generic.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.saveUserBalances(u, entries)
}

func (m *Memory) UpdateUserProfile(_ context.Context, id generic.UserID, p generic.ProfileUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.updateUserProfile(id, p)
}

func (m *Memory) InsertInvestment(_ context.Context, inv generic.Investment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.insertInvestment(inv)
}

func (m *Memory) DeleteInvestment(_ context.Context, id generic.InvestmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.deleteInvestment(id)
}

func (m *Memory) GetInvestment(_ context.Context, id generic.InvestmentID) (*generic.Investment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.getInvestment(id)
}

func (m *Memory) ListInvestments(_ context.Context, f generic.InvestmentFilter) ([]generic.Investment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.listInvestments(f), nil
}

func (m *Memory) AdvanceInvestment(_ context.Context, inv generic.Investment, prev time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.advanceInvestment(inv, prev)
}

func (m *Memory) InsertCheckIn(_ context.Context, c generic.CheckIn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.insertCheckIn(c)
}

func (m *Memory) DeleteCheckIn(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.deleteCheckIn(id)
}

func (m *Memory) ListCheckIns(_ context.Context, userID generic.UserID) ([]generic.CheckIn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.listCheckIns(userID), nil
}

func (m *Memory) InsertReferral(_ context.Context, r generic.Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.insertReferral(r)
}

func (m *Memory) CountReferrals(_ context.Context, referrer generic.UserID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.countReferrals(referrer), nil
}

func (m *Memory) ListReferrals(_ context.Context) ([]generic.Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]generic.Referral{}, m.t.referrals...), nil
}

func (m *Memory) InsertRecharge(_ context.Context, r generic.Recharge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.insertRecharge(r)
}

func (m *Memory) GetRecharge(_ context.Context, id string) (*generic.Recharge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.getRecharge(id)
}

func (m *Memory) ListRecharges(_ context.Context, status generic.RechargeStatus) ([]generic.Recharge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.listRecharges(status), nil
}

func (m *Memory) TransitionRecharge(_ context.Context, r generic.Recharge, from generic.RechargeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.transitionRecharge(r, from)
}

func (m *Memory) InsertWithdrawal(_ context.Context, w generic.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.insertWithdrawal(w)
}

func (m *Memory) GetWithdrawal(_ context.Context, id string) (*generic.Withdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.getWithdrawal(id)
}

func (m *Memory) ListWithdrawals(_ context.Context, userID generic.UserID, status generic.WithdrawalStatus) ([]generic.Withdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.listWithdrawals(userID, status), nil
}

func (m *Memory) TransitionWithdrawal(_ context.Context, w generic.Withdrawal, from generic.WithdrawalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.transitionWithdrawal(w, from)
}

func (m *Memory) ListEntries(_ context.Context, userID generic.UserID) ([]generic.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.listEntries(userID), nil
}

func (m *Memory) EntryExists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.entryKeys[key], nil
}

func (m *Memory) SaveSettlementRun(_ context.Context, run generic.SettlementRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t.runs[run.ID] = run
	return nil
}

func (m *Memory) ListSettlementRuns(_ context.Context, limit int) ([]generic.SettlementRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.listRuns(limit), nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

var _ generic.TxStore = (*TxMemory)(nil)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.t.clone()

	if err := fn(&txMemoryView{t: tm.t}); err != nil {
		tm.t = snapshot
		return err
	}
	return nil
}

// txMemoryView runs against the locked tables without re-locking.
type txMemoryView struct {
	t *tables
}

func (v *txMemoryView) CreateUser(_ context.Context, u generic.User) error { return v.t.createUser(u) }
func (v *txMemoryView) GetUser(_ context.Context, id generic.UserID) (*generic.User, error) {
	return v.t.getUser(id)
}
func (v *txMemoryView) GetUserByReferralCode(_ context.Context, code string) (*generic.User, error) {
	return v.t.getUserByReferralCode(code)
}
func (v *txMemoryView) ListUsers(_ context.Context) ([]generic.User, error) { return v.t.listUsers(), nil }
func (v *txMemoryView) SaveUserBalances(_ context.Context, u generic.User, e []generic.LedgerEntry) error {
	return v.t.saveUserBalances(u, e)
}
func (v *txMemoryView) UpdateUserProfile(_ context.Context, id generic.UserID, p generic.ProfileUpdate) error {
	return v.t.updateUserProfile(id, p)
}
func (v *txMemoryView) InsertInvestment(_ context.Context, inv generic.Investment) error {
	return v.t.insertInvestment(inv)
}
func (v *txMemoryView) DeleteInvestment(_ context.Context, id generic.InvestmentID) error {
	return v.t.deleteInvestment(id)
}
func (v *txMemoryView) GetInvestment(_ context.Context, id generic.InvestmentID) (*generic.Investment, error) {
	return v.t.getInvestment(id)
}
func (v *txMemoryView) ListInvestments(_ context.Context, f generic.InvestmentFilter) ([]generic.Investment, error) {
	return v.t.listInvestments(f), nil
}
func (v *txMemoryView) AdvanceInvestment(_ context.Context, inv generic.Investment, prev time.Time) error {
	return v.t.advanceInvestment(inv, prev)
}
func (v *txMemoryView) InsertCheckIn(_ context.Context, c generic.CheckIn) error {
	return v.t.insertCheckIn(c)
}
func (v *txMemoryView) DeleteCheckIn(_ context.Context, id string) error { return v.t.deleteCheckIn(id) }
func (v *txMemoryView) ListCheckIns(_ context.Context, userID generic.UserID) ([]generic.CheckIn, error) {
	return v.t.listCheckIns(userID), nil
}
func (v *txMemoryView) InsertReferral(_ context.Context, r generic.Referral) error {
	return v.t.insertReferral(r)
}
func (v *txMemoryView) CountReferrals(_ context.Context, referrer generic.UserID) (int, error) {
	return v.t.countReferrals(referrer), nil
}
func (v *txMemoryView) ListReferrals(_ context.Context) ([]generic.Referral, error) {
	return append([]generic.Referral{}, v.t.referrals...), nil
}
func (v *txMemoryView) InsertRecharge(_ context.Context, r generic.Recharge) error {
	return v.t.insertRecharge(r)
}
func (v *txMemoryView) GetRecharge(_ context.Context, id string) (*generic.Recharge, error) {
	return v.t.getRecharge(id)
}
func (v *txMemoryView) ListRecharges(_ context.Context, s generic.RechargeStatus) ([]generic.Recharge, error) {
	return v.t.listRecharges(s), nil
}
func (v *txMemoryView) TransitionRecharge(_ context.Context, r generic.Recharge, from generic.RechargeStatus) error {
	return v.t.transitionRecharge(r, from)
}
func (v *txMemoryView) InsertWithdrawal(_ context.Context, w generic.Withdrawal) error {
	return v.t.insertWithdrawal(w)
}
func (v *txMemoryView) GetWithdrawal(_ context.Context, id string) (*generic.Withdrawal, error) {
	return v.t.getWithdrawal(id)
}
func (v *txMemoryView) ListWithdrawals(_ context.Context, userID generic.UserID, s generic.WithdrawalStatus) ([]generic.Withdrawal, error) {
	return v.t.listWithdrawals(userID, s), nil
}
func (v *txMemoryView) TransitionWithdrawal(_ context.Context, w generic.Withdrawal, from generic.WithdrawalStatus) error {
	return v.t.transitionWithdrawal(w, from)
}
func (v *txMemoryView) ListEntries(_ context.Context, userID generic.UserID) ([]generic.LedgerEntry, error) {
	return v.t.listEntries(userID), nil
}
func (v *txMemoryView) EntryExists(_ context.Context, key string) (bool, error) {
	return v.t.entryKeys[key], nil
}
func (v *txMemoryView) SaveSettlementRun(_ context.Context, run generic.SettlementRun) error {
	v.t.runs[run.ID] = run
	return nil
}
func (v *txMemoryView) ListSettlementRuns(_ context.Context, limit int) ([]generic.SettlementRun, error) {
	return v.t.listRuns(limit), nil
}
