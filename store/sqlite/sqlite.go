/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  users:                 Accounts, both wallets and the version token
  investments:           Purchases and their settlement marker
  checkins:              One row per (user, day)
  referrals:             Referrer -> referred links
  recharge_transactions: Deposit requests awaiting admin review
  withdrawals:           Payout requests awaiting admin review
  ledger_entries:        Append-only journal of every wallet change
  settlement_runs:       Batch settlement history

CONSTRAINTS DOING REAL WORK:
  - idx_checkins_user_day:      at most one check-in per user per day
  - ledger_entries.idempotency: a change key is credited once
  - users.version:              compare-and-swap on every wallet write
  - investments.updated_at:     compare-and-swap on every settlement

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on ledger_entries
  - Corrections are admin_adjustment entries

CONCURRENCY:
  The pool is capped at one connection so SQLite sees a single writer.
  WithTx additionally holds a mutex so transactional units never
  interleave.

MONEY AND TIME:
  Amounts are stored as decimal TEXT, times as RFC3339Nano UTC TEXT.
  Marker comparisons are string equality on that encoding.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/referral-ledger/generic"
)

// Store implements generic.TxStore using SQLite.
type Store struct {
	*conn
	db *sql.DB
	mu sync.Mutex
}

var _ generic.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" databases are per-connection.
	db.SetMaxOpenConns(1)

	store := &Store{conn: &conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		referral_code TEXT NOT NULL UNIQUE,
		referred_by TEXT,
		balance TEXT NOT NULL DEFAULT '0',
		recharge_wallet TEXT NOT NULL DEFAULT '0',
		total_recharge TEXT NOT NULL DEFAULT '0',
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		withdrawal_password_hash TEXT NOT NULL DEFAULT '',
		payment_method TEXT NOT NULL DEFAULT '',
		account_name TEXT NOT NULL DEFAULT '',
		account_phone_number TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS investments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		purchase_count INTEGER NOT NULL,
		daily_income TEXT NOT NULL,
		income_period INTEGER NOT NULL,
		total_income TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		days_credited INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_investments_user
		ON investments(user_id);
	CREATE INDEX IF NOT EXISTS idx_investments_status
		ON investments(status);

	CREATE TABLE IF NOT EXISTS checkins (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		amount TEXT NOT NULL,
		day TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one check-in per user per reference-zone day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_checkins_user_day
		ON checkins(user_id, day);

	CREATE TABLE IF NOT EXISTS referrals (
		id TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL REFERENCES users(id),
		referred_id TEXT NOT NULL UNIQUE REFERENCES users(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_referrals_referrer
		ON referrals(referrer_id);

	CREATE TABLE IF NOT EXISTS recharge_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		paid_number TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		approved_by TEXT,
		rejected_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recharges_status
		ON recharge_transactions(status);

	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		amount TEXT NOT NULL,
		fee TEXT NOT NULL,
		net_amount TEXT NOT NULL,
		account_number TEXT NOT NULL,
		account_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		approved_by TEXT,
		rejected_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_user
		ON withdrawals(user_id);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_status
		ON withdrawals(status);

	-- Journal (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		wallet TEXT NOT NULL,
		delta TEXT NOT NULL,
		kind TEXT NOT NULL,
		reference_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_user
		ON ledger_entries(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference
		ON ledger_entries(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS settlement_runs (
		id TEXT PRIMARY KEY,
		run_trigger TEXT NOT NULL,
		status TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		total_investments INTEGER NOT NULL DEFAULT 0,
		earnings_added TEXT NOT NULL DEFAULT '0',
		principals_returned TEXT NOT NULL DEFAULT '0',
		failures INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_settlement_runs_started
		ON settlement_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{conn: &conn{q: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// SaveUserBalances opens its own transaction so the version bump and the
// journal entries land together.
func (s *Store) SaveUserBalances(ctx context.Context, u generic.User, entries []generic.LedgerEntry) error {
	return s.WithTx(ctx, func(tx generic.Store) error {
		return tx.SaveUserBalances(ctx, u, entries)
	})
}

// txStore is the view handed to WithTx callbacks. Every statement runs on
// the open transaction.
type txStore struct {
	*conn
}

// =============================================================================
// CONN - Statements shared by Store and txStore
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// USER STORE
// =============================================================================

const userColumns = `id, email, full_name, referral_code, referred_by, balance, recharge_wallet,
	total_recharge, is_admin, is_active, withdrawal_password_hash, payment_method,
	account_name, account_phone_number, version, created_at, updated_at`

func (c *conn) CreateUser(ctx context.Context, u generic.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}

	_, err := c.q.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.ID, u.Email, u.FullName, u.ReferralCode, nullString(string(u.ReferredBy)),
		u.Balance.String(), u.RechargeWallet.String(), u.TotalRecharge.String(),
		u.IsAdmin, u.IsActive, u.WithdrawalPasswordHash, u.PaymentMethod,
		u.AccountName, u.AccountPhoneNumber, u.Version,
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err, "users.email") {
			return generic.Invalid("email", "email already registered")
		}
		if isUniqueConstraintError(err, "users.referral_code") {
			return generic.Invalid("referral_code", "referral code already in use")
		}
		if isUniqueConstraintError(err, "users.id") {
			return generic.Invalid("id", "user %s already exists", u.ID)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (c *conn) GetUser(ctx context.Context, id generic.UserID) (*generic.User, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("user", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (c *conn) GetUserByReferralCode(ctx context.Context, code string) (*generic.User, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = ?`, code)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("user", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by referral code: %w", err)
	}
	return &u, nil
}

func (c *conn) ListUsers(ctx context.Context) ([]generic.User, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []generic.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SaveUserBalances compares the version and appends the journal. On the
// plain Store this is wrapped in its own transaction (see Store.SaveUserBalances).
func (c *conn) SaveUserBalances(ctx context.Context, u generic.User, entries []generic.LedgerEntry) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE users
		SET balance = ?, recharge_wallet = ?, total_recharge = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		u.Balance.String(), u.RechargeWallet.String(), u.TotalRecharge.String(),
		formatTime(time.Now()), u.ID, u.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save user balances: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save user balances: %w", err)
	}
	if n == 0 {
		if _, err := c.GetUser(ctx, u.ID); err != nil {
			return err
		}
		return generic.ErrConcurrentModification
	}

	for _, e := range entries {
		if err := c.appendEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) appendEntry(ctx context.Context, e generic.LedgerEntry) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, user_id, wallet, delta, kind, reference_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.UserID, e.Wallet, e.Delta.String(), e.Kind,
		nullString(e.ReferenceID), nullString(e.IdempotencyKey), formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err, "ledger_entries.idempotency_key") {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// UpdateUserProfile binds nil pointers as NULL so COALESCE keeps the stored
// column.
func (c *conn) UpdateUserProfile(ctx context.Context, id generic.UserID, p generic.ProfileUpdate) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE users
		SET full_name = COALESCE(?, full_name),
		    is_admin = COALESCE(?, is_admin),
		    is_active = COALESCE(?, is_active),
		    withdrawal_password_hash = COALESCE(?, withdrawal_password_hash),
		    payment_method = COALESCE(?, payment_method),
		    account_name = COALESCE(?, account_name),
		    account_phone_number = COALESCE(?, account_phone_number),
		    updated_at = ?
		WHERE id = ?
	`,
		p.FullName, p.IsAdmin, p.IsActive, p.WithdrawalPasswordHash,
		p.PaymentMethod, p.AccountName, p.AccountPhoneNumber, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return requireRow(res, "user", string(id))
}

func scanUser(row scanner) (generic.User, error) {
	var (
		u                                generic.User
		referredBy                       sql.NullString
		balance, recharge, totalRecharge string
		createdAt, updatedAt             string
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.FullName, &u.ReferralCode, &referredBy,
		&balance, &recharge, &totalRecharge, &u.IsAdmin, &u.IsActive,
		&u.WithdrawalPasswordHash, &u.PaymentMethod, &u.AccountName, &u.AccountPhoneNumber,
		&u.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return u, err
	}
	u.ReferredBy = generic.UserID(referredBy.String)
	u.Balance = parseDecimal(balance)
	u.RechargeWallet = parseDecimal(recharge)
	u.TotalRecharge = parseDecimal(totalRecharge)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return u, nil
}

// =============================================================================
// INVESTMENT STORE
// =============================================================================

const investmentColumns = `id, user_id, product_id, product_name, category, amount, purchase_count,
	daily_income, income_period, total_income, status, days_credited, created_at, updated_at`

func (c *conn) InsertInvestment(ctx context.Context, inv generic.Investment) error {
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = inv.CreatedAt
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO investments (`+investmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inv.ID, inv.UserID, inv.ProductID, inv.ProductName, inv.Category,
		inv.Amount.String(), inv.PurchaseCount, inv.DailyIncome.String(), inv.IncomePeriod,
		inv.TotalIncome.String(), inv.Status, inv.DaysCredited,
		formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err, "investments.id") {
			return generic.Invalid("id", "investment %s already exists", inv.ID)
		}
		return fmt.Errorf("failed to insert investment: %w", err)
	}
	return nil
}

func (c *conn) DeleteInvestment(ctx context.Context, id generic.InvestmentID) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM investments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete investment: %w", err)
	}
	return requireRow(res, "investment", string(id))
}

func (c *conn) GetInvestment(ctx context.Context, id generic.InvestmentID) (*generic.Investment, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = ?`, id)
	inv, err := scanInvestment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("investment", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get investment: %w", err)
	}
	return &inv, nil
}

func (c *conn) ListInvestments(ctx context.Context, f generic.InvestmentFilter) ([]generic.Investment, error) {
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE 1 = 1`
	var args []any
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	defer rows.Close()

	var out []generic.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (c *conn) AdvanceInvestment(ctx context.Context, inv generic.Investment, prev time.Time) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE investments
		SET status = ?, days_credited = ?, updated_at = ?
		WHERE id = ? AND updated_at = ?
	`,
		inv.Status, inv.DaysCredited, formatTime(inv.UpdatedAt), inv.ID, formatTime(prev),
	)
	if err != nil {
		return fmt.Errorf("failed to advance investment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to advance investment: %w", err)
	}
	if n == 0 {
		if _, err := c.GetInvestment(ctx, inv.ID); err != nil {
			return err
		}
		return generic.ErrConcurrentModification
	}
	return nil
}

func scanInvestment(row scanner) (generic.Investment, error) {
	var (
		inv                              generic.Investment
		amount, dailyIncome, totalIncome string
		createdAt, updatedAt             string
	)
	err := row.Scan(
		&inv.ID, &inv.UserID, &inv.ProductID, &inv.ProductName, &inv.Category,
		&amount, &inv.PurchaseCount, &dailyIncome, &inv.IncomePeriod, &totalIncome,
		&inv.Status, &inv.DaysCredited, &createdAt, &updatedAt,
	)
	if err != nil {
		return inv, err
	}
	inv.Amount = parseDecimal(amount)
	inv.DailyIncome = parseDecimal(dailyIncome)
	inv.TotalIncome = parseDecimal(totalIncome)
	inv.CreatedAt = parseTime(createdAt)
	inv.UpdatedAt = parseTime(updatedAt)
	return inv, nil
}

// =============================================================================
// CHECK-IN STORE
// =============================================================================

func (c *conn) InsertCheckIn(ctx context.Context, ci generic.CheckIn) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO checkins (id, user_id, amount, day, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ci.ID, ci.UserID, ci.Amount.String(), ci.Day, formatTime(ci.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err, "checkins.user_id") {
			return generic.ErrAlreadyCheckedIn
		}
		return fmt.Errorf("failed to insert check-in: %w", err)
	}
	return nil
}

func (c *conn) DeleteCheckIn(ctx context.Context, id string) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM checkins WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete check-in: %w", err)
	}
	return requireRow(res, "checkin", id)
}

func (c *conn) ListCheckIns(ctx context.Context, userID generic.UserID) ([]generic.CheckIn, error) {
	query := `SELECT id, user_id, amount, day, created_at FROM checkins`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	defer rows.Close()

	var out []generic.CheckIn
	for rows.Next() {
		var ci generic.CheckIn
		var amount, createdAt string
		if err := rows.Scan(&ci.ID, &ci.UserID, &amount, &ci.Day, &createdAt); err != nil {
			return nil, err
		}
		ci.Amount = parseDecimal(amount)
		ci.CreatedAt = parseTime(createdAt)
		out = append(out, ci)
	}
	return out, rows.Err()
}

// =============================================================================
// REFERRAL STORE
// =============================================================================

func (c *conn) InsertReferral(ctx context.Context, r generic.Referral) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO referrals (id, referrer_id, referred_id, created_at)
		VALUES (?, ?, ?, ?)
	`, r.ID, r.ReferrerID, r.ReferredID, formatTime(r.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err, "referrals.referred_id") {
			return generic.Invalid("referred_id", "user %s already has a referrer", r.ReferredID)
		}
		return fmt.Errorf("failed to insert referral: %w", err)
	}
	return nil
}

func (c *conn) CountReferrals(ctx context.Context, referrerID generic.UserID) (int, error) {
	var n int
	err := c.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM referrals WHERE referrer_id = ?`, referrerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count referrals: %w", err)
	}
	return n, nil
}

func (c *conn) ListReferrals(ctx context.Context) ([]generic.Referral, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT id, referrer_id, referred_id, created_at FROM referrals ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	defer rows.Close()

	var out []generic.Referral
	for rows.Next() {
		var r generic.Referral
		var createdAt string
		if err := rows.Scan(&r.ID, &r.ReferrerID, &r.ReferredID, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// RECHARGE STORE
// =============================================================================

const rechargeColumns = `id, user_id, amount, payment_method, paid_number, status,
	approved_by, rejected_reason, created_at, updated_at`

func (c *conn) InsertRecharge(ctx context.Context, r generic.Recharge) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO recharge_transactions (`+rechargeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.UserID, r.Amount.String(), r.PaymentMethod, r.PaidNumber, r.Status,
		nullString(string(r.ApprovedBy)), r.RejectedReason,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert recharge: %w", err)
	}
	return nil
}

func (c *conn) GetRecharge(ctx context.Context, id string) (*generic.Recharge, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+rechargeColumns+` FROM recharge_transactions WHERE id = ?`, id)
	r, err := scanRecharge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("recharge", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recharge: %w", err)
	}
	return &r, nil
}

func (c *conn) ListRecharges(ctx context.Context, status generic.RechargeStatus) ([]generic.Recharge, error) {
	query := `SELECT ` + rechargeColumns + ` FROM recharge_transactions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recharges: %w", err)
	}
	defer rows.Close()

	var out []generic.Recharge
	for rows.Next() {
		r, err := scanRecharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *conn) TransitionRecharge(ctx context.Context, r generic.Recharge, from generic.RechargeStatus) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE recharge_transactions
		SET status = ?, approved_by = ?, rejected_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		r.Status, nullString(string(r.ApprovedBy)), r.RejectedReason, formatTime(r.UpdatedAt),
		r.ID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to transition recharge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to transition recharge: %w", err)
	}
	if n == 0 {
		cur, err := c.GetRecharge(ctx, r.ID)
		if err != nil {
			return err
		}
		return &generic.StateConflictError{Kind: "recharge", ID: r.ID, Status: string(cur.Status)}
	}
	return nil
}

func scanRecharge(row scanner) (generic.Recharge, error) {
	var (
		r                    generic.Recharge
		amount               string
		approvedBy           sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&r.ID, &r.UserID, &amount, &r.PaymentMethod, &r.PaidNumber, &r.Status,
		&approvedBy, &r.RejectedReason, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, err
	}
	r.Amount = parseDecimal(amount)
	r.ApprovedBy = generic.UserID(approvedBy.String)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// WITHDRAWAL STORE
// =============================================================================

const withdrawalColumns = `id, user_id, amount, fee, net_amount, account_number, account_name,
	status, approved_by, rejected_reason, created_at, updated_at`

func (c *conn) InsertWithdrawal(ctx context.Context, w generic.Withdrawal) error {
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = w.CreatedAt
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO withdrawals (`+withdrawalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		w.ID, w.UserID, w.Amount.String(), w.Fee.String(), w.NetAmount.String(),
		w.AccountNumber, w.AccountName, w.Status, nullString(string(w.ApprovedBy)),
		w.RejectedReason, formatTime(w.CreatedAt), formatTime(w.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	return nil
}

func (c *conn) GetWithdrawal(ctx context.Context, id string) (*generic.Withdrawal, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = ?`, id)
	w, err := scanWithdrawal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("withdrawal", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return &w, nil
}

func (c *conn) ListWithdrawals(ctx context.Context, userID generic.UserID, status generic.WithdrawalStatus) ([]generic.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE 1 = 1`
	var args []any
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	var out []generic.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (c *conn) TransitionWithdrawal(ctx context.Context, w generic.Withdrawal, from generic.WithdrawalStatus) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE withdrawals
		SET status = ?, approved_by = ?, rejected_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		w.Status, nullString(string(w.ApprovedBy)), w.RejectedReason, formatTime(w.UpdatedAt),
		w.ID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to transition withdrawal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to transition withdrawal: %w", err)
	}
	if n == 0 {
		cur, err := c.GetWithdrawal(ctx, w.ID)
		if err != nil {
			return err
		}
		return &generic.StateConflictError{Kind: "withdrawal", ID: w.ID, Status: string(cur.Status)}
	}
	return nil
}

func scanWithdrawal(row scanner) (generic.Withdrawal, error) {
	var (
		w                      generic.Withdrawal
		amount, fee, netAmount string
		approvedBy             sql.NullString
		createdAt, updatedAt   string
	)
	err := row.Scan(
		&w.ID, &w.UserID, &amount, &fee, &netAmount, &w.AccountNumber, &w.AccountName,
		&w.Status, &approvedBy, &w.RejectedReason, &createdAt, &updatedAt,
	)
	if err != nil {
		return w, err
	}
	w.Amount = parseDecimal(amount)
	w.Fee = parseDecimal(fee)
	w.NetAmount = parseDecimal(netAmount)
	w.ApprovedBy = generic.UserID(approvedBy.String)
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return w, nil
}

// =============================================================================
// JOURNAL STORE
// =============================================================================

func (c *conn) ListEntries(ctx context.Context, userID generic.UserID) ([]generic.LedgerEntry, error) {
	query := `SELECT id, user_id, wallet, delta, kind, reference_id, idempotency_key, created_at
		FROM ledger_entries`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []generic.LedgerEntry
	for rows.Next() {
		var e generic.LedgerEntry
		var delta, createdAt string
		var ref, key sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Wallet, &delta, &e.Kind, &ref, &key, &createdAt); err != nil {
			return nil, err
		}
		e.Delta = parseDecimal(delta)
		e.ReferenceID = ref.String
		e.IdempotencyKey = key.String
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *conn) EntryExists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// SETTLEMENT RUNS
// =============================================================================

// SaveSettlementRun upserts a run record.
func (c *conn) SaveSettlementRun(ctx context.Context, r generic.SettlementRun) error {
	query := `
		INSERT INTO settlement_runs (id, run_trigger, status, processed, total_investments,
			earnings_added, principals_returned, failures, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			total_investments = excluded.total_investments,
			earnings_added = excluded.earnings_added,
			principals_returned = excluded.principals_returned,
			failures = excluded.failures,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if r.CompletedAt != nil {
		s := formatTime(*r.CompletedAt)
		completedAt = &s
	}

	_, err := c.q.ExecContext(ctx, query,
		r.ID, r.Trigger, r.Status, r.Processed, r.TotalInvestments,
		r.EarningsAdded.String(), r.PrincipalsReturned.String(), r.Failures, r.Error,
		formatTime(r.StartedAt), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save settlement run: %w", err)
	}
	return nil
}

// ListSettlementRuns returns the most recent runs first.
func (c *conn) ListSettlementRuns(ctx context.Context, limit int) ([]generic.SettlementRun, error) {
	query := `
		SELECT id, run_trigger, status, processed, total_investments, earnings_added,
			principals_returned, failures, error, started_at, completed_at
		FROM settlement_runs
		ORDER BY started_at DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlement runs: %w", err)
	}
	defer rows.Close()

	var runs []generic.SettlementRun
	for rows.Next() {
		var r generic.SettlementRun
		var earnings, principals, startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(
			&r.ID, &r.Trigger, &r.Status, &r.Processed, &r.TotalInvestments, &earnings,
			&principals, &r.Failures, &r.Error, &startedAt, &completedAt,
		); err != nil {
			return nil, err
		}
		r.EarningsAdded = parseDecimal(earnings)
		r.PrincipalsReturned = parseDecimal(principals)
		r.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.NotFound(kind, id)
	}
	return nil
}

// isUniqueConstraintError reports a UNIQUE violation whose message names
// the given table.column.
func isUniqueConstraintError(err error, column string) bool {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	if sqlErr.ExtendedCode != sqlite3.ErrConstraintUnique && sqlErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return false
	}
	return strings.Contains(sqlErr.Error(), column)
}
