/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Composite response wrappers

AMOUNTS:
  Amounts are decimal strings in responses ("27000", "1134.5"). Requests
  accept either a JSON number or a decimal string.

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required, oneof, min). Business rules (withdrawal limits, funds,
  passwords) stay in the domain packages.

SEE ALSO:
  - handlers.go: Uses these types
  - decode.go: Decoding and tag validation
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/referral-ledger/generic"
	"github.com/warp/referral-ledger/investment"
	"github.com/warp/referral-ledger/rewards"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

type RegisterRequest struct {
	Email        string `json:"email" validate:"required,email"`
	FullName     string `json:"full_name" validate:"max=120"`
	ReferralCode string `json:"referral_code"`
}

type RegisterResponse struct {
	User  UserDTO `json:"user"`
	Token string  `json:"token"`
}

// UserDTO is an account with both wallets. The withdrawal password hash is
// never exposed.
type UserDTO struct {
	ID             string          `json:"id"`
	Email          string          `json:"email"`
	FullName       string          `json:"full_name"`
	ReferralCode   string          `json:"referral_code"`
	ReferredBy     string          `json:"referred_by,omitempty"`
	Balance        decimal.Decimal `json:"balance"`
	RechargeWallet decimal.Decimal `json:"recharge_wallet"`
	TotalRecharge  decimal.Decimal `json:"total_recharge"`
	IsAdmin        bool            `json:"is_admin"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      string          `json:"created_at"`
}

func toUserDTO(u generic.User) UserDTO {
	return UserDTO{
		ID:             string(u.ID),
		Email:          u.Email,
		FullName:       u.FullName,
		ReferralCode:   u.ReferralCode,
		ReferredBy:     string(u.ReferredBy),
		Balance:        u.Balance,
		RechargeWallet: u.RechargeWallet,
		TotalRecharge:  u.TotalRecharge,
		IsAdmin:        u.IsAdmin,
		IsActive:       u.IsActive,
		CreatedAt:      formatTime(u.CreatedAt),
	}
}

type MeResponse struct {
	User          UserDTO `json:"user"`
	ReferralCount int     `json:"referral_count"`
	HasPassword   bool    `json:"has_withdrawal_password"`
}

type PasswordRequest struct {
	Password string `json:"password" validate:"required,min=4"`
}

type BankAccountRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required,oneof=MTN Airtel"`
	AccountName   string `json:"account_name" validate:"required"`
	PhoneNumber   string `json:"phone_number" validate:"required"`
	Password      string `json:"password"`
}

type BankAccountDTO struct {
	PaymentMethod string `json:"payment_method"`
	AccountName   string `json:"account_name"`
	PhoneNumber   string `json:"phone_number"`
}

// =============================================================================
// INVESTMENTS
// =============================================================================

type CreateInvestmentRequest struct {
	ProductID     string          `json:"product_id" validate:"required"`
	ProductName   string          `json:"product_name"`
	Price         decimal.Decimal `json:"price"`
	PurchaseCount int             `json:"purchase_count" validate:"gte=1"`
	DailyIncome   decimal.Decimal `json:"daily_income"`
	IncomePeriod  int             `json:"income_period" validate:"gte=1"`
	WalletType    string          `json:"wallet_type" validate:"required,oneof=balance recharge"`
}

type InvestmentDTO struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Category      string          `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	PurchaseCount int             `json:"purchase_count"`
	DailyIncome   decimal.Decimal `json:"daily_income"`
	IncomePeriod  int             `json:"income_period"`
	TotalIncome   decimal.Decimal `json:"total_income"`
	DaysCredited  int             `json:"days_credited"`
	Status        string          `json:"status"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

func toInvestmentDTO(inv generic.Investment) InvestmentDTO {
	return InvestmentDTO{
		ID:            string(inv.ID),
		UserID:        string(inv.UserID),
		ProductID:     inv.ProductID,
		ProductName:   inv.ProductName,
		Category:      inv.Category,
		Amount:        inv.Amount,
		PurchaseCount: inv.PurchaseCount,
		DailyIncome:   inv.DailyIncome,
		IncomePeriod:  inv.IncomePeriod,
		TotalIncome:   inv.TotalIncome,
		DaysCredited:  inv.DaysCredited,
		Status:        string(inv.Status),
		CreatedAt:     formatTime(inv.CreatedAt),
		UpdatedAt:     formatTime(inv.UpdatedAt),
	}
}

// AdminInvestmentDTO is an investment with its owner, for the admin list.
type AdminInvestmentDTO struct {
	InvestmentDTO
	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`
}

func toAdminInvestmentDTO(s rewards.InvestmentSummary) AdminInvestmentDTO {
	return AdminInvestmentDTO{
		InvestmentDTO: toInvestmentDTO(s.Investment),
		UserEmail:     s.UserEmail,
		UserName:      s.UserName,
	}
}

type CreateInvestmentResponse struct {
	Investment InvestmentDTO   `json:"investment"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

type FailureDTO struct {
	InvestmentID string `json:"investment_id"`
	Error        string `json:"error"`
}

// BatchResultDTO is the summary of one settlement run.
type BatchResultDTO struct {
	RunID              string          `json:"run_id,omitempty"`
	Processed          int             `json:"processed"`
	TotalInvestments   int             `json:"total_investments"`
	Skipped            int             `json:"skipped"`
	Failed             int             `json:"failed"`
	EarningsAdded      decimal.Decimal `json:"earnings_added"`
	PrincipalsReturned decimal.Decimal `json:"principals_returned"`
	Failures           []FailureDTO    `json:"failures,omitempty"`
}

func toBatchResultDTO(runID string, res *investment.BatchResult) BatchResultDTO {
	dto := BatchResultDTO{
		RunID:              runID,
		Processed:          res.Processed,
		TotalInvestments:   res.TotalInvestments,
		Skipped:            res.Skipped,
		Failed:             res.Failed,
		EarningsAdded:      res.EarningsAdded,
		PrincipalsReturned: res.PrincipalsReturned,
	}
	for _, f := range res.Failures {
		dto.Failures = append(dto.Failures, FailureDTO{InvestmentID: string(f.InvestmentID), Error: f.Err.Error()})
	}
	return dto
}

type InvestmentStatusDTO struct {
	InvestmentID  string          `json:"investment_id"`
	UserID        string          `json:"user_id"`
	ProductName   string          `json:"product_name"`
	DaysPassed    int             `json:"days_passed"`
	DaysRemaining int             `json:"days_remaining"`
	IsCompleted   bool            `json:"is_completed"`
	EarningsSoFar decimal.Decimal `json:"earnings_so_far"`
	TotalEarnings decimal.Decimal `json:"total_earnings"`
}

// =============================================================================
// CHECK-IN
// =============================================================================

type CheckInResponse struct {
	Reward        decimal.Decimal `json:"reward"`
	BaseReward    decimal.Decimal `json:"baseReward"`
	BonusReward   decimal.Decimal `json:"bonusReward"`
	ReferralCount int             `json:"referralCount"`
	NewBalance    decimal.Decimal `json:"newBalance"`
	Day           string          `json:"day"`
}

type CheckInDTO struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Day       string          `json:"day"`
	CreatedAt string          `json:"created_at"`
}

type CheckInStatusResponse struct {
	Reward         decimal.Decimal `json:"reward"`
	ReferralCount  int             `json:"referral_count"`
	CheckedInToday bool            `json:"checked_in_today"`
	TotalCheckIns  int             `json:"total_check_ins"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	History        []CheckInDTO    `json:"history"`
}

// =============================================================================
// RECHARGE AND WITHDRAWAL
// =============================================================================

type RechargeRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method" validate:"omitempty,oneof=MTN Airtel"`
	PaidNumber    string          `json:"paid_number"`
}

type RechargeDTO struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentMethod  string          `json:"payment_method"`
	PaidNumber     string          `json:"paid_number,omitempty"`
	Status         string          `json:"status"`
	ApprovedBy     string          `json:"approved_by,omitempty"`
	RejectedReason string          `json:"rejected_reason,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

func toRechargeDTO(r generic.Recharge) RechargeDTO {
	return RechargeDTO{
		ID:             r.ID,
		UserID:         string(r.UserID),
		Amount:         r.Amount,
		PaymentMethod:  r.PaymentMethod,
		PaidNumber:     r.PaidNumber,
		Status:         string(r.Status),
		ApprovedBy:     string(r.ApprovedBy),
		RejectedReason: r.RejectedReason,
		CreatedAt:      formatTime(r.CreatedAt),
		UpdatedAt:      formatTime(r.UpdatedAt),
	}
}

type TransferRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type TransferResponse struct {
	Amount         decimal.Decimal `json:"amount"`
	Balance        decimal.Decimal `json:"balance"`
	RechargeWallet decimal.Decimal `json:"recharge_wallet"`
}

type WithdrawRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Password      string          `json:"password"`
	AccountNumber string          `json:"account_number"`
	AccountName   string          `json:"account_name"`
}

type WithdrawalDTO struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Fee            decimal.Decimal `json:"fee"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	AccountNumber  string          `json:"account_number"`
	AccountName    string          `json:"account_name"`
	Status         string          `json:"status"`
	ApprovedBy     string          `json:"approved_by,omitempty"`
	RejectedReason string          `json:"rejected_reason,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

func toWithdrawalDTO(w generic.Withdrawal) WithdrawalDTO {
	return WithdrawalDTO{
		ID:             w.ID,
		UserID:         string(w.UserID),
		Amount:         w.Amount,
		Fee:            w.Fee,
		NetAmount:      w.NetAmount,
		AccountNumber:  w.AccountNumber,
		AccountName:    w.AccountName,
		Status:         string(w.Status),
		ApprovedBy:     string(w.ApprovedBy),
		RejectedReason: w.RejectedReason,
		CreatedAt:      formatTime(w.CreatedAt),
		UpdatedAt:      formatTime(w.UpdatedAt),
	}
}

// =============================================================================
// ADMIN
// =============================================================================

// ReviewRequest approves or rejects a pending recharge or withdrawal.
type ReviewRequest struct {
	ID     string `json:"id" validate:"required"`
	Action string `json:"action" validate:"required,oneof=approve reject"`
	Reason string `json:"reason"`
}

type AdminUserRequest struct {
	UserID string           `json:"user_id" validate:"required"`
	Action string           `json:"action" validate:"required,oneof=update_balance update_recharge_wallet suspend activate make_admin remove_admin"`
	Value  *decimal.Decimal `json:"value"`
	Reason string           `json:"reason"`
}

type UserSummaryDTO struct {
	UserDTO
	ReferralCount     int             `json:"referral_count"`
	TotalInvestments  decimal.Decimal `json:"total_investments"`
	ActiveInvestments int             `json:"active_investments"`
	TotalWithdrawals  decimal.Decimal `json:"total_withdrawals"`
}

func toUserSummaryDTO(s rewards.UserSummary) UserSummaryDTO {
	return UserSummaryDTO{
		UserDTO:           toUserDTO(s.User),
		ReferralCount:     s.ReferralCount,
		TotalInvestments:  s.TotalInvestments,
		ActiveInvestments: s.ActiveInvestments,
		TotalWithdrawals:  s.TotalWithdrawals,
	}
}

type StatsDTO struct {
	Users struct {
		Total     int `json:"total"`
		Active    int `json:"active"`
		Suspended int `json:"suspended"`
	} `json:"users"`
	Finances struct {
		TotalBalance        decimal.Decimal `json:"total_balance"`
		TotalRechargeWallet decimal.Decimal `json:"total_recharge_wallet"`
		TotalInvestments    decimal.Decimal `json:"total_investments"`
		TotalWithdrawals    decimal.Decimal `json:"total_withdrawals"`
		ApprovedWithdrawals decimal.Decimal `json:"approved_withdrawals"`
		PendingWithdrawals  decimal.Decimal `json:"pending_withdrawals"`
		TotalRecharges      decimal.Decimal `json:"total_recharges"`
		CompletedRecharges  decimal.Decimal `json:"completed_recharges"`
		TotalCheckIns       decimal.Decimal `json:"total_check_ins"`
	} `json:"finances"`
	Activity struct {
		ActiveInvestments       int `json:"active_investments"`
		PendingWithdrawalsCount int `json:"pending_withdrawals_count"`
		TotalReferrals          int `json:"total_referrals"`
	} `json:"activity"`
}

func toStatsDTO(s *rewards.Stats) StatsDTO {
	var dto StatsDTO
	dto.Users.Total = s.TotalUsers
	dto.Users.Active = s.ActiveUsers
	dto.Users.Suspended = s.SuspendedUsers
	dto.Finances.TotalBalance = s.TotalBalance
	dto.Finances.TotalRechargeWallet = s.TotalRechargeWallet
	dto.Finances.TotalInvestments = s.TotalInvestments
	dto.Finances.TotalWithdrawals = s.TotalWithdrawals
	dto.Finances.ApprovedWithdrawals = s.ApprovedWithdrawals
	dto.Finances.PendingWithdrawals = s.PendingWithdrawals
	dto.Finances.TotalRecharges = s.TotalRecharges
	dto.Finances.CompletedRecharges = s.CompletedRecharges
	dto.Finances.TotalCheckIns = s.TotalCheckIns
	dto.Activity.ActiveInvestments = s.ActiveInvestments
	dto.Activity.PendingWithdrawalsCount = s.PendingWithdrawalsCount
	dto.Activity.TotalReferrals = s.TotalReferrals
	return dto
}

type SettlementRunDTO struct {
	ID                 string          `json:"id"`
	Trigger            string          `json:"trigger"`
	Status             string          `json:"status"`
	Processed          int             `json:"processed"`
	TotalInvestments   int             `json:"total_investments"`
	EarningsAdded      decimal.Decimal `json:"earnings_added"`
	PrincipalsReturned decimal.Decimal `json:"principals_returned"`
	Failures           int             `json:"failures"`
	Error              string          `json:"error,omitempty"`
	StartedAt          string          `json:"started_at"`
	CompletedAt        *string         `json:"completed_at,omitempty"`
}

func toSettlementRunDTO(r generic.SettlementRun) SettlementRunDTO {
	dto := SettlementRunDTO{
		ID:                 r.ID,
		Trigger:            string(r.Trigger),
		Status:             r.Status,
		Processed:          r.Processed,
		TotalInvestments:   r.TotalInvestments,
		EarningsAdded:      r.EarningsAdded,
		PrincipalsReturned: r.PrincipalsReturned,
		Failures:           r.Failures,
		Error:              r.Error,
		StartedAt:          formatTime(r.StartedAt),
	}
	if r.CompletedAt != nil {
		s := formatTime(*r.CompletedAt)
		dto.CompletedAt = &s
	}
	return dto
}

type LedgerEntryDTO struct {
	ID          string          `json:"id"`
	Wallet      string          `json:"wallet"`
	Delta       decimal.Decimal `json:"delta"`
	Kind        string          `json:"kind"`
	ReferenceID string          `json:"reference_id"`
	CreatedAt   string          `json:"created_at"`
}

type LedgerResponse struct {
	UserID   string           `json:"user_id"`
	Balanced bool             `json:"balanced"`
	Entries  []LedgerEntryDTO `json:"entries"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
