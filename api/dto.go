/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

AMOUNTS:
  Every amount travels as an integer in minor units ("amount": 150000).
  Responses that show balances also carry a decimal rendering in major
  units ("registry_display": "1500.00") computed with shopspring/decimal.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done by the domain services, not in DTOs. DTOs are pure
  data carriers; handlers only reject malformed JSON.
*/
package api

import (
	"time"

	"github.com/warp/treasury-engine/payments"
	"github.com/warp/treasury-engine/treasury"
)

// =============================================================================
// TREASURY
// =============================================================================

type SnapshotDTO struct {
	Registry            int64   `json:"registry"`
	Safe                int64   `json:"safe"`
	Bank                int64   `json:"bank"`
	MobileMoney         int64   `json:"mobile_money"`
	TotalLiquidAssets   int64   `json:"total_liquid_assets"`
	RegistryDisplay     string  `json:"registry_display"`
	SafeDisplay         string  `json:"safe_display"`
	BankDisplay         string  `json:"bank_display"`
	MobileMoneyDisplay  string  `json:"mobile_money_display"`
	RegistryFloatTarget int64   `json:"registry_float_target"`
	RegistryShortfall   int64   `json:"registry_shortfall"`
	SafeThresholdMin    int64   `json:"safe_threshold_min"`
	SafeThresholdMax    int64   `json:"safe_threshold_max"`
	SafeStatus          string  `json:"safe_status"`
	LastVerifiedAt      *string `json:"last_verified_at,omitempty"`
	LastVerifiedBy      string  `json:"last_verified_by,omitempty"`
	UpdatedAt           string  `json:"updated_at"`
	Version             int64   `json:"version"`
}

type InitRequest struct {
	Registry            int64 `json:"registry"`
	Safe                int64 `json:"safe"`
	Bank                int64 `json:"bank"`
	MobileMoney         int64 `json:"mobile_money"`
	RegistryFloatTarget int64 `json:"registry_float_target"`
	SafeThresholdMin    int64 `json:"safe_threshold_min"`
	SafeThresholdMax    int64 `json:"safe_threshold_max"`
}

type LimitsRequest struct {
	RegistryFloatTarget int64 `json:"registry_float_target"`
	SafeThresholdMin    int64 `json:"safe_threshold_min"`
	SafeThresholdMax    int64 `json:"safe_threshold_max"`
}

// MutationRequest carries signed deltas keyed by account name.
type MutationRequest struct {
	Deltas        map[string]int64 `json:"deltas"`
	Type          string           `json:"type"`
	Direction     string           `json:"direction"`
	Amount        int64            `json:"amount,omitempty"`
	Description   string           `json:"description"`
	ReferenceKind string           `json:"reference_kind,omitempty"`
	ReferenceID   string           `json:"reference_id,omitempty"`
}

type IncomeRequest struct {
	Account     string `json:"account"`
	Amount      int64  `json:"amount"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type ReverseRequest struct {
	Reason string `json:"reason"`
}

type TransactionDTO struct {
	ID            string           `json:"id"`
	Sequence      int64            `json:"sequence"`
	Type          string           `json:"type"`
	Direction     string           `json:"direction"`
	Amount        int64            `json:"amount"`
	Deltas        map[string]int64 `json:"deltas"`
	BalancesAfter BalancesDTO      `json:"balances_after"`
	Description   string           `json:"description"`
	ReferenceKind string           `json:"reference_kind,omitempty"`
	ReferenceID   string           `json:"reference_id,omitempty"`
	RecordedBy    string           `json:"recorded_by"`
	RecordedAt    string           `json:"recorded_at"`
}

type BalancesDTO struct {
	Registry    int64 `json:"registry"`
	Safe        int64 `json:"safe"`
	Bank        int64 `json:"bank"`
	MobileMoney int64 `json:"mobile_money"`
}

// MutationResponse is returned by every endpoint that moves money.
type MutationResponse struct {
	Snapshot    SnapshotDTO     `json:"snapshot"`
	Transaction *TransactionDTO `json:"transaction,omitempty"`
}

type AuditDTO struct {
	Consistent   bool        `json:"consistent"`
	Records      int         `json:"records"`
	Replayed     BalancesDTO `json:"replayed"`
	Snapshot     BalancesDTO `json:"snapshot"`
	Drift        BalancesDTO `json:"drift"`
	BrokenRecord string      `json:"broken_record,omitempty"`
}

type VerifyRequest struct {
	CountedBalance int64  `json:"counted_balance"`
	Explanation    string `json:"explanation"`
}

type VerificationDTO struct {
	ID              string `json:"id"`
	Date            string `json:"date"`
	ExpectedBalance int64  `json:"expected_balance"`
	CountedBalance  int64  `json:"counted_balance"`
	Discrepancy     int64  `json:"discrepancy"`
	Status          string `json:"status"`
	Explanation     string `json:"explanation,omitempty"`
	TransactionID   string `json:"transaction_id,omitempty"`
	VerifiedBy      string `json:"verified_by"`
	VerifiedAt      string `json:"verified_at"`
}

type VerificationResponse struct {
	Verification VerificationDTO `json:"verification"`
	Snapshot     SnapshotDTO     `json:"snapshot"`
}

type TransferRequest struct {
	Type          string `json:"type"`
	Amount        int64  `json:"amount"`
	BankReference string `json:"bank_reference"`
	Notes         string `json:"notes"`
}

type BankTransferDTO struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Amount        int64  `json:"amount"`
	SafeBefore    int64  `json:"safe_before"`
	SafeAfter     int64  `json:"safe_after"`
	BankBefore    int64  `json:"bank_before"`
	BankAfter     int64  `json:"bank_after"`
	BankReference string `json:"bank_reference,omitempty"`
	Notes         string `json:"notes,omitempty"`
	TransactionID string `json:"transaction_id"`
	RecordedBy    string `json:"recorded_by"`
	RecordedAt    string `json:"recorded_at"`
}

type TransferResponse struct {
	Transfer BankTransferDTO `json:"transfer"`
	Snapshot SnapshotDTO     `json:"snapshot"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type CreateSalaryRequest struct {
	UserID      string `json:"user_id"`
	Period      string `json:"period"`
	GrossAmount int64  `json:"gross_amount"`
	Notes       string `json:"notes"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type DeductionRequest struct {
	AdvanceID string `json:"advance_id"`
	Amount    int64  `json:"amount"`
}

type PaySalaryRequest struct {
	Method           string             `json:"method"`
	Notes            string             `json:"notes"`
	ManualDeductions []DeductionRequest `json:"manual_deductions,omitempty"`
}

type SalaryPaymentDTO struct {
	ID               string  `json:"id"`
	UserID           string  `json:"user_id"`
	Period           string  `json:"period,omitempty"`
	GrossAmount      int64   `json:"gross_amount"`
	AdvanceDeduction int64   `json:"advance_deduction"`
	NetAmount        int64   `json:"net_amount"`
	Status           string  `json:"status"`
	Method           string  `json:"method,omitempty"`
	Notes            string  `json:"notes,omitempty"`
	TransactionID    string  `json:"transaction_id,omitempty"`
	CreatedBy        string  `json:"created_by"`
	ApprovedBy       string  `json:"approved_by,omitempty"`
	PaidBy           string  `json:"paid_by,omitempty"`
	CreatedAt        string  `json:"created_at"`
	ApprovedAt       *string `json:"approved_at,omitempty"`
	PaidAt           *string `json:"paid_at,omitempty"`
	CancelledAt      *string `json:"cancelled_at,omitempty"`
}

type RecoupmentDTO struct {
	ID                string `json:"id"`
	SalaryAdvanceID   string `json:"salary_advance_id"`
	SalaryPaymentID   string `json:"salary_payment_id,omitempty"`
	Amount            int64  `json:"amount"`
	InstallmentNumber int    `json:"installment_number"`
	Manual            bool   `json:"manual"`
	TransactionID     string `json:"transaction_id,omitempty"`
	RecordedBy        string `json:"recorded_by"`
	CreatedAt         string `json:"created_at"`
}

type PaySalaryResponse struct {
	Payment     SalaryPaymentDTO `json:"payment"`
	Deductions  []RecoupmentDTO  `json:"deductions"`
	Snapshot    SnapshotDTO      `json:"snapshot"`
	Transaction *TransactionDTO  `json:"transaction,omitempty"`
}

type DisburseRequest struct {
	UserID               string `json:"user_id"`
	Amount               int64  `json:"amount"`
	Method               string `json:"method"`
	Strategy             string `json:"strategy"`
	NumberOfInstallments int    `json:"number_of_installments"`
	Notes                string `json:"notes"`
}

type RepayRequest struct {
	Amount int64  `json:"amount"`
	Method string `json:"method"`
	Notes  string `json:"notes"`
}

type AdvanceDTO struct {
	ID                   string `json:"id"`
	UserID               string `json:"user_id"`
	Amount               int64  `json:"amount"`
	Method               string `json:"method"`
	Strategy             string `json:"strategy"`
	NumberOfInstallments int    `json:"number_of_installments,omitempty"`
	TotalRecouped        int64  `json:"total_recouped"`
	RemainingBalance     int64  `json:"remaining_balance"`
	Status               string `json:"status"`
	Notes                string `json:"notes,omitempty"`
	TransactionID        string `json:"transaction_id"`
	DisbursedBy          string `json:"disbursed_by"`
	DisbursedAt          string `json:"disbursed_at"`
	UpdatedAt            string `json:"updated_at"`
}

type AdvanceResponse struct {
	Advance  AdvanceDTO   `json:"advance"`
	Snapshot *SnapshotDTO `json:"snapshot,omitempty"`
}

type RepayResponse struct {
	Advance    AdvanceDTO    `json:"advance"`
	Recoupment RecoupmentDTO `json:"recoupment"`
}

type CreateExpenseRequest struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
	Method   string `json:"method"`
	Notes    string `json:"notes"`
}

type PayExpenseRequest struct {
	Notes string `json:"notes"`
}

type ExpenseDTO struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Category      string  `json:"category,omitempty"`
	Amount        int64   `json:"amount"`
	Method        string  `json:"method"`
	Status        string  `json:"status"`
	Notes         string  `json:"notes,omitempty"`
	TransactionID string  `json:"transaction_id,omitempty"`
	CreatedBy     string  `json:"created_by"`
	ApprovedBy    string  `json:"approved_by,omitempty"`
	PaidBy        string  `json:"paid_by,omitempty"`
	CreatedAt     string  `json:"created_at"`
	ApprovedAt    *string `json:"approved_at,omitempty"`
	PaidAt        *string `json:"paid_at,omitempty"`
	CancelledAt   *string `json:"cancelled_at,omitempty"`
}

type ExpenseResponse struct {
	Expense  ExpenseDTO   `json:"expense"`
	Snapshot *SnapshotDTO `json:"snapshot,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`

	// Set on insufficient funds.
	Account   string `json:"account,omitempty"`
	Available *int64 `json:"available,omitempty"`
	Required  *int64 `json:"required,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// minorDigits is the number of decimal places shown for display amounts.
const minorDigits = 2

func display(a treasury.Amount) string {
	return a.Decimal(minorDigits).StringFixed(minorDigits)
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toBalancesDTO(b treasury.Balances) BalancesDTO {
	return BalancesDTO{
		Registry:    int64(b.Registry),
		Safe:        int64(b.Safe),
		Bank:        int64(b.Bank),
		MobileMoney: int64(b.MobileMoney),
	}
}

func toSnapshotDTO(s treasury.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		Registry:            int64(s.Registry),
		Safe:                int64(s.Safe),
		Bank:                int64(s.Bank),
		MobileMoney:         int64(s.MobileMoney),
		TotalLiquidAssets:   int64(s.TotalLiquidAssets()),
		RegistryDisplay:     display(s.Registry),
		SafeDisplay:         display(s.Safe),
		BankDisplay:         display(s.Bank),
		MobileMoneyDisplay:  display(s.MobileMoney),
		RegistryFloatTarget: int64(s.RegistryFloatTarget),
		RegistryShortfall:   int64(s.RegistryShortfall()),
		SafeThresholdMin:    int64(s.SafeThresholdMin),
		SafeThresholdMax:    int64(s.SafeThresholdMax),
		SafeStatus:          string(s.SafeStatus()),
		LastVerifiedAt:      formatTimePtr(s.LastVerifiedAt),
		LastVerifiedBy:      s.LastVerifiedBy,
		UpdatedAt:           formatTime(s.UpdatedAt),
		Version:             s.Version,
	}
}

func toTransactionDTO(r treasury.TransactionRecord) TransactionDTO {
	deltas := make(map[string]int64, len(r.Deltas))
	for a, d := range r.Deltas {
		deltas[string(a)] = int64(d)
	}
	return TransactionDTO{
		ID:            r.ID,
		Sequence:      r.Sequence,
		Type:          string(r.Type),
		Direction:     string(r.Direction),
		Amount:        int64(r.Amount),
		Deltas:        deltas,
		BalancesAfter: toBalancesDTO(r.BalancesAfter),
		Description:   r.Description,
		ReferenceKind: string(r.Reference.Kind),
		ReferenceID:   r.Reference.ID,
		RecordedBy:    r.RecordedBy,
		RecordedAt:    formatTime(r.RecordedAt),
	}
}

func toMutationResponse(s treasury.Snapshot, r *treasury.TransactionRecord) MutationResponse {
	resp := MutationResponse{Snapshot: toSnapshotDTO(s)}
	if r != nil {
		dto := toTransactionDTO(*r)
		resp.Transaction = &dto
	}
	return resp
}

func toAuditDTO(a treasury.AuditReport) AuditDTO {
	return AuditDTO{
		Consistent:   a.Consistent,
		Records:      a.Records,
		Replayed:     toBalancesDTO(a.Replayed),
		Snapshot:     toBalancesDTO(a.Snapshot),
		Drift:        toBalancesDTO(a.Drift),
		BrokenRecord: a.BrokenRecord,
	}
}

func toVerificationDTO(v treasury.DailyVerification) VerificationDTO {
	return VerificationDTO{
		ID:              v.ID,
		Date:            v.Date.String(),
		ExpectedBalance: int64(v.ExpectedBalance),
		CountedBalance:  int64(v.CountedBalance),
		Discrepancy:     int64(v.Discrepancy),
		Status:          string(v.Status),
		Explanation:     v.Explanation,
		TransactionID:   v.TransactionID,
		VerifiedBy:      v.VerifiedBy,
		VerifiedAt:      formatTime(v.VerifiedAt),
	}
}

func toBankTransferDTO(t treasury.BankTransfer) BankTransferDTO {
	return BankTransferDTO{
		ID:            t.ID,
		Type:          string(t.Type),
		Amount:        int64(t.Amount),
		SafeBefore:    int64(t.SafeBefore),
		SafeAfter:     int64(t.SafeAfter),
		BankBefore:    int64(t.BankBefore),
		BankAfter:     int64(t.BankAfter),
		BankReference: t.BankReference,
		Notes:         t.Notes,
		TransactionID: t.TransactionID,
		RecordedBy:    t.RecordedBy,
		RecordedAt:    formatTime(t.RecordedAt),
	}
}

func toSalaryPaymentDTO(p payments.SalaryPayment) SalaryPaymentDTO {
	return SalaryPaymentDTO{
		ID:               p.ID,
		UserID:           p.UserID,
		Period:           p.Period,
		GrossAmount:      int64(p.GrossAmount),
		AdvanceDeduction: int64(p.AdvanceDeduction),
		NetAmount:        int64(p.NetAmount),
		Status:           string(p.Status),
		Method:           string(p.Method),
		Notes:            p.Notes,
		TransactionID:    p.TransactionID,
		CreatedBy:        p.CreatedBy,
		ApprovedBy:       p.ApprovedBy,
		PaidBy:           p.PaidBy,
		CreatedAt:        formatTime(p.CreatedAt),
		ApprovedAt:       formatTimePtr(p.ApprovedAt),
		PaidAt:           formatTimePtr(p.PaidAt),
		CancelledAt:      formatTimePtr(p.CancelledAt),
	}
}

func toRecoupmentDTO(r payments.AdvanceRecoupment) RecoupmentDTO {
	return RecoupmentDTO{
		ID:                r.ID,
		SalaryAdvanceID:   r.SalaryAdvanceID,
		SalaryPaymentID:   r.SalaryPaymentID,
		Amount:            int64(r.Amount),
		InstallmentNumber: r.InstallmentNumber,
		Manual:            r.Manual,
		TransactionID:     r.TransactionID,
		RecordedBy:        r.RecordedBy,
		CreatedAt:         formatTime(r.CreatedAt),
	}
}

func toRecoupmentDTOs(rs []payments.AdvanceRecoupment) []RecoupmentDTO {
	out := make([]RecoupmentDTO, len(rs))
	for i, r := range rs {
		out[i] = toRecoupmentDTO(r)
	}
	return out
}

func toAdvanceDTO(a payments.SalaryAdvance) AdvanceDTO {
	return AdvanceDTO{
		ID:                   a.ID,
		UserID:               a.UserID,
		Amount:               int64(a.Amount),
		Method:               string(a.Method),
		Strategy:             string(a.Strategy),
		NumberOfInstallments: a.NumberOfInstallments,
		TotalRecouped:        int64(a.TotalRecouped),
		RemainingBalance:     int64(a.RemainingBalance),
		Status:               string(a.Status),
		Notes:                a.Notes,
		TransactionID:        a.TransactionID,
		DisbursedBy:          a.DisbursedBy,
		DisbursedAt:          formatTime(a.DisbursedAt),
		UpdatedAt:            formatTime(a.UpdatedAt),
	}
}

func toExpenseDTO(e payments.Expense) ExpenseDTO {
	return ExpenseDTO{
		ID:            e.ID,
		Title:         e.Title,
		Category:      e.Category,
		Amount:        int64(e.Amount),
		Method:        string(e.Method),
		Status:        string(e.Status),
		Notes:         e.Notes,
		TransactionID: e.TransactionID,
		CreatedBy:     e.CreatedBy,
		ApprovedBy:    e.ApprovedBy,
		PaidBy:        e.PaidBy,
		CreatedAt:     formatTime(e.CreatedAt),
		ApprovedAt:    formatTimePtr(e.ApprovedAt),
		PaidAt:        formatTimePtr(e.PaidAt),
		CancelledAt:   formatTimePtr(e.CancelledAt),
	}
}
