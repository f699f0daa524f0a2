/*
handlers.go - HTTP API handlers for the treasury engine

PURPOSE:
  Exposes the treasury ledger and the payment flows via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the domain
  services. No business rule lives here.

ENDPOINTS:
  Treasury:
    GET    /api/treasury                          Current snapshot
    POST   /api/treasury/init                     Opening balances and limits
    PUT    /api/treasury/limits                   Float target and safe thresholds
    POST   /api/treasury/mutations                Generic signed mutation
    POST   /api/treasury/income                   Book income into one account
    GET    /api/treasury/transactions             Transaction log (filterable)
    POST   /api/treasury/transactions/{id}/reverse Compensating record
    GET    /api/treasury/audit                    Replay log against snapshot
    GET    /api/treasury/verifications            Count history
    POST   /api/treasury/verifications            Record today's safe count
    GET    /api/treasury/bank-transfers           Transfer history
    POST   /api/treasury/bank-transfers           Safe <-> bank transfer

  Salaries:
    POST   /api/salaries                          Create pending payment
    GET    /api/salaries/{id}                     Payment details
    POST   /api/salaries/{id}/approve|cancel|pay  Lifecycle

  Advances:
    POST   /api/advances                          Disburse
    GET    /api/advances/{id}                     Advance details
    POST   /api/advances/{id}/repay|cancel        Direct repayment, write-off
    GET    /api/users/{id}/advances               Advances of one user

  Expenses:
    POST   /api/expenses                          Create pending expense
    GET    /api/expenses/{id}                     Expense details
    POST   /api/expenses/{id}/approve|cancel|pay  Lifecycle

REQUEST FLOW:
  1. Parse HTTP request
  2. Call the domain service
  3. Serialize response
  4. Map domain errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Input errors (bad amount, unknown method, missing explanation)
  - 404: Resource not found
  - 409: State conflicts (wrong status, already verified) and concurrent
         modification (safe to retry)
  - 422: Insufficient funds, cash register closed, treasury not initialized
  - 500: Internal errors (invariant violations)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/treasury-engine/logging"
	"github.com/warp/treasury-engine/payments"
	"github.com/warp/treasury-engine/treasury"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *treasury.Ledger
	Verifier  *treasury.DailyVerifier
	Transfers *treasury.BankTransferService
	Salaries  *payments.SalaryService
	Advances  *payments.AdvanceService
	Expenses  *payments.ExpenseService
}

// NewHandler wires every service on top of one ledger.
func NewHandler(ledger *treasury.Ledger) *Handler {
	return &Handler{
		Ledger:    ledger,
		Verifier:  treasury.NewDailyVerifier(ledger),
		Transfers: treasury.NewBankTransferService(ledger),
		Salaries:  payments.NewSalaryService(ledger),
		Advances:  payments.NewAdvanceService(ledger),
		Expenses:  payments.NewExpenseService(ledger),
	}
}

// Health reports the service is up.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// TREASURY ENDPOINTS
// =============================================================================

// GetSnapshot returns the current balances.
// GET /api/treasury
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Ledger.Snapshot(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// Initialize creates the snapshot with opening balances.
// POST /api/treasury/init
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req InitRequest
	if !decode(w, r, &req) {
		return
	}

	snap, err := h.Ledger.Initialize(r.Context(),
		treasury.OpeningBalances{
			Registry:    treasury.Amount(req.Registry),
			Safe:        treasury.Amount(req.Safe),
			Bank:        treasury.Amount(req.Bank),
			MobileMoney: treasury.Amount(req.MobileMoney),
		},
		treasury.Limits{
			RegistryFloatTarget: treasury.Amount(req.RegistryFloatTarget),
			SafeThresholdMin:    treasury.Amount(req.SafeThresholdMin),
			SafeThresholdMax:    treasury.Amount(req.SafeThresholdMax),
		},
		actorFrom(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSnapshotDTO(snap))
}

// SetLimits updates the float target and safe thresholds.
// PUT /api/treasury/limits
func (h *Handler) SetLimits(w http.ResponseWriter, r *http.Request) {
	var req LimitsRequest
	if !decode(w, r, &req) {
		return
	}

	snap, err := h.Ledger.SetLimits(r.Context(), treasury.Limits{
		RegistryFloatTarget: treasury.Amount(req.RegistryFloatTarget),
		SafeThresholdMin:    treasury.Amount(req.SafeThresholdMin),
		SafeThresholdMax:    treasury.Amount(req.SafeThresholdMax),
	}, actorFrom(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// Mutate applies signed deltas through the balance mutator.
// POST /api/treasury/mutations
func (h *Handler) Mutate(w http.ResponseWriter, r *http.Request) {
	var req MutationRequest
	if !decode(w, r, &req) {
		return
	}

	deltas := make(treasury.Deltas, len(req.Deltas))
	for name, d := range req.Deltas {
		account, err := treasury.ParseAccount(name)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		deltas[account] = treasury.Amount(d)
	}

	snap, rec, err := h.Ledger.Mutate(r.Context(), deltas, treasury.Meta{
		Type:        treasury.TransactionType(req.Type),
		Direction:   treasury.Direction(req.Direction),
		Amount:      treasury.Amount(req.Amount),
		Description: req.Description,
		Reference:   treasury.Reference{Kind: treasury.ReferenceKind(req.ReferenceKind), ID: req.ReferenceID},
		RecordedBy:  actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMutationResponse(snap, recordPtr(rec)))
}

// RecordIncome books money received into one account.
// POST /api/treasury/income
func (h *Handler) RecordIncome(w http.ResponseWriter, r *http.Request) {
	var req IncomeRequest
	if !decode(w, r, &req) {
		return
	}

	snap, rec, err := h.Ledger.RecordIncome(r.Context(), treasury.IncomeRequest{
		Account:     treasury.Account(req.Account),
		Amount:      treasury.Amount(req.Amount),
		Type:        treasury.TransactionType(req.Type),
		Description: req.Description,
		RecordedBy:  actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMutationResponse(snap, recordPtr(rec)))
}

// ListTransactions returns the log, optionally filtered.
// GET /api/treasury/transactions?type=a&type=b&reference_kind=k&reference_id=x&from=RFC3339&to=RFC3339&limit=n&order=desc
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTransactionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}

	recs, err := h.Ledger.Transactions(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	dtos := make([]TransactionDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toTransactionDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Reverse books a compensating record for an earlier one.
// POST /api/treasury/transactions/{id}/reverse
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if !decode(w, r, &req) {
		return
	}

	snap, rec, err := h.Ledger.Reverse(r.Context(), chi.URLParam(r, "id"), req.Reason, actorFrom(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMutationResponse(snap, recordPtr(rec)))
}

// Audit replays the log and compares it with the snapshot.
// GET /api/treasury/audit
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Ledger.Audit(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTO(report))
}

// Verify records today's physical count of the safe.
// POST /api/treasury/verifications
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !decode(w, r, &req) {
		return
	}

	v, snap, err := h.Verifier.Verify(r.Context(), treasury.VerifyRequest{
		CountedBalance: treasury.Amount(req.CountedBalance),
		Explanation:    req.Explanation,
		VerifiedBy:     actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, VerificationResponse{
		Verification: toVerificationDTO(v),
		Snapshot:     toSnapshotDTO(snap),
	})
}

// TodayVerification returns today's count, 404 if the safe was not counted.
// GET /api/treasury/verifications/today
func (h *Handler) TodayVerification(w http.ResponseWriter, r *http.Request) {
	v, err := h.Verifier.Today(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "Safe not verified today", nil)
		return
	}
	writeJSON(w, http.StatusOK, toVerificationDTO(*v))
}

// ListVerifications returns counts, newest first.
// GET /api/treasury/verifications?limit=n
func (h *Handler) ListVerifications(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}

	vs, err := h.Verifier.History(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	dtos := make([]VerificationDTO, len(vs))
	for i, v := range vs {
		dtos[i] = toVerificationDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Transfer moves money between the safe and the bank.
// POST /api/treasury/bank-transfers
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}

	t, snap, err := h.Transfers.Transfer(r.Context(), treasury.TransferRequest{
		Type:          treasury.TransferType(req.Type),
		Amount:        treasury.Amount(req.Amount),
		BankReference: req.BankReference,
		Notes:         req.Notes,
		RecordedBy:    actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, TransferResponse{
		Transfer: toBankTransferDTO(t),
		Snapshot: toSnapshotDTO(snap),
	})
}

// ListBankTransfers returns transfers, newest first.
// GET /api/treasury/bank-transfers?limit=n
func (h *Handler) ListBankTransfers(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}

	ts, err := h.Transfers.History(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	dtos := make([]BankTransferDTO, len(ts))
	for i, t := range ts {
		dtos[i] = toBankTransferDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SALARY ENDPOINTS
// =============================================================================

// CreateSalary registers a pending salary payment.
// POST /api/salaries
func (h *Handler) CreateSalary(w http.ResponseWriter, r *http.Request) {
	var req CreateSalaryRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.Salaries.Create(r.Context(), payments.CreateSalaryRequest{
		UserID:      req.UserID,
		Period:      req.Period,
		GrossAmount: treasury.Amount(req.GrossAmount),
		Notes:       req.Notes,
		CreatedBy:   actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSalaryPaymentDTO(p))
}

// GetSalary returns one salary payment.
// GET /api/salaries/{id}
func (h *Handler) GetSalary(w http.ResponseWriter, r *http.Request) {
	p, err := h.Salaries.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSalaryPaymentDTO(p))
}

// ApproveSalary moves a pending payment to approved.
// POST /api/salaries/{id}/approve
func (h *Handler) ApproveSalary(w http.ResponseWriter, r *http.Request) {
	p, err := h.Salaries.Approve(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSalaryPaymentDTO(p))
}

// CancelSalary cancels a pending or approved payment.
// POST /api/salaries/{id}/cancel
func (h *Handler) CancelSalary(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	p, err := h.Salaries.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason, actorFrom(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSalaryPaymentDTO(p))
}

// PaySalary releases an approved salary, recouping active advances.
// POST /api/salaries/{id}/pay
func (h *Handler) PaySalary(w http.ResponseWriter, r *http.Request) {
	var req PaySalaryRequest
	if !decode(w, r, &req) {
		return
	}

	manual := make([]payments.Deduction, len(req.ManualDeductions))
	for i, d := range req.ManualDeductions {
		manual[i] = payments.Deduction{AdvanceID: d.AdvanceID, Amount: treasury.Amount(d.Amount), Manual: true}
	}

	res, err := h.Salaries.Pay(r.Context(), payments.PayRequest{
		PaymentID:        chi.URLParam(r, "id"),
		Method:           payments.Method(req.Method),
		Notes:            req.Notes,
		PaidBy:           actorFrom(r),
		ManualDeductions: manual,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := PaySalaryResponse{
		Payment:    toSalaryPaymentDTO(res.Payment),
		Deductions: toRecoupmentDTOs(res.Deductions),
		Snapshot:   toSnapshotDTO(res.Snapshot),
	}
	if res.Transaction != nil {
		dto := toTransactionDTO(*res.Transaction)
		resp.Transaction = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// SalaryRecoupments lists the deductions withheld from one payment.
// GET /api/salaries/{id}/recoupments
func (h *Handler) SalaryRecoupments(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Salaries.Recoupments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecoupmentDTOs(rs))
}

// =============================================================================
// ADVANCE ENDPOINTS
// =============================================================================

// DisburseAdvance pays out a salary advance.
// POST /api/advances
func (h *Handler) DisburseAdvance(w http.ResponseWriter, r *http.Request) {
	var req DisburseRequest
	if !decode(w, r, &req) {
		return
	}

	adv, snap, err := h.Advances.Disburse(r.Context(), payments.DisburseRequest{
		UserID:               req.UserID,
		Amount:               treasury.Amount(req.Amount),
		Method:               payments.Method(req.Method),
		Strategy:             payments.Strategy(req.Strategy),
		NumberOfInstallments: req.NumberOfInstallments,
		Notes:                req.Notes,
		DisbursedBy:          actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	s := toSnapshotDTO(snap)
	writeJSON(w, http.StatusCreated, AdvanceResponse{Advance: toAdvanceDTO(adv), Snapshot: &s})
}

// GetAdvance returns one advance.
// GET /api/advances/{id}
func (h *Handler) GetAdvance(w http.ResponseWriter, r *http.Request) {
	adv, err := h.Advances.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AdvanceResponse{Advance: toAdvanceDTO(adv)})
}

// RepayAdvance books a direct repayment outside payroll.
// POST /api/advances/{id}/repay
func (h *Handler) RepayAdvance(w http.ResponseWriter, r *http.Request) {
	var req RepayRequest
	if !decode(w, r, &req) {
		return
	}

	adv, rec, err := h.Advances.Repay(r.Context(), payments.RepayRequest{
		AdvanceID:  chi.URLParam(r, "id"),
		Amount:     treasury.Amount(req.Amount),
		Method:     payments.Method(req.Method),
		Notes:      req.Notes,
		RecordedBy: actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RepayResponse{Advance: toAdvanceDTO(adv), Recoupment: toRecoupmentDTO(rec)})
}

// CancelAdvance writes off an active advance.
// POST /api/advances/{id}/cancel
func (h *Handler) CancelAdvance(w http.ResponseWriter, r *http.Request) {
	adv, err := h.Advances.Cancel(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AdvanceResponse{Advance: toAdvanceDTO(adv)})
}

// AdvanceRecoupments lists the deductions booked against one advance.
// GET /api/advances/{id}/recoupments
func (h *Handler) AdvanceRecoupments(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Advances.Recoupments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecoupmentDTOs(rs))
}

// ListUserAdvances returns one user's advances, oldest first.
// GET /api/users/{id}/advances?status=active
func (h *Handler) ListUserAdvances(w http.ResponseWriter, r *http.Request) {
	status := payments.AdvanceStatus(r.URL.Query().Get("status"))
	advs, err := h.Advances.ListByUser(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	dtos := make([]AdvanceDTO, len(advs))
	for i, a := range advs {
		dtos[i] = toAdvanceDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EXPENSE ENDPOINTS
// =============================================================================

// CreateExpense registers a pending expense.
// POST /api/expenses
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req CreateExpenseRequest
	if !decode(w, r, &req) {
		return
	}

	e, err := h.Expenses.Create(r.Context(), payments.CreateExpenseRequest{
		Title:     req.Title,
		Category:  req.Category,
		Amount:    treasury.Amount(req.Amount),
		Method:    payments.Method(req.Method),
		Notes:     req.Notes,
		CreatedBy: actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ExpenseResponse{Expense: toExpenseDTO(e)})
}

// GetExpense returns one expense.
// GET /api/expenses/{id}
func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := h.Expenses.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpenseResponse{Expense: toExpenseDTO(e)})
}

// ApproveExpense moves a pending expense to approved.
// POST /api/expenses/{id}/approve
func (h *Handler) ApproveExpense(w http.ResponseWriter, r *http.Request) {
	e, err := h.Expenses.Approve(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpenseResponse{Expense: toExpenseDTO(e)})
}

// CancelExpense cancels a pending or approved expense.
// POST /api/expenses/{id}/cancel
func (h *Handler) CancelExpense(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	e, err := h.Expenses.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason, actorFrom(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpenseResponse{Expense: toExpenseDTO(e)})
}

// PayExpense pays an approved expense from its method account.
// POST /api/expenses/{id}/pay
func (h *Handler) PayExpense(w http.ResponseWriter, r *http.Request) {
	var req PayExpenseRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	e, snap, err := h.Expenses.Pay(r.Context(), chi.URLParam(r, "id"), req.Notes, actorFrom(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	s := toSnapshotDTO(snap)
	writeJSON(w, http.StatusOK, ExpenseResponse{Expense: toExpenseDTO(e), Snapshot: &s})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: codeFor(status)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	}
	return "internal"
}

// statusFor classifies a domain error. The payments helpers also cover
// every treasury error.
func statusFor(err error) int {
	switch {
	case payments.IsInternal(err):
		return http.StatusInternalServerError
	case payments.IsInputError(err):
		return http.StatusBadRequest
	case payments.IsNotFound(err):
		return http.StatusNotFound
	case payments.IsStateError(err), treasury.IsRetryable(err):
		return http.StatusConflict
	case payments.IsResourceError(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log := logging.FromContext(r.Context())
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, status, "Internal error", err)
		return
	}
	resp := ErrorResponse{Error: err.Error(), Code: codeFor(status)}
	attachFunds(&resp, err)
	writeJSON(w, status, resp)
}

// attachFunds copies the amounts of an insufficient-funds error into resp.
func attachFunds(resp *ErrorResponse, err error) {
	var (
		account             treasury.Account
		available, required treasury.Amount
		paymentErr          *payments.PaymentFundsError
		ledgerErr           *treasury.InsufficientFundsError
	)
	switch {
	case errors.As(err, &paymentErr):
		account, available, required = paymentErr.Account, paymentErr.Available, paymentErr.Required
	case errors.As(err, &ledgerErr):
		account, available, required = ledgerErr.Account, ledgerErr.Available, ledgerErr.Required
	default:
		return
	}
	a, r := int64(available), int64(required)
	resp.Account = string(account)
	resp.Available = &a
	resp.Required = &r
}

// decode reads a required JSON body. Unknown fields are rejected.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func recordPtr(rec treasury.TransactionRecord) *treasury.TransactionRecord {
	if rec.ID == "" {
		return nil
	}
	return &rec
}

func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer, got %q", s)
	}
	return n, nil
}

func parseTransactionFilter(r *http.Request) (treasury.TransactionFilter, error) {
	q := r.URL.Query()
	var f treasury.TransactionFilter

	for _, t := range q["type"] {
		tt := treasury.TransactionType(t)
		if !tt.Valid() {
			return f, fmt.Errorf("unknown transaction type %q", t)
		}
		f.Types = append(f.Types, tt)
	}
	if kind := q.Get("reference_kind"); kind != "" {
		f.Reference = &treasury.Reference{Kind: treasury.ReferenceKind(kind), ID: q.Get("reference_id")}
	}
	for key, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		s := q.Get(key)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, fmt.Errorf("%s: %w", key, err)
		}
		*dst = &t
	}
	limit, err := parseLimit(r)
	if err != nil {
		return f, err
	}
	f.Limit = limit
	f.Descending = strings.EqualFold(q.Get("order"), "desc")
	return f, nil
}
