package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/commispay/backend/internal/audit"
	"github.com/commispay/backend/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ComplianceChecker may veto payout creation. The risk scoring itself lives
// in a separate service; this engine only consults the verdict.
type ComplianceChecker interface {
	ApprovePayout(ctx context.Context, accountID string, amount int64) error
}

type allowAllCompliance struct{}

func (allowAllCompliance) ApprovePayout(context.Context, string, int64) error { return nil }

// PayoutService is the request manager and state machine for payout
// requests. All five statuses and every legal transition between them are
// enforced here and nowhere else. Funds are reserved at process time (late
// reservation): creation only performs a read-only balance check, so two
// payouts created back to back can both pass the check and the second one
// fails later at process. That over-subscription window is an accepted
// policy trade-off, not a bug.
type PayoutService struct {
	db         *sql.DB
	redis      *redis.Client
	ledger     *LedgerService
	banks      *BankService
	compliance ComplianceChecker
	audit      *audit.Logger
	validator  *ValidationHelper
	tdsRate    TDSRate
}

func NewPayoutService(db *sql.DB, redisClient *redis.Client, banks *BankService) *PayoutService {
	return &PayoutService{
		db:         db,
		redis:      redisClient,
		ledger:     NewLedgerService(db),
		banks:      banks,
		compliance: allowAllCompliance{},
		audit:      audit.NewLogger(),
		validator:  NewValidationHelper(),
		tdsRate:    DefaultTDSRate(),
	}
}

// SetCompliance swaps in a real compliance service. Kept as a setter so the
// default wiring stays allow-all in environments without one.
func (ps *PayoutService) SetCompliance(c ComplianceChecker) {
	if c != nil {
		ps.compliance = c
	}
}

type CreatePayoutRequest struct {
	AccountID       string             `json:"accountId" validate:"required"`
	RequestedAmount int64              `json:"requestedAmount" validate:"required"`
	BankDetails     models.BankDetails `json:"bankDetails" validate:"required"`
}

type payoutActionRequest struct {
	TransactionID string `json:"transactionId,omitempty" validate:"omitempty,max=64"`
	Reason        string `json:"reason,omitempty" validate:"omitempty,max=500"`
	Notes         string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// createPayout validates and persists a pending payout request. The balance
// check here is read-only: nothing is reserved until process.
func (ps *PayoutService) createPayout(ctx context.Context, req *CreatePayoutRequest, actor string) (*models.PayoutRequest, error) {
	if req.RequestedAmount <= 0 {
		return nil, ErrInvalidAmount
	}

	if err := ps.validator.ValidateStruct(&req.BankDetails); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBankDetails, err)
	}
	if ps.banks != nil {
		if !ps.banks.KnownBankCode(req.BankDetails.BankCode) {
			return nil, fmt.Errorf("%w: unknown bank code %s", ErrInvalidBankDetails, req.BankDetails.BankCode)
		}
		if !ps.banks.ValidIFSC(req.BankDetails.BankCode, req.BankDetails.IFSC) {
			return nil, fmt.Errorf("%w: IFSC %s does not match bank %s", ErrInvalidBankDetails, req.BankDetails.IFSC, req.BankDetails.BankCode)
		}
	}

	if err := ps.compliance.ApprovePayout(ctx, req.AccountID, req.RequestedAmount); err != nil {
		return nil, err
	}

	balance, err := ps.ledger.Balance(req.AccountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("account %s not found", req.AccountID)
		}
		return nil, err
	}
	if balance < req.RequestedAmount {
		return nil, ErrInsufficientBalance
	}

	tds, net := ComputeTDS(req.RequestedAmount, ps.tdsRate)

	payout := &models.PayoutRequest{
		ID:              uuid.New().String(),
		AccountID:       req.AccountID,
		RequestedAmount: req.RequestedAmount,
		TDSAmount:       tds,
		NetAmount:       net,
		Currency:        "INR",
		BankDetails:     req.BankDetails,
		Status:          models.PayoutPending,
		RequestedBy:     actor,
		CreatedAt:       time.Now(),
	}

	bankJSON, err := json.Marshal(payout.BankDetails)
	if err != nil {
		return nil, err
	}

	_, err = ps.db.Exec(`
		INSERT INTO payouts
		(id, account_id, requested_amount, tds_amount, net_amount, currency, bank_details, status, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		payout.ID, payout.AccountID, payout.RequestedAmount, payout.TDSAmount, payout.NetAmount,
		payout.Currency, bankJSON, payout.Status, payout.RequestedBy, payout.CreatedAt)
	if err != nil {
		return nil, err
	}

	ps.audit.LogOperation(payout.ID, payout.AccountID, "PAYOUT_CREATED",
		fmt.Sprintf("requested=%d tds=%d net=%d by=%s", payout.RequestedAmount, tds, net, actor))
	return payout, nil
}

// process moves a pending payout to processing, debiting the account in the
// same transaction. If the debit fails (funds consumed by a concurrent
// payout since creation), the payout stays pending and the error surfaces;
// there is no silent retry.
func (ps *PayoutService) process(payoutID, actor, notes string) (*models.PayoutRequest, error) {
	tx, err := ps.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	payout, err := ps.lockPayout(tx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != models.PayoutPending {
		return nil, &InvalidStateTransitionError{Entity: "payout", ID: payoutID, From: string(payout.Status), To: string(models.PayoutProcessing)}
	}

	if err := ps.ledger.DebitTx(tx, payout.AccountID, payout.ID, payout.RequestedAmount); err != nil {
		ps.audit.LogError(payout.ID, payout.AccountID, err)
		return nil, err
	}

	now := time.Now()
	if err := ps.transitionTx(tx, payoutID, models.PayoutPending, models.PayoutProcessing,
		`processed_by = $3, processed_at = $4, notes = $5`, actor, now, notes); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	payout.Status = models.PayoutProcessing
	payout.ProcessedBy = actor
	payout.ProcessedAt = &now
	payout.Notes = notes

	ps.audit.LogTransfer(payout.ID, payout.AccountID, payout.BankDetails.AccountNumber, payout.RequestedAmount, "PROCESSING")
	return payout, nil
}

// complete records the admin's confirmation that the bank transfer went
// through. The admin action is the authoritative success signal at this
// layer; transactionID is informational.
func (ps *PayoutService) complete(payoutID, actor, transactionID, notes string) (*models.PayoutRequest, error) {
	tx, err := ps.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	payout, err := ps.lockPayout(tx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != models.PayoutProcessing {
		return nil, &InvalidStateTransitionError{Entity: "payout", ID: payoutID, From: string(payout.Status), To: string(models.PayoutCompleted)}
	}

	// Empty notes leave the process-time notes in place rather than wiping
	// them.
	now := time.Now()
	if err := ps.transitionTx(tx, payoutID, models.PayoutProcessing, models.PayoutCompleted,
		`completed_by = $3, completed_at = $4, gateway_transaction_id = $5, notes = COALESCE(NULLIF($6, ''), notes)`, actor, now, transactionID, notes); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	payout.Status = models.PayoutCompleted
	payout.CompletedBy = actor
	payout.CompletedAt = &now
	payout.GatewayTransactionID = transactionID
	if notes != "" {
		payout.Notes = notes
	}

	ps.audit.LogTransfer(payout.ID, payout.AccountID, payout.BankDetails.AccountNumber, payout.NetAmount, "COMPLETED")
	ps.notifyCompleted(payout)
	return payout, nil
}

// reject declines a pending payout. Reason is mandatory; there is no ledger
// effect because nothing was debited yet.
func (ps *PayoutService) reject(payoutID, actor, reason string) (*models.PayoutRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("rejection reason is required")
	}

	tx, err := ps.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	payout, err := ps.lockPayout(tx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != models.PayoutPending {
		return nil, &InvalidStateTransitionError{Entity: "payout", ID: payoutID, From: string(payout.Status), To: string(models.PayoutRejected)}
	}

	now := time.Now()
	if err := ps.transitionTx(tx, payoutID, models.PayoutPending, models.PayoutRejected,
		`rejected_by = $3, rejected_at = $4, rejection_reason = $5`, actor, now, reason); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	payout.Status = models.PayoutRejected
	payout.RejectedBy = actor
	payout.RejectedAt = &now
	payout.RejectionReason = reason

	ps.audit.LogOperation(payout.ID, payout.AccountID, "PAYOUT_REJECTED", fmt.Sprintf("reason=%s by=%s", reason, actor))
	return payout, nil
}

// CompleteTx marks one batch member completed inside the caller's
// transaction. Used by the settlement reconciler for its all-or-nothing
// member completion.
func (ps *PayoutService) CompleteTx(tx *sql.Tx, payoutID, actor string) error {
	payout, err := ps.lockPayout(tx, payoutID)
	if err != nil {
		return err
	}
	if payout.Status != models.PayoutProcessing {
		return &InvalidStateTransitionError{Entity: "payout", ID: payoutID, From: string(payout.Status), To: string(models.PayoutCompleted)}
	}

	return ps.transitionTx(tx, payoutID, models.PayoutProcessing, models.PayoutCompleted,
		`completed_by = $3, completed_at = $4`, actor, time.Now())
}

// CancelTx cancels one processing payout inside the caller's transaction,
// crediting the debited amount back to the account. Used when a containing
// settlement batch fails.
func (ps *PayoutService) CancelTx(tx *sql.Tx, payoutID, actor string) error {
	payout, err := ps.lockPayout(tx, payoutID)
	if err != nil {
		return err
	}
	if payout.Status != models.PayoutProcessing {
		return &InvalidStateTransitionError{Entity: "payout", ID: payoutID, From: string(payout.Status), To: string(models.PayoutCancelled)}
	}

	if err := ps.ledger.CreditTx(tx, payout.AccountID, payout.ID, payout.RequestedAmount); err != nil {
		return err
	}

	if err := ps.transitionTx(tx, payoutID, models.PayoutProcessing, models.PayoutCancelled,
		`cancelled_at = $3`, time.Now()); err != nil {
		return err
	}

	ps.audit.LogTransfer(payout.ID, payout.AccountID, payout.BankDetails.AccountNumber, payout.RequestedAmount, "CANCELLED")
	return nil
}

// transitionTx performs the status-guarded UPDATE. The WHERE status clause
// plus the rows-affected check is what makes two racing transitions resolve
// to exactly one winner even across processes.
func (ps *PayoutService) transitionTx(tx *sql.Tx, payoutID string, from, to models.PayoutStatus, setClause string, args ...interface{}) error {
	query := fmt.Sprintf(`UPDATE payouts SET status = $1, %s WHERE id = $2 AND status = '%s'`, setClause, from)
	all := append([]interface{}{to, payoutID}, args...)

	result, err := tx.Exec(query, all...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return &InvalidStateTransitionError{Entity: "payout", ID: payoutID, From: string(from), To: string(to)}
	}
	return nil
}

func (ps *PayoutService) lockPayout(tx *sql.Tx, payoutID string) (*models.PayoutRequest, error) {
	row := tx.QueryRow(`
		SELECT id, account_id, requested_amount, tds_amount, net_amount, currency, bank_details, status,
		       COALESCE(gateway_transaction_id, ''), COALESCE(notes, ''), created_at
		FROM payouts
		WHERE id = $1
		FOR UPDATE`, payoutID)

	return scanPayoutCore(row)
}

func (ps *PayoutService) fetchPayout(payoutID string) (*models.PayoutRequest, error) {
	row := ps.db.QueryRow(`
		SELECT id, account_id, requested_amount, tds_amount, net_amount, currency, bank_details, status,
		       COALESCE(rejection_reason, ''), COALESCE(gateway_transaction_id, ''), COALESCE(notes, ''), batch_id,
		       COALESCE(requested_by, ''), COALESCE(processed_by, ''), COALESCE(completed_by, ''), COALESCE(rejected_by, ''),
		       created_at, processed_at, completed_at, rejected_at, cancelled_at
		FROM payouts
		WHERE id = $1`, payoutID)

	return scanPayoutFull(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayoutCore(row rowScanner) (*models.PayoutRequest, error) {
	var p models.PayoutRequest
	var bankJSON []byte
	err := row.Scan(&p.ID, &p.AccountID, &p.RequestedAmount, &p.TDSAmount, &p.NetAmount, &p.Currency,
		&bankJSON, &p.Status, &p.GatewayTransactionID, &p.Notes, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(bankJSON, &p.BankDetails); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPayoutFull(row rowScanner) (*models.PayoutRequest, error) {
	var p models.PayoutRequest
	var bankJSON []byte
	err := row.Scan(&p.ID, &p.AccountID, &p.RequestedAmount, &p.TDSAmount, &p.NetAmount, &p.Currency,
		&bankJSON, &p.Status,
		&p.RejectionReason, &p.GatewayTransactionID, &p.Notes, &p.BatchID,
		&p.RequestedBy, &p.ProcessedBy, &p.CompletedBy, &p.RejectedBy,
		&p.CreatedAt, &p.ProcessedAt, &p.CompletedAt, &p.RejectedAt, &p.CancelledAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(bankJSON, &p.BankDetails); err != nil {
		return nil, err
	}
	return &p, nil
}

func (ps *PayoutService) fetchPayouts(status string, from, to *time.Time, page, pageSize int) (*models.PayoutPage, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, status)
		argIndex++
	}
	if from != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *from)
		argIndex++
	}
	if to != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIndex))
		args = append(args, *to)
		argIndex++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var count int
	if err := ps.db.QueryRow(`SELECT COUNT(*) FROM payouts`+where, args...).Scan(&count); err != nil {
		return nil, err
	}

	query := `
		SELECT id, account_id, requested_amount, tds_amount, net_amount, currency, bank_details, status,
		       COALESCE(rejection_reason, ''), COALESCE(gateway_transaction_id, ''), COALESCE(notes, ''), batch_id,
		       COALESCE(requested_by, ''), COALESCE(processed_by, ''), COALESCE(completed_by, ''), COALESCE(rejected_by, ''),
		       created_at, processed_at, completed_at, rejected_at, cancelled_at
		FROM payouts` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := ps.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []models.PayoutRequest{}
	for rows.Next() {
		p, err := scanPayoutFull(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *p)
	}

	pageResp := &models.PayoutPage{Count: count, Results: results}
	if page*pageSize < count {
		next := page + 1
		pageResp.Next = &next
	}
	if page > 1 {
		prev := page - 1
		pageResp.Previous = &prev
	}
	return pageResp, nil
}

func (ps *PayoutService) notifyCompleted(payout *models.PayoutRequest) {
	if ps.redis == nil {
		return
	}
	data, err := json.Marshal(payout)
	if err != nil {
		return
	}
	if err := ps.redis.RPush(context.Background(), "payout_notify_queue", string(data)).Err(); err != nil {
		log.Printf("[PAYOUT] Failed to queue completion notification for %s: %v", payout.ID, err)
	}
}

// HTTP handlers

// CreatePayout handles payout request creation
// @Summary Create a payout request
// @Description Validate and create a pending payout request with precomputed TDS
// @Tags payouts
// @Accept json
// @Produce json
// @Param request body CreatePayoutRequest true "Payout request"
// @Success 201 {object} models.PayoutRequest
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /payouts [post]
func (ps *PayoutService) CreatePayout(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreatePayoutRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	payout, err := ps.createPayout(r.Context(), &req, actor)
	if err != nil {
		log.Printf("[PAYOUT] Create failed for account %s: %v", req.AccountID, err)
		writePayoutError(w, err)
		return
	}

	log.Printf("[PAYOUT] Created payout %s for account %s by %s", payout.ID, payout.AccountID, actor)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(payout)
}

// ProcessPayout handles the pending -> processing transition
// @Summary Process a payout
// @Description Debit the account and move the payout to processing. Idempotent: repeating the call after success returns the persisted state.
// @Tags payouts
// @Accept json
// @Produce json
// @Param payoutId path string true "Payout ID"
// @Success 200 {object} models.PayoutRequest
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /payouts/{payoutId}/process [post]
func (ps *PayoutService) ProcessPayout(w http.ResponseWriter, r *http.Request) {
	ps.handleTransition(w, r, models.PayoutProcessing, func(payoutID, actor string, req *payoutActionRequest) (*models.PayoutRequest, error) {
		return ps.process(payoutID, actor, req.Notes)
	})
}

// CompletePayout handles the processing -> completed transition
// @Summary Complete a payout
// @Description Record the admin's confirmation that the bank transfer succeeded. Idempotent on resubmission.
// @Tags payouts
// @Accept json
// @Produce json
// @Param payoutId path string true "Payout ID"
// @Success 200 {object} models.PayoutRequest
// @Failure 409 {object} ErrorResponse
// @Router /payouts/{payoutId}/complete [post]
func (ps *PayoutService) CompletePayout(w http.ResponseWriter, r *http.Request) {
	ps.handleTransition(w, r, models.PayoutCompleted, func(payoutID, actor string, req *payoutActionRequest) (*models.PayoutRequest, error) {
		return ps.complete(payoutID, actor, req.TransactionID, req.Notes)
	})
}

// RejectPayout handles the pending -> rejected transition
// @Summary Reject a payout
// @Description Decline a pending payout with a mandatory reason. No ledger effect.
// @Tags payouts
// @Accept json
// @Produce json
// @Param payoutId path string true "Payout ID"
// @Success 200 {object} models.PayoutRequest
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /payouts/{payoutId}/reject [post]
func (ps *PayoutService) RejectPayout(w http.ResponseWriter, r *http.Request) {
	ps.handleTransition(w, r, models.PayoutRejected, func(payoutID, actor string, req *payoutActionRequest) (*models.PayoutRequest, error) {
		if strings.TrimSpace(req.Reason) == "" {
			SendErrorResponse(w, "Rejection reason is required", http.StatusBadRequest, nil)
			return nil, nil
		}
		return ps.reject(payoutID, actor, req.Reason)
	})
}

// handleTransition is the shared handler body for the three admin actions.
// On InvalidStateTransition it re-fetches: when the payout is already in the
// target state the call is treated as an idempotent resubmission and the
// persisted record is returned unchanged; otherwise the caller gets 409 and
// must refresh.
func (ps *PayoutService) handleTransition(w http.ResponseWriter, r *http.Request, target models.PayoutStatus,
	fn func(payoutID, actor string, req *payoutActionRequest) (*models.PayoutRequest, error)) {

	payoutID := chi.URLParam(r, "payoutId")
	actor := actorFrom(r)

	var req payoutActionRequest
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1_048_576))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
	}
	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	payout, err := fn(payoutID, actor, &req)
	if payout == nil && err == nil {
		return // handler already responded
	}
	if err != nil {
		if IsInvalidStateTransition(err) {
			current, fetchErr := ps.fetchPayout(payoutID)
			if fetchErr == nil && current.Status == target {
				log.Printf("[PAYOUT] Idempotent resubmission of %s for payout %s by %s", target, payoutID, actor)
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(current)
				return
			}
			SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
			return
		}
		log.Printf("[PAYOUT] Transition to %s failed for %s: %v", target, payoutID, err)
		writePayoutError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payout)
}

// GetPayout retrieves one payout
// @Summary Get payout by ID
// @Tags payouts
// @Produce json
// @Param payoutId path string true "Payout ID"
// @Success 200 {object} models.PayoutRequest
// @Failure 404 {object} ErrorResponse
// @Router /payouts/{payoutId} [get]
func (ps *PayoutService) GetPayout(w http.ResponseWriter, r *http.Request) {
	payoutID := chi.URLParam(r, "payoutId")

	payout, err := ps.fetchPayout(payoutID)
	if err != nil {
		writePayoutError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payout)
}

// ListPayouts retrieves payouts with optional filters
// @Summary List payouts
// @Description Paginated payout listing with optional status and date-range filters
// @Tags payouts
// @Produce json
// @Param status query string false "Filter by status"
// @Param from query string false "Created-at lower bound (RFC 3339)"
// @Param to query string false "Created-at upper bound (RFC 3339)"
// @Param page query int false "Page number (default 1)"
// @Param pageSize query int false "Page size (default 20, max 100)"
// @Success 200 {object} models.PayoutPage
// @Failure 500 {object} ErrorResponse
// @Router /payouts [get]
func (ps *PayoutService) ListPayouts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	var from, to *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = &t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = &t
		}
	}

	page := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	pageSize := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil && v > 0 && v <= 100 {
		pageSize = v
	}

	pageResp, err := ps.fetchPayouts(status, from, to, page, pageSize)
	if err != nil {
		log.Printf("[PAYOUT] List failed: %v", err)
		SendErrorResponse(w, "Failed to fetch payouts", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pageResp)
}

// GetAccountLedger returns an account's balance and recent ledger entries
// @Summary Account ledger statement
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Param limit query int false "Max entries (default 100, max 500)"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/ledger [get]
func (ps *PayoutService) GetAccountLedger(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	balance, err := ps.ledger.Balance(accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, fmt.Sprintf("account %s not found", accountID), http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := ps.ledger.History(accountID, limit)
	if err != nil {
		log.Printf("[PAYOUT] Ledger history failed for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch ledger entries", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"account_id": accountID,
		"balance":    balance,
		"entries":    entries,
	})
}

func writePayoutError(w http.ResponseWriter, err error) {
	switch {
	case err == ErrPayoutNotFound || err == ErrPaymentNotFound || err == ErrBatchNotFound:
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case err == ErrInsufficientBalance:
		SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
	case err == ErrInvalidAmount, strings.Contains(err.Error(), ErrInvalidBankDetails.Error()):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case IsInvalidStateTransition(err):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	default:
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
	}
}

// actorFrom returns the authenticated admin identity set by the auth
// middleware. Every mutating call receives it as an explicit parameter;
// services never read it from ambient state themselves.
func actorFrom(r *http.Request) string {
	if v, ok := r.Context().Value("actor").(string); ok && v != "" {
		return v
	}
	return "unknown"
}
