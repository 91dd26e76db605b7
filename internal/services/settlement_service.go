package services

import (
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/commispay/backend/internal/audit"
	"github.com/commispay/backend/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
)

// SettlementService groups processing payouts into batches for bank
// transmission and reconciles the bank's batch-level verdict back onto the
// member payouts. Completion is all-or-nothing per the bank file's
// confirmation semantics; a failed batch is terminal and cancels every
// member with a compensating credit.
type SettlementService struct {
	db        *sql.DB
	payouts   *PayoutService
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewSettlementService(db *sql.DB, payouts *PayoutService) *SettlementService {
	return &SettlementService{
		db:        db,
		payouts:   payouts,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

type CreateBatchRequest struct {
	PayoutIDs      []string `json:"payoutIds" validate:"required,min=1,max=500,dive,required"`
	SettlementDate string   `json:"settlementDate" validate:"required,datetime=2006-01-02"`
}

type batchActionRequest struct {
	BankReference string `json:"bankReference,omitempty" validate:"omitempty,max=64"`
	Reason        string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// createBatch validates that every referenced payout is currently processing
// and unbatched, then records the batch membership. Total is the sum of
// member net amounts.
func (ss *SettlementService) createBatch(payoutIDs []string, settlementDate time.Time, actor string) (*models.SettlementBatch, error) {
	// Lock members in a stable order so two overlapping batch creations
	// cannot deadlock on each other's rows.
	ids := append([]string(nil), payoutIDs...)
	sort.Strings(ids)

	tx, err := ss.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	batch := &models.SettlementBatch{
		ID:             uuid.New().String(),
		BatchNumber:    fmt.Sprintf("STL-%s-%s", settlementDate.Format("20060102"), strings.ToUpper(uuid.New().String()[:6])),
		SettlementDate: settlementDate,
		PayoutIDs:      ids,
		Currency:       "INR",
		Status:         models.SettlementPending,
		CreatedBy:      actor,
		CreatedAt:      time.Now(),
	}

	var total int64
	for _, payoutID := range ids {
		payout, err := ss.payouts.lockPayout(tx, payoutID)
		if err != nil {
			return nil, err
		}
		if payout.Status != models.PayoutProcessing {
			return nil, &InvalidStateTransitionError{Entity: "payout", ID: payoutID, From: string(payout.Status), To: "batched"}
		}

		result, err := tx.Exec(`UPDATE payouts SET batch_id = $1 WHERE id = $2 AND batch_id IS NULL`, batch.ID, payoutID)
		if err != nil {
			return nil, err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("payout %s already belongs to a settlement batch", payoutID)
		}

		total += payout.NetAmount
	}
	batch.TotalAmount = total

	_, err = tx.Exec(`
		INSERT INTO settlement_batches
		(id, batch_number, settlement_date, total_amount, currency, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		batch.ID, batch.BatchNumber, batch.SettlementDate, batch.TotalAmount, batch.Currency,
		batch.Status, batch.CreatedBy, batch.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	ss.audit.LogOperation(batch.ID, "", "BATCH_CREATED",
		fmt.Sprintf("number=%s members=%d total=%d by=%s", batch.BatchNumber, len(payoutIDs), total, actor))
	return batch, nil
}

// completeBatch transitions every member processing -> completed as one
// atomic set. The stored total is re-checked against the members' net
// amounts first; any drift halts completion for manual audit.
func (ss *SettlementService) completeBatch(batchID, bankReference, actor string) (*models.SettlementBatch, error) {
	tx, err := ss.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	batch, err := ss.lockBatch(tx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != models.SettlementPending && batch.Status != models.SettlementProcessing {
		return nil, &InvalidStateTransitionError{Entity: "batch", ID: batchID, From: string(batch.Status), To: string(models.SettlementCompleted)}
	}

	members, err := ss.fetchMembersTx(tx, batchID)
	if err != nil {
		return nil, err
	}

	var computed int64
	for _, m := range members {
		computed += m.NetAmount
	}
	if computed != batch.TotalAmount {
		return nil, &SettlementIntegrityError{BatchID: batchID, Stored: batch.TotalAmount, Computed: computed}
	}

	// One member failing aborts the whole transaction: no partial-batch
	// completion is possible.
	for _, m := range members {
		if err := ss.payouts.CompleteTx(tx, m.ID, actor); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	result, err := tx.Exec(`
		UPDATE settlement_batches
		SET status = $1, bank_reference = $2, total_amount = $3, completed_at = $4
		WHERE id = $5 AND status IN ('pending', 'processing')`,
		models.SettlementCompleted, bankReference, computed, now, batchID)
	if err != nil {
		return nil, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, &InvalidStateTransitionError{Entity: "batch", ID: batchID, From: string(batch.Status), To: string(models.SettlementCompleted)}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	batch.Status = models.SettlementCompleted
	batch.BankReference = bankReference
	batch.TotalAmount = computed
	batch.CompletedAt = &now
	batch.PayoutIDs = memberIDs(members)

	ss.audit.LogOperation(batch.ID, "", "BATCH_COMPLETED",
		fmt.Sprintf("number=%s bank_ref=%s members=%d by=%s", batch.BatchNumber, bankReference, len(members), actor))
	ss.logStatusReport(batch, "ACSC")
	return batch, nil
}

// failBatch marks the batch failed and cancels every member payout with a
// compensating credit. Failed batches are terminal; a replacement batch is
// created fresh.
func (ss *SettlementService) failBatch(batchID, reason, actor string) (*models.SettlementBatch, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("failure reason is required")
	}

	tx, err := ss.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	batch, err := ss.lockBatch(tx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != models.SettlementPending && batch.Status != models.SettlementProcessing {
		return nil, &InvalidStateTransitionError{Entity: "batch", ID: batchID, From: string(batch.Status), To: string(models.SettlementFailed)}
	}

	members, err := ss.fetchMembersTx(tx, batchID)
	if err != nil {
		return nil, err
	}

	for _, m := range members {
		if err := ss.payouts.CancelTx(tx, m.ID, actor); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	result, err := tx.Exec(`
		UPDATE settlement_batches
		SET status = $1, failure_reason = $2, failed_at = $3
		WHERE id = $4 AND status IN ('pending', 'processing')`,
		models.SettlementFailed, reason, now, batchID)
	if err != nil {
		return nil, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, &InvalidStateTransitionError{Entity: "batch", ID: batchID, From: string(batch.Status), To: string(models.SettlementFailed)}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	batch.Status = models.SettlementFailed
	batch.FailureReason = reason
	batch.FailedAt = &now
	batch.PayoutIDs = memberIDs(members)

	ss.audit.LogOperation(batch.ID, "", "BATCH_FAILED",
		fmt.Sprintf("number=%s reason=%s members=%d by=%s", batch.BatchNumber, reason, len(members), actor))
	ss.logStatusReport(batch, "RJCT")
	return batch, nil
}

func (ss *SettlementService) lockBatch(tx *sql.Tx, batchID string) (*models.SettlementBatch, error) {
	var b models.SettlementBatch
	err := tx.QueryRow(`
		SELECT id, batch_number, settlement_date, total_amount, currency, status,
		       COALESCE(bank_reference, ''), COALESCE(failure_reason, ''), COALESCE(created_by, ''), created_at
		FROM settlement_batches
		WHERE id = $1
		FOR UPDATE`, batchID).Scan(
		&b.ID, &b.BatchNumber, &b.SettlementDate, &b.TotalAmount, &b.Currency, &b.Status,
		&b.BankReference, &b.FailureReason, &b.CreatedBy, &b.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (ss *SettlementService) fetchBatch(batchID string) (*models.SettlementBatch, error) {
	var b models.SettlementBatch
	err := ss.db.QueryRow(`
		SELECT id, batch_number, settlement_date, total_amount, currency, status,
		       COALESCE(bank_reference, ''), COALESCE(failure_reason, ''), COALESCE(created_by, ''),
		       created_at, completed_at, failed_at
		FROM settlement_batches
		WHERE id = $1`, batchID).Scan(
		&b.ID, &b.BatchNumber, &b.SettlementDate, &b.TotalAmount, &b.Currency, &b.Status,
		&b.BankReference, &b.FailureReason, &b.CreatedBy, &b.CreatedAt, &b.CompletedAt, &b.FailedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}

	members, err := ss.fetchMembers(batchID)
	if err != nil {
		return nil, err
	}
	b.PayoutIDs = memberIDs(members)
	return &b, nil
}

func (ss *SettlementService) fetchMembersTx(tx *sql.Tx, batchID string) ([]models.PayoutRequest, error) {
	rows, err := tx.Query(`
		SELECT id, account_id, requested_amount, tds_amount, net_amount, currency, bank_details, status,
		       COALESCE(gateway_transaction_id, ''), COALESCE(notes, ''), created_at
		FROM payouts
		WHERE batch_id = $1
		ORDER BY created_at`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMembers(rows)
}

func (ss *SettlementService) fetchMembers(batchID string) ([]models.PayoutRequest, error) {
	rows, err := ss.db.Query(`
		SELECT id, account_id, requested_amount, tds_amount, net_amount, currency, bank_details, status,
		       COALESCE(gateway_transaction_id, ''), COALESCE(notes, ''), created_at
		FROM payouts
		WHERE batch_id = $1
		ORDER BY created_at`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMembers(rows)
}

func scanMembers(rows *sql.Rows) ([]models.PayoutRequest, error) {
	members := []models.PayoutRequest{}
	for rows.Next() {
		p, err := scanPayoutCore(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *p)
	}
	return members, rows.Err()
}

func memberIDs(members []models.PayoutRequest) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids
}

// ISO 20022 bank file

// buildPacs008 renders the batch as a pacs.008 credit transfer message, one
// credit transfer per member payout, net amounts in rupees.
func (ss *SettlementService) buildPacs008(batch *models.SettlementBatch, members []models.PayoutRequest) *pacs_v08.FIToFICustomerCreditTransferV08 {
	msgID := uuid.New().String()
	now := time.Now()
	settlementDate := batch.SettlementDate

	transfers := make([]pacs_v08.CreditTransferTransaction39, 0, len(members))
	for _, m := range members {
		m := m
		transfers = append(transfers, pacs_v08.CreditTransferTransaction39{
			PmtId: pacs_v08.PaymentIdentification7{
				InstrId:    &[]common.Max35Text{common.Max35Text(m.ID)}[0],
				EndToEndId: common.Max35Text(batch.BatchNumber),
				TxId:       &[]common.Max35Text{common.Max35Text(m.ID)}[0],
			},
			IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(m.Currency),
				Value: float64(m.NetAmount) / 100,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			ChrgBr:        "SLEV",
			DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
				FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
					BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("COMMISPAY")}[0],
				},
			},
			Dbtr: pacs_v08.PartyIdentification135{
				Nm: &[]common.Max140Text{common.Max140Text("Commispay Settlements")}[0],
			},
			CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
				FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
					ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
						MmbId: common.Max35Text(m.BankDetails.IFSC),
					},
				},
			},
			Cdtr: pacs_v08.PartyIdentification135{
				Nm: &[]common.Max140Text{common.Max140Text(m.BankDetails.AccountName)}[0],
			},
		})
	}

	return &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: common.Max15NumericText(fmt.Sprintf("%d", len(members))),
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(batch.Currency),
				Value: float64(batch.TotalAmount) / 100,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: transfers,
	}
}

// logStatusReport emits a pacs.002 status report documenting the batch
// outcome (ACSC for completed, RJCT for failed).
func (ss *SettlementService) logStatusReport(batch *models.SettlementBatch, status string) {
	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(uuid.New().String()),
			CreDtTm: common.ISODateTime(time.Now()),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(batch.BatchNumber)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}

	data, err := xml.Marshal(doc)
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to marshal pacs.002 for batch %s: %v", batch.ID, err)
		return
	}
	log.Printf("[SETTLEMENT] pacs.002 for batch %s: %s", batch.BatchNumber, string(data))
}

// HTTP handlers

// CreateBatch handles settlement batch creation
// @Summary Create a settlement batch
// @Description Group processing payouts for bank transmission; all members must be processing and unbatched
// @Tags settlements
// @Accept json
// @Produce json
// @Param request body CreateBatchRequest true "Batch request"
// @Success 201 {object} models.SettlementBatch
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /settlements [post]
func (ss *SettlementService) CreateBatch(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateBatchRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ss.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	settlementDate, err := time.Parse("2006-01-02", req.SettlementDate)
	if err != nil {
		SendErrorResponse(w, "Invalid settlement date", http.StatusBadRequest, nil)
		return
	}

	batch, err := ss.createBatch(req.PayoutIDs, settlementDate, actor)
	if err != nil {
		log.Printf("[SETTLEMENT] Batch creation failed: %v", err)
		writeBatchError(w, err)
		return
	}

	log.Printf("[SETTLEMENT] Batch %s created with %d payouts by %s", batch.BatchNumber, len(batch.PayoutIDs), actor)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(batch)
}

// CompleteBatch handles batch completion
// @Summary Complete a settlement batch
// @Description Mark every member payout completed as one atomic set after bank confirmation
// @Tags settlements
// @Accept json
// @Produce json
// @Param batchId path string true "Batch ID"
// @Success 200 {object} models.SettlementBatch
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /settlements/{batchId}/complete [post]
func (ss *SettlementService) CompleteBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")
	actor := actorFrom(r)

	var req batchActionRequest
	if err := ss.decodeBatchAction(w, r, &req); err != nil {
		return
	}
	if strings.TrimSpace(req.BankReference) == "" {
		SendErrorResponse(w, "Bank reference is required", http.StatusBadRequest, nil)
		return
	}

	batch, err := ss.completeBatch(batchID, req.BankReference, actor)
	if err != nil {
		log.Printf("[SETTLEMENT] Batch completion failed for %s: %v", batchID, err)
		writeBatchError(w, err)
		return
	}

	log.Printf("[SETTLEMENT] Batch %s completed with bank reference %s by %s", batch.BatchNumber, req.BankReference, actor)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(batch)
}

// FailBatch handles batch failure
// @Summary Fail a settlement batch
// @Description Mark the batch failed and cancel every member payout with a compensating credit
// @Tags settlements
// @Accept json
// @Produce json
// @Param batchId path string true "Batch ID"
// @Success 200 {object} models.SettlementBatch
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /settlements/{batchId}/fail [post]
func (ss *SettlementService) FailBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")
	actor := actorFrom(r)

	var req batchActionRequest
	if err := ss.decodeBatchAction(w, r, &req); err != nil {
		return
	}

	batch, err := ss.failBatch(batchID, req.Reason, actor)
	if err != nil {
		log.Printf("[SETTLEMENT] Batch failure marking failed for %s: %v", batchID, err)
		writeBatchError(w, err)
		return
	}

	log.Printf("[SETTLEMENT] Batch %s failed (%s), %d payouts cancelled by %s", batch.BatchNumber, req.Reason, len(batch.PayoutIDs), actor)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(batch)
}

// GetBatch retrieves one settlement batch
// @Summary Get settlement batch by ID
// @Tags settlements
// @Produce json
// @Param batchId path string true "Batch ID"
// @Success 200 {object} models.SettlementBatch
// @Failure 404 {object} ErrorResponse
// @Router /settlements/{batchId} [get]
func (ss *SettlementService) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := ss.fetchBatch(chi.URLParam(r, "batchId"))
	if err != nil {
		writeBatchError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(batch)
}

// GetBankFile renders the batch as a pacs.008 credit transfer file
// @Summary Download the batch bank file
// @Description pacs.008 XML for transmission to the settlement bank
// @Tags settlements
// @Produce xml
// @Param batchId path string true "Batch ID"
// @Success 200 {string} string "pacs.008 XML"
// @Failure 404 {object} ErrorResponse
// @Router /settlements/{batchId}/bank-file [get]
func (ss *SettlementService) GetBankFile(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")

	batch, err := ss.fetchBatch(batchID)
	if err != nil {
		writeBatchError(w, err)
		return
	}

	members, err := ss.fetchMembers(batchID)
	if err != nil {
		writeBatchError(w, err)
		return
	}

	doc := ss.buildPacs008(batch, members)
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		SendErrorResponse(w, "Failed to render bank file", http.StatusInternalServerError, nil)
		return
	}

	// First download moves a fresh batch to processing: the file is
	// presumed on its way to the bank.
	if batch.Status == models.SettlementPending {
		if _, err := ss.db.Exec(`UPDATE settlement_batches SET status = $1 WHERE id = $2 AND status = $3`,
			models.SettlementProcessing, batchID, models.SettlementPending); err != nil {
			log.Printf("[SETTLEMENT] Failed to mark batch %s processing: %v", batchID, err)
		}
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	w.Write(xmlData)
}

func (ss *SettlementService) decodeBatchAction(w http.ResponseWriter, r *http.Request, req *batchActionRequest) error {
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1_048_576))
		dec.DisallowUnknownFields()
		if err := dec.Decode(req); err != nil {
			SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return err
		}
	}
	if err := ss.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return err
	}
	return nil
}

func writeBatchError(w http.ResponseWriter, err error) {
	var integrity *SettlementIntegrityError
	switch {
	case err == ErrBatchNotFound || err == ErrPayoutNotFound:
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case IsInvalidStateTransition(err):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case asSettlementIntegrityError(err, &integrity):
		SendErrorResponse(w, integrity.Error(), http.StatusInternalServerError, nil)
	default:
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	}
}

func asSettlementIntegrityError(err error, target **SettlementIntegrityError) bool {
	if e, ok := err.(*SettlementIntegrityError); ok {
		*target = e
		return true
	}
	return false
}
