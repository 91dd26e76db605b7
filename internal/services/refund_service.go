package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/commispay/backend/internal/audit"
	"github.com/commispay/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// RefundService reverses completed online payments through the abstract
// gateway. It performs zero automatic retries on the gateway call: a retry
// after an ambiguous failure could move money twice. If the gateway refund
// succeeds but persistence fails afterwards, the event is flagged for manual
// reconciliation instead of being compensated blindly.
type RefundService struct {
	db        *sql.DB
	redis     *redis.Client
	gateway   Gateway
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewRefundService(db *sql.DB, redisClient *redis.Client, gateway Gateway) *RefundService {
	return &RefundService{
		db:        db,
		redis:     redisClient,
		gateway:   gateway,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

type CreateRefundRequest struct {
	PaymentID string `json:"paymentId" validate:"required"`
	// Amount in paise; zero or omitted means full refund.
	Amount int64 `json:"amount" validate:"omitempty,gt=0"`
}

// createRefund validates preconditions, calls the gateway, and persists the
// refund record. Amount 0 means full refund.
func (rs *RefundService) createRefund(ctx context.Context, paymentID string, amount int64, actor string) (*models.RefundRecord, error) {
	payment, existing, err := rs.fetchPaymentWithRefund(paymentID)
	if err != nil {
		return nil, err
	}

	if payment.Status != models.PaymentCompleted {
		return nil, fmt.Errorf("payment %s is not completed (status %s)", paymentID, payment.Status)
	}
	if payment.Method != models.PaymentMethodOnline {
		return nil, fmt.Errorf("payment %s was not made online; refund it manually", paymentID)
	}
	if payment.GatewayTransactionID == "" {
		return nil, fmt.Errorf("payment %s has no gateway transaction id", paymentID)
	}
	if existing != nil {
		return nil, ErrRefundExists
	}

	if amount == 0 {
		amount = payment.Amount
	}
	if amount < 0 || amount > payment.Amount {
		return nil, fmt.Errorf("%w: refund amount %d exceeds payment amount %d", ErrInvalidAmount, amount, payment.Amount)
	}

	viper.SetDefault("gateway.timeout", 30*time.Second)
	gwCtx, cancel := context.WithTimeout(ctx, viper.GetDuration("gateway.timeout"))
	defer cancel()

	// Money moves here. No retry on any failure; the error goes back to the
	// caller verbatim and nothing is persisted.
	gatewayRefundID, err := rs.gateway.Refund(gwCtx, payment.GatewayTransactionID, amount)
	if err != nil {
		rs.audit.LogError(payment.ID, payment.GatewayTransactionID, err)
		return nil, err
	}

	refund := &models.RefundRecord{
		ID:              uuid.New().String(),
		PaymentID:       payment.ID,
		RefundAmount:    amount,
		IsFull:          amount == payment.Amount,
		GatewayRefundID: gatewayRefundID,
		Status:          "completed",
		CreatedBy:       actor,
		CreatedAt:       time.Now(),
	}

	tx, err := rs.db.Begin()
	if err != nil {
		rs.reconciliationRequired(payment, refund, err)
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO refunds (id, payment_id, refund_amount, is_full, gateway_refund_id, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		refund.ID, refund.PaymentID, refund.RefundAmount, refund.IsFull, refund.GatewayRefundID,
		refund.Status, refund.CreatedBy, refund.CreatedAt)
	if err != nil {
		rs.reconciliationRequired(payment, refund, err)
		return nil, err
	}

	if refund.IsFull {
		if _, err := tx.Exec(`UPDATE payments SET status = $1 WHERE id = $2`, models.PaymentRefunded, payment.ID); err != nil {
			rs.reconciliationRequired(payment, refund, err)
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		rs.reconciliationRequired(payment, refund, err)
		return nil, err
	}

	rs.audit.LogTransfer(refund.ID, payment.ID, payment.GatewayTransactionID, -amount, "REFUNDED")
	return refund, nil
}

// reconciliationRequired records a gateway-succeeded / persist-failed split.
// Manual reconciliation beats an automated reversal that could double-move
// money.
func (rs *RefundService) reconciliationRequired(payment *models.Payment, refund *models.RefundRecord, cause error) {
	rs.audit.LogReconciliationRequired(refund.GatewayRefundID, payment.ID, refund.RefundAmount, cause)

	if rs.redis == nil {
		return
	}
	data, _ := json.Marshal(map[string]interface{}{
		"payment_id":        payment.ID,
		"gateway_refund_id": refund.GatewayRefundID,
		"refund_amount":     refund.RefundAmount,
		"error":             cause.Error(),
		"flagged_at":        time.Now(),
	})
	if err := rs.redis.RPush(context.Background(), "reconciliation_queue", string(data)).Err(); err != nil {
		log.Printf("[REFUND] Failed to queue reconciliation event for payment %s: %v", payment.ID, err)
	}
}

func (rs *RefundService) fetchPaymentWithRefund(paymentID string) (*models.Payment, *models.RefundRecord, error) {
	var p models.Payment
	err := rs.db.QueryRow(`
		SELECT id, booking_reference, amount, currency, method, status, COALESCE(gateway_transaction_id, ''), created_at
		FROM payments
		WHERE id = $1`, paymentID).Scan(
		&p.ID, &p.BookingReference, &p.Amount, &p.Currency, &p.Method, &p.Status, &p.GatewayTransactionID, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, ErrPaymentNotFound
		}
		return nil, nil, err
	}

	var r models.RefundRecord
	err = rs.db.QueryRow(`
		SELECT id, payment_id, refund_amount, is_full, gateway_refund_id, status, created_by, created_at
		FROM refunds
		WHERE payment_id = $1`, paymentID).Scan(
		&r.ID, &r.PaymentID, &r.RefundAmount, &r.IsFull, &r.GatewayRefundID, &r.Status, &r.CreatedBy, &r.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return &p, nil, nil
		}
		return nil, nil, err
	}

	return &p, &r, nil
}

// CreateRefund handles refund creation
// @Summary Refund a payment
// @Description Reverse a completed online payment via the gateway, fully or partially. No automatic retries on gateway failure.
// @Tags refunds
// @Accept json
// @Produce json
// @Param request body CreateRefundRequest true "Refund request"
// @Success 201 {object} models.RefundRecord
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /refunds [post]
func (rs *RefundService) CreateRefund(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateRefundRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := rs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	refund, err := rs.createRefund(r.Context(), req.PaymentID, req.Amount, actor)
	if err != nil {
		log.Printf("[REFUND] Create failed for payment %s: %v", req.PaymentID, err)
		writeRefundError(w, err)
		return
	}

	log.Printf("[REFUND] Refund %s created for payment %s by %s", refund.ID, req.PaymentID, actor)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(refund)
}

func writeRefundError(w http.ResponseWriter, err error) {
	var gwErr *GatewayError
	switch {
	case err == ErrPaymentNotFound:
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case err == ErrRefundExists:
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case err == ErrGatewayTimeout:
		SendErrorResponse(w, err.Error(), http.StatusBadGateway, nil)
	case asGatewayError(err, &gwErr):
		SendErrorResponse(w, gwErr.Error(), http.StatusBadGateway, nil)
	default:
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	}
}

func asGatewayError(err error, target **GatewayError) bool {
	if e, ok := err.(*GatewayError); ok {
		*target = e
		return true
	}
	return false
}
