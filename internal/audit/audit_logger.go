package audit

import (
	"encoding/json"
	"log"
	"time"
)

// Event is one structured audit record. Every money movement and every
// lifecycle transition emits one; the stream is the source of truth for
// manual reconciliation.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	ReferenceID string    `json:"reference_id"`
	AccountID   string    `json:"account_id"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
	Details     any       `json:"details"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogTransfer(referenceID, source, destination string, amount int64, status string) {
	event := Event{
		Timestamp:   time.Now(),
		EventType:   "TRANSFER",
		ReferenceID: referenceID,
		Amount:      amount,
		Status:      status,
		Details: map[string]string{
			"source":      source,
			"destination": destination,
		},
	}
	a.log(event)
}

func (a *Logger) LogError(referenceID, accountID string, err error) {
	event := Event{
		Timestamp:   time.Now(),
		EventType:   "ERROR",
		ReferenceID: referenceID,
		AccountID:   accountID,
		Status:      "FAILED",
		Details:     map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) LogOperation(referenceID, accountID, operation, details string) {
	event := Event{
		Timestamp:   time.Now(),
		EventType:   operation,
		ReferenceID: referenceID,
		AccountID:   accountID,
		Status:      "SUCCESS",
		Details:     map[string]string{"details": details},
	}
	a.log(event)
}

// LogReconciliationRequired flags a gateway-succeeded / persist-failed split.
// These events demand a human: the money moved at the gateway but the local
// record is missing or stale.
func (a *Logger) LogReconciliationRequired(gatewayReference, paymentID string, amount int64, cause error) {
	event := Event{
		Timestamp:   time.Now(),
		EventType:   "RECONCILIATION_REQUIRED",
		ReferenceID: paymentID,
		Amount:      amount,
		Status:      "PENDING_REVIEW",
		Details: map[string]string{
			"gateway_reference": gatewayReference,
			"error":             cause.Error(),
		},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
