package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

// Gateway abstracts the payment processor used for refunds. Transfer
// execution for payouts is manual/semi-automated upstream and is not part of
// this interface. Implementations must be bounded-time: the context deadline
// caps every call.
type Gateway interface {
	// Refund reverses amount paise of the original transaction and returns
	// the gateway's refund reference. Implementations never retry; a timeout
	// or failure is surfaced to the caller verbatim.
	Refund(ctx context.Context, transactionID string, amount int64) (string, error)
}

// HTTPGateway talks to the processor's REST refund endpoint.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway builds a gateway client from gateway.base_url and
// gateway.timeout config. The default timeout is 30s, the upper bound for
// money-moving calls.
func NewHTTPGateway() *HTTPGateway {
	viper.SetDefault("gateway.base_url", "https://gateway.example.com/v1")
	viper.SetDefault("gateway.timeout", 30*time.Second)

	return &HTTPGateway{
		baseURL: viper.GetString("gateway.base_url"),
		client:  &http.Client{Timeout: viper.GetDuration("gateway.timeout")},
	}
}

func (g *HTTPGateway) Refund(ctx context.Context, transactionID string, amount int64) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"transactionId": transactionID,
		"amount":        amount,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/refunds", g.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	log.Printf("[GATEWAY] Refund request for transaction %s, amount %d", transactionID, amount)
	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			log.Printf("[GATEWAY] Refund timed out for transaction %s", transactionID)
			return "", ErrGatewayTimeout
		}
		return "", &GatewayError{Code: "NETWORK", Message: err.Error()}
	}
	defer resp.Body.Close()

	var result struct {
		RefundID string `json:"refundId"`
		Code     string `json:"code"`
		Message  string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &GatewayError{Code: "BAD_RESPONSE", Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK || result.RefundID == "" {
		log.Printf("[GATEWAY] Refund declined for transaction %s: %s %s", transactionID, result.Code, result.Message)
		return "", &GatewayError{Code: result.Code, Message: result.Message}
	}

	log.Printf("[GATEWAY] Refund confirmed for transaction %s: %s", transactionID, result.RefundID)
	return result.RefundID, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
